package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasi-preset-args/wasm"
)

func TestEncodeEmptyModule(t *testing.T) {
	m := &wasm.Module{}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(data, header) {
		t.Errorf("empty module = %v, want bare header", data)
	}
}

// fullModule exercises every section the encoder can emit.
func fullModule() *wasm.Module {
	i32Const0 := []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}
	i32Const42 := []byte{wasm.OpI32Const, 0x2A, wasm.OpEnd}
	refFunc2 := []byte{wasm.OpRefFunc, 0x02, wasm.OpEnd}
	memMax := uint64(16)
	start := uint32(1)
	dataCount := uint32(3)

	return &wasm.Module{
		Types: []wasm.FuncType{
			{},
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI64}, Results: []wasm.ValType{wasm.ValF64}},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
			{Module: "env", Name: "t", Desc: wasm.ImportDesc{
				Kind:  wasm.KindTable,
				Table: &wasm.TableType{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 1}},
			}},
			{Module: "env", Name: "m", Desc: wasm.ImportDesc{
				Kind:   wasm.KindMemory,
				Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &memMax}},
			}},
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{
				Kind:   wasm.KindGlobal,
				Global: &wasm.GlobalType{ValType: wasm.ValI32},
			}},
		},
		Funcs: []uint32{0, 0},
		Tables: []wasm.TableType{
			{ElemType: byte(wasm.ValExtern), Limits: wasm.Limits{Min: 0}},
		},
		Memories: []wasm.MemoryType{
			{Limits: wasm.Limits{Min: 2, Max: &memMax}},
			{Limits: wasm.Limits{Min: 1, Memory64: true}},
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: i32Const42},
		},
		Exports: []wasm.Export{
			{Name: "run", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
			{Name: "counter", Kind: wasm.KindGlobal, Idx: 1},
		},
		Start: &start,
		Elements: []wasm.Element{
			{Flags: 0, Offset: i32Const0, FuncIdxs: []uint32{1, 2}},
			{Flags: 1, ElemKind: 0x00, FuncIdxs: []uint32{2}},
			{Flags: 5, RefType: wasm.ValFuncRef, Exprs: [][]byte{refFunc2}},
		},
		DataCount: &dataCount,
		Code: []wasm.FuncBody{
			{Code: []byte{wasm.OpEnd}},
			{
				Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI64}},
				Code:   []byte{wasm.OpNop, wasm.OpEnd},
			},
		},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: i32Const0, Init: []byte("hello")},
			{Flags: 1, Init: []byte{0xAA}},
			{Flags: 2, MemIdx: 1, Offset: i32Const0, Init: []byte{0xBB, 0xCC}},
		},
		CustomSections: []wasm.CustomSection{
			{Name: "producers", Data: []byte{0x00}, After: wasm.SectionData},
		},
	}
}

// sectionIDOrder walks the top-level section headers of an encoded module.
func sectionIDOrder(t *testing.T, data []byte) []byte {
	t.Helper()
	var ids []byte
	pos := 8
	for pos < len(data) {
		id := data[pos]
		pos++
		size := uint32(0)
		shift := uint(0)
		for {
			b := data[pos]
			pos++
			size |= uint32(b&0x7F) << shift
			if b&0x80 == 0 {
				break
			}
			shift += 7
		}
		ids = append(ids, id)
		pos += int(size)
	}
	return ids
}

func TestEncodeParseRoundTrip(t *testing.T) {
	first, err := fullModule().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	m, err := wasm.ParseModule(first)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	second, err := m.Encode()
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("encode/parse/encode is not byte stable")
	}

	if len(m.Types) != 2 || len(m.Imports) != 4 || len(m.Funcs) != 2 {
		t.Errorf("parsed counts: types %d imports %d funcs %d", len(m.Types), len(m.Imports), len(m.Funcs))
	}
	if m.Start == nil || *m.Start != 1 {
		t.Errorf("Start = %v", m.Start)
	}
	if m.DataCount == nil || *m.DataCount != 3 {
		t.Errorf("DataCount = %v", m.DataCount)
	}
	if len(m.Elements) != 3 || len(m.Data) != 3 {
		t.Errorf("elements %d data %d", len(m.Elements), len(m.Data))
	}
	if !m.Memories[1].Limits.Memory64 {
		t.Error("memory64 flag lost")
	}
	if len(m.CustomSections) != 1 || m.CustomSections[0].Name != "producers" {
		t.Errorf("custom sections = %+v", m.CustomSections)
	}
}

func TestEncodeElementSegments(t *testing.T) {
	data, err := fullModule().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	active := m.Elements[0]
	if active.Flags != 0 || len(active.FuncIdxs) != 2 || active.FuncIdxs[1] != 2 {
		t.Errorf("active segment = %+v", active)
	}
	passive := m.Elements[1]
	if passive.Flags != 1 || passive.ElemKind != 0x00 || len(passive.FuncIdxs) != 1 {
		t.Errorf("passive segment = %+v", passive)
	}
	exprs := m.Elements[2]
	if exprs.Flags != 5 || exprs.RefType != wasm.ValFuncRef || len(exprs.Exprs) != 1 {
		t.Errorf("expr segment = %+v", exprs)
	}
	if !bytes.Equal(exprs.Exprs[0], []byte{wasm.OpRefFunc, 0x02, wasm.OpEnd}) {
		t.Errorf("expr bytes = %v", exprs.Exprs[0])
	}
}

func TestEncodeDataCountBeforeCode(t *testing.T) {
	data, err := fullModule().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	ids := sectionIDOrder(t, data)
	sawDataCount := false
	for _, id := range ids {
		if id == wasm.SectionDataCount {
			sawDataCount = true
		}
		if id == wasm.SectionCode && !sawDataCount {
			t.Fatal("code section precedes data count section")
		}
	}
	if !sawDataCount {
		t.Fatal("data count section missing")
	}
}

func TestEncodeCustomSectionsLast(t *testing.T) {
	data, err := fullModule().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ids := sectionIDOrder(t, data)
	if len(ids) == 0 || ids[len(ids)-1] != wasm.SectionCustom {
		t.Errorf("section order = %v, want custom section last", ids)
	}
}

func TestEncodeCustomSectionPlacement(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
		CustomSections: []wasm.CustomSection{
			{Name: "front", Data: []byte{0x01}},
			{Name: "mid", Data: []byte{0x02}, After: wasm.SectionType},
			{Name: "orphan", Data: []byte{0x03}, After: wasm.SectionData},
		},
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	ids := sectionIDOrder(t, data)
	want := []byte{
		wasm.SectionCustom,
		wasm.SectionType,
		wasm.SectionCustom,
		wasm.SectionFunction,
		wasm.SectionCode,
		wasm.SectionCustom, // anchor absent, emitted at the end
	}
	if !bytes.Equal(ids, want) {
		t.Errorf("section order = %v, want %v", ids, want)
	}
}

func TestEncodeInterleavedCustomSectionsStable(t *testing.T) {
	first := withSections(
		[]byte{wasm.SectionCustom, 0x06, 0x05, 'f', 'r', 'o', 'n', 't'},
		[]byte{wasm.SectionType, 0x01, 0x00},
		[]byte{wasm.SectionCustom, 0x04, 0x03, 'm', 'i', 'd'},
		[]byte{wasm.SectionMemory, 0x03, 0x01, 0x00, 0x01},
	)
	m, err := wasm.ParseModule(first)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	second, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("custom section placement lost across parse and re-encode")
	}
}

func TestEncodeSkipsEmptySections(t *testing.T) {
	m := &wasm.Module{Types: []wasm.FuncType{{}}}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ids := sectionIDOrder(t, data)
	if len(ids) != 1 || ids[0] != wasm.SectionType {
		t.Errorf("section ids = %v, want only type section", ids)
	}
}
