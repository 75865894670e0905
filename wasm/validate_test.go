package wasm_test

import (
	"strings"
	"testing"

	"github.com/wippyai/wasi-preset-args/wasm"
)

// validModule is a small command-shaped module that passes validation.
func validModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{},
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}},
		},
		Exports: []wasm.Export{
			{Name: "_start", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		},
		Code: []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}
}

func expectInvalid(t *testing.T, m *wasm.Module, fragment string) {
	t.Helper()
	err := m.Validate()
	if err == nil {
		t.Fatalf("Validate passed, want error containing %q", fragment)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Errorf("err = %q, want it to mention %q", err, fragment)
	}
}

func TestValidateAcceptsWellFormedModule(t *testing.T) {
	if err := validModule().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateFuncTypeIndex(t *testing.T) {
	m := validModule()
	m.Funcs[0] = 9
	expectInvalid(t, m, "type index")
}

func TestValidateImportTypeIndex(t *testing.T) {
	m := validModule()
	m.Imports[0].Desc.TypeIdx = 9
	expectInvalid(t, m, "type index")
}

func TestValidateFuncsWithoutTypes(t *testing.T) {
	m := &wasm.Module{Funcs: []uint32{0}, Code: []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}}}
	expectInvalid(t, m, "no types")
}

func TestValidateStartIndex(t *testing.T) {
	m := validModule()
	bad := uint32(5)
	m.Start = &bad
	expectInvalid(t, m, "start function index")
}

func TestValidateStartSignature(t *testing.T) {
	// Start must be () -> (), but index 0 is the (i32)->(i32) import.
	m := validModule()
	zero := uint32(0)
	m.Start = &zero
	expectInvalid(t, m, "signature")
}

func TestValidateElementFuncIndex(t *testing.T) {
	m := validModule()
	m.Elements = []wasm.Element{{
		Flags:    1,
		FuncIdxs: []uint32{9},
	}}
	expectInvalid(t, m, "function index")
}

func TestValidateElementTableIndex(t *testing.T) {
	// Active element segment but the module declares no tables.
	m := validModule()
	m.Elements = []wasm.Element{{
		Flags:    0,
		Offset:   []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
		FuncIdxs: []uint32{1},
	}}
	expectInvalid(t, m, "table index")
}

func TestValidateExportIndices(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(m *wasm.Module)
		fragment string
	}{
		{"func", func(m *wasm.Module) { m.Exports[0].Idx = 9 }, "function index"},
		{"memory", func(m *wasm.Module) { m.Exports[1].Idx = 9 }, "memory index"},
		{"table", func(m *wasm.Module) {
			m.Exports = append(m.Exports, wasm.Export{Name: "t", Kind: wasm.KindTable, Idx: 0})
		}, "table index"},
		{"global", func(m *wasm.Module) {
			m.Exports = append(m.Exports, wasm.Export{Name: "g", Kind: wasm.KindGlobal, Idx: 9})
		}, "global index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validModule()
			tt.mutate(m)
			expectInvalid(t, m, tt.fragment)
		})
	}
}

func TestValidateDuplicateExports(t *testing.T) {
	m := validModule()
	m.Exports = append(m.Exports, wasm.Export{Name: "_start", Kind: wasm.KindMemory, Idx: 0})
	expectInvalid(t, m, "duplicate export")
}

func TestValidateDataMemoryIndex(t *testing.T) {
	m := validModule()
	m.Data = []wasm.DataSegment{{
		Flags:  2,
		MemIdx: 3,
		Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
		Init:   []byte{1},
	}}
	expectInvalid(t, m, "memory index")
}

func TestValidatePassiveDataSkipsMemoryCheck(t *testing.T) {
	m := validModule()
	m.Memories = nil
	m.Exports = m.Exports[:1]
	m.Data = []wasm.DataSegment{{Flags: 1, Init: []byte{1}}}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateDataCountMismatch(t *testing.T) {
	m := validModule()
	count := uint32(2)
	m.DataCount = &count
	expectInvalid(t, m, "data count")
}

func TestValidateCodeCountMismatch(t *testing.T) {
	m := validModule()
	m.Code = nil
	expectInvalid(t, m, "code section")
}

func TestValidateSharedMemoryRequiresMax(t *testing.T) {
	m := validModule()
	m.Memories[0].Limits.Shared = true
	expectInvalid(t, m, "shared memory")
}

func TestValidateMemoryPageLimits(t *testing.T) {
	m := validModule()
	m.Memories[0].Limits.Min = wasm.MemoryMaxPages32 + 1
	expectInvalid(t, m, "exceeds maximum")

	m = validModule()
	tooBig := wasm.MemoryMaxPages32 + 1
	m.Memories[0].Limits.Max = &tooBig
	expectInvalid(t, m, "exceeds maximum")
}

func TestValidateMemory64PageLimit(t *testing.T) {
	m := validModule()
	m.Memories[0].Limits.Memory64 = true
	m.Memories[0].Limits.Min = wasm.MemoryMaxPages32 + 1
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateImportedMemoryLimits(t *testing.T) {
	m := validModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env",
		Name:   "mem",
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindMemory,
			Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: wasm.MemoryMaxPages32 + 1}},
		},
	})
	expectInvalid(t, m, "imported memory")
}
