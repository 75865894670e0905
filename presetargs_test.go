package presetargs_test

import (
	"errors"
	"testing"

	presetargs "github.com/wippyai/wasi-preset-args"
	rwerrors "github.com/wippyai/wasi-preset-args/errors"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// wasiCommandModule encodes a minimal command module importing both
// WASI argument functions and exporting a _start that calls them.
func wasiCommandModule(t *testing.T) []byte {
	t.Helper()

	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "wasi_snapshot_preview1", Name: "args_sizes_get", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "wasi_snapshot_preview1", Name: "args_get", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:    []uint32{1},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Exports: []wasm.Export{
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
			{Name: "_start", Kind: wasm.KindFunc, Idx: 2},
		},
		Code: []wasm.FuncBody{{
			Code: []byte{
				wasm.OpI32Const, 16, wasm.OpI32Const, 20, wasm.OpCall, 0x00, wasm.OpDrop,
				wasm.OpI32Const, 0xC0, 0x00, // 64
				wasm.OpI32Const, 0x80, 0x02, // 256
				wasm.OpCall, 0x01, wasm.OpDrop,
				wasm.OpEnd,
			},
		}},
	}

	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestRewrite(t *testing.T) {
	input := wasiCommandModule(t)

	out, err := presetargs.Rewrite(input, presetargs.Config{
		Args: []string{"--mode", "fast"},
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	m, err := wasm.ParseModuleValidate(out)
	if err != nil {
		t.Fatalf("rewritten module does not parse: %v", err)
	}
	if m.NumFuncs() != 5 {
		t.Errorf("NumFuncs = %d, want 5 (2 imports + _start + 2 proxies)", m.NumFuncs())
	}
	if m.Memories[0].Limits.Min != 2 {
		t.Errorf("memory min = %d, want 2", m.Memories[0].Limits.Min)
	}
	if !presetargs.IsRewritten(out) {
		t.Error("IsRewritten(rewritten) = false")
	}
	if presetargs.IsRewritten(input) {
		t.Error("IsRewritten(original) = true")
	}
}

func TestRewriteLeavesInputIntact(t *testing.T) {
	input := wasiCommandModule(t)
	snapshot := make([]byte, len(input))
	copy(snapshot, input)

	if _, err := presetargs.Rewrite(input, presetargs.Config{Args: []string{"x"}}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	for i := range input {
		if input[i] != snapshot[i] {
			t.Fatal("input bytes were modified")
		}
	}
}

func TestRewriteTwiceRejected(t *testing.T) {
	input := wasiCommandModule(t)
	once, err := presetargs.Rewrite(input, presetargs.Config{Args: []string{"a"}})
	if err != nil {
		t.Fatalf("first Rewrite: %v", err)
	}

	_, err = presetargs.Rewrite(once, presetargs.Config{Args: []string{"b"}})
	if err == nil {
		t.Fatal("second Rewrite should fail")
	}
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhasePlan, Kind: rwerrors.KindInvalidInput}) {
		t.Errorf("err = %v, want invalid_input", err)
	}
}

func TestRewriteMalformedInput(t *testing.T) {
	_, err := presetargs.Rewrite([]byte("not wasm"), presetargs.Config{Args: []string{"a"}})
	if err == nil {
		t.Fatal("expected error for malformed input")
	}
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhaseDecode, Kind: rwerrors.KindMalformedModule}) {
		t.Errorf("err = %v, want malformed_module", err)
	}
}

func TestRewriteNonWASIModule(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = presetargs.Rewrite(data, presetargs.Config{Args: []string{"a"}})
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhasePlan, Kind: rwerrors.KindImportNotFound}) {
		t.Errorf("err = %v, want import_not_found", err)
	}
}

func TestIsRewrittenMalformed(t *testing.T) {
	if presetargs.IsRewritten([]byte{0x00}) {
		t.Error("IsRewritten on garbage = true")
	}
}
