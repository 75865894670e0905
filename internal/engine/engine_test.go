package engine

import (
	"errors"
	"testing"

	rwerrors "github.com/wippyai/wasi-preset-args/errors"
	"github.com/wippyai/wasi-preset-args/internal/codegen"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// argsModule builds a minimal WASI command module importing both
// argument functions. Function index space: 0=args_sizes_get,
// 1=args_get, 2=_start.
func argsModule() *wasm.Module {
	startBody := codegen.NewEmitter().
		I32Const(16).
		I32Const(20).
		Call(0).
		Drop().
		I32Const(1024).
		I32Const(4096).
		Call(1).
		Drop().
		End().
		Copy()

	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: DefaultWASIModule, Name: FuncArgsSizesGet, Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: DefaultWASIModule, Name: FuncArgsGet, Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:    []uint32{1},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Exports: []wasm.Export{
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
			{Name: "_start", Kind: wasm.KindFunc, Idx: 2},
		},
		Code: []wasm.FuncBody{{Code: startBody}},
	}
}

func TestRewriteAppendsProxies(t *testing.T) {
	m := argsModule()
	numFuncs := m.NumFuncs()
	numGlobals := len(m.Globals)

	err := Rewrite(m, Config{Args: []string{"--level", "debug"}})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if got := m.NumFuncs(); got != numFuncs+2 {
		t.Errorf("NumFuncs() = %d, want %d", got, numFuncs+2)
	}
	if got := len(m.Globals); got != numGlobals+1 {
		t.Errorf("len(Globals) = %d, want %d", got, numGlobals+1)
	}
	g := m.Globals[len(m.Globals)-1]
	if g.Type.ValType != wasm.ValI32 || !g.Type.Mutable {
		t.Errorf("saved argc global type = %+v, want mutable i32", g.Type)
	}

	// Both proxies share the imports' (i32, i32) -> i32 type.
	for _, idx := range []uint32{uint32(numFuncs), uint32(numFuncs) + 1} {
		ft := m.GetFuncType(idx)
		if ft == nil || len(ft.Params) != 2 || len(ft.Results) != 1 {
			t.Errorf("proxy %d has type %+v", idx, ft)
		}
	}

	if err := m.Validate(); err != nil {
		t.Errorf("rewritten module fails validation: %v", err)
	}
}

func TestRewriteRedirectsCalls(t *testing.T) {
	m := argsModule()
	if err := Rewrite(m, Config{Args: []string{"a"}}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	sizesProxy := uint32(3)
	getProxy := uint32(4)

	// _start now calls the proxies.
	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatalf("DecodeInstructions(_start): %v", err)
	}
	var targets []uint32
	for _, in := range instrs {
		if target, ok := in.GetCallTarget(); ok {
			targets = append(targets, target)
		}
	}
	if len(targets) != 2 || targets[0] != sizesProxy || targets[1] != getProxy {
		t.Errorf("_start call targets = %v, want [%d %d]", targets, sizesProxy, getProxy)
	}

	// The proxies still call the original imports.
	for i, origIdx := range []uint32{0, 1} {
		body := m.Code[len(m.Code)-2+i]
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			t.Fatalf("DecodeInstructions(proxy %d): %v", i, err)
		}
		found := false
		for _, in := range instrs {
			if target, ok := in.GetCallTarget(); ok {
				if target != origIdx {
					t.Errorf("proxy %d calls %d, want %d", i, target, origIdx)
				}
				found = true
			}
		}
		if !found {
			t.Errorf("proxy %d never calls the original import", i)
		}
	}
}

func TestRewriteGrowsMemory(t *testing.T) {
	m := argsModule()
	if err := Rewrite(m, Config{Args: []string{"x"}}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if m.Memories[0].Limits.Min != 2 {
		t.Errorf("memory min = %d, want 2", m.Memories[0].Limits.Min)
	}
}

func TestRewriteMemoryLimitExceeded(t *testing.T) {
	m := argsModule()
	maxPages := uint64(1)
	m.Memories[0].Limits.Max = &maxPages

	err := Rewrite(m, Config{Args: []string{"x"}})
	if err == nil {
		t.Fatal("expected memory limit error")
	}
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhasePlan, Kind: rwerrors.KindMemoryLimit}) {
		t.Errorf("err = %v, want memory_limit_exceeded", err)
	}
}

func TestRewriteImportedMemory(t *testing.T) {
	m := argsModule()
	m.Memories = nil
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "memory",
		Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 4}}},
	})
	m.Exports = m.Exports[1:] // drop the memory export

	if err := Rewrite(m, Config{Args: []string{"x"}}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got := m.Imports[2].Desc.Memory.Limits.Min; got != 5 {
		t.Errorf("imported memory min = %d, want 5", got)
	}
}

func TestRewriteNoMemory(t *testing.T) {
	m := argsModule()
	m.Memories = nil
	m.Exports = m.Exports[1:]

	err := Rewrite(m, Config{Args: []string{"x"}})
	if err == nil {
		t.Fatal("expected error for module without memory")
	}
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhasePlan, Kind: rwerrors.KindInvalidInput}) {
		t.Errorf("err = %v, want invalid_input", err)
	}
}

func TestRewriteNoOp(t *testing.T) {
	m := argsModule()
	before := m.NumFuncs()
	if err := Rewrite(m, Config{}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if m.NumFuncs() != before {
		t.Error("empty config should not modify the module")
	}
}

func TestRewriteMissingImport(t *testing.T) {
	m := argsModule()
	m.Imports = m.Imports[:1] // drop args_get
	m.Exports[1].Idx = 1
	m.Code[0].Code = codegen.NewEmitter().End().Copy()

	err := Rewrite(m, Config{Args: []string{"x"}})
	if err == nil {
		t.Fatal("expected error for missing import")
	}
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhasePlan, Kind: rwerrors.KindImportNotFound}) {
		t.Errorf("err = %v, want import_not_found", err)
	}
}

func TestRewriteBadSignature(t *testing.T) {
	m := argsModule()
	m.Types[0] = wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI64},
		Results: []wasm.ValType{wasm.ValI32},
	}

	err := Rewrite(m, Config{Args: []string{"x"}})
	if err == nil {
		t.Fatal("expected error for unexpected signature")
	}
	if !errors.Is(err, &rwerrors.Error{Phase: rwerrors.PhasePlan, Kind: rwerrors.KindUnexpectedSignature}) {
		t.Errorf("err = %v, want unexpected_signature", err)
	}
}

func TestRewriteCustomWASIModule(t *testing.T) {
	m := argsModule()
	m.Imports[0].Module = "wasi_unstable"
	m.Imports[1].Module = "wasi_unstable"

	if err := Rewrite(m, Config{Args: []string{"x"}}); err == nil {
		t.Fatal("default module name should not match wasi_unstable")
	}
	if err := Rewrite(m, Config{Args: []string{"x"}, WASIModule: "wasi_unstable"}); err != nil {
		t.Fatalf("Rewrite with override: %v", err)
	}
}

func TestRewriteMarksModule(t *testing.T) {
	m := argsModule()
	if IsRewritten(m) {
		t.Error("fresh module reported as rewritten")
	}
	if err := Rewrite(m, Config{Args: []string{"x"}}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !IsRewritten(m) {
		t.Error("rewritten module not detected")
	}

	names, err := wasm.DecodeNameSection(m)
	if err != nil {
		t.Fatalf("DecodeNameSection: %v", err)
	}
	if names.FuncNames[3] != ProxyNameArgsSizesGet {
		t.Errorf("FuncNames[3] = %q", names.FuncNames[3])
	}
	if names.FuncNames[4] != ProxyNameArgsGet {
		t.Errorf("FuncNames[4] = %q", names.FuncNames[4])
	}
}

func TestRewriteOverridesModuleName(t *testing.T) {
	m := argsModule()
	if err := Rewrite(m, Config{Args: []string{"x"}, ProgramName: "tool.wasm"}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	names, err := wasm.DecodeNameSection(m)
	if err != nil {
		t.Fatalf("DecodeNameSection: %v", err)
	}
	if !names.HasModuleName || names.ModuleName != "tool.wasm" {
		t.Errorf("module name = %q (has=%v), want tool.wasm", names.ModuleName, names.HasModuleName)
	}

	// Without an override the module name is untouched.
	m = argsModule()
	if err := Rewrite(m, Config{Args: []string{"x"}}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	names, err = wasm.DecodeNameSection(m)
	if err != nil {
		t.Fatalf("DecodeNameSection: %v", err)
	}
	if names.HasModuleName {
		t.Errorf("module name unexpectedly set to %q", names.ModuleName)
	}
}

func TestRewriteEncodesAndReparses(t *testing.T) {
	m := argsModule()
	if err := Rewrite(m, Config{Args: []string{"--flag", "value"}, ProgramName: "app.wasm"}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	reparsed, err := wasm.ParseModuleValidate(data)
	if err != nil {
		t.Fatalf("ParseModuleValidate: %v", err)
	}
	if reparsed.NumFuncs() != m.NumFuncs() {
		t.Errorf("reparsed NumFuncs = %d, want %d", reparsed.NumFuncs(), m.NumFuncs())
	}
	if IsRewritten(reparsed) == false {
		t.Error("rewrite marker lost in encode round trip")
	}
}
