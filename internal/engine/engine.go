package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasi-preset-args/errors"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// DefaultWASIModule is the import module name of WASI preview 1.
const DefaultWASIModule = "wasi_snapshot_preview1"

// WASI preview 1 argument function names.
const (
	FuncArgsSizesGet = "args_sizes_get"
	FuncArgsGet      = "args_get"
)

// Debug names given to the synthesized proxies in the name section.
// Their presence marks a module as already rewritten.
const (
	ProxyNameArgsSizesGet = "wasi_preset_args.args_sizes_get"
	ProxyNameArgsGet      = "wasi_preset_args.args_get"
)

// Config controls a rewrite.
type Config struct {
	// Args are the preset arguments injected after argv[0].
	Args []string

	// ProgramName, when non-empty, supplies a synthetic argv[0] used
	// only when the host reports zero arguments.
	ProgramName string

	// WASIModule overrides the import module name to wrap. Defaults
	// to wasi_snapshot_preview1.
	WASIModule string
}

// argImports holds the located WASI argument imports.
type argImports struct {
	sizesIdx     uint32 // function index of args_sizes_get
	getIdx       uint32 // function index of args_get
	sizesTypeIdx uint32
	getTypeIdx   uint32
}

// Rewrite transforms the module in place so that its WASI argument
// imports report the preset arguments in addition to whatever the
// host supplies. The module's declared memory grows to cover the
// injected bytes, a mutable global is added to carry the host argc
// between the two calls, and two proxy functions are appended at the
// end of the function index space. Existing function indices are
// never shifted.
func Rewrite(m *wasm.Module, cfg Config) error {
	if len(cfg.Args) == 0 && cfg.ProgramName == "" {
		return nil
	}

	wasiModule := cfg.WASIModule
	if wasiModule == "" {
		wasiModule = DefaultWASIModule
	}

	layout, err := PlanLayout(cfg.Args, cfg.ProgramName)
	if err != nil {
		return err
	}

	imports, err := locateArgImports(m, wasiModule)
	if err != nil {
		return err
	}

	if err := growMemory(m, layout); err != nil {
		return err
	}

	savedArgcGlobal := uint32(m.NumImportedGlobals() + len(m.Globals))
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
	})

	sizesProxyIdx := uint32(m.NumFuncs())
	getProxyIdx := sizesProxyIdx + 1

	// Redirect existing uses before appending the proxies so the
	// proxy bodies keep calling the original imports.
	err = redirectFuncIndices(m, map[uint32]uint32{
		imports.sizesIdx: sizesProxyIdx,
		imports.getIdx:   getProxyIdx,
	})
	if err != nil {
		return err
	}

	m.Funcs = append(m.Funcs, imports.sizesTypeIdx, imports.getTypeIdx)
	m.Code = append(m.Code,
		buildArgsSizesGet(imports.sizesIdx, savedArgcGlobal, layout),
		buildArgsGet(imports.getIdx, savedArgcGlobal, layout),
	)

	if err := labelProxies(m, sizesProxyIdx, getProxyIdx, cfg.ProgramName); err != nil {
		return err
	}

	Logger().Debug("rewrote argument imports",
		zap.String("wasi_module", wasiModule),
		zap.Int("preset_args", layout.NumArgs()),
		zap.Uint32("preset_bytes", layout.PresetLen()),
		zap.Uint32("name_bytes", layout.NameLen()),
		zap.Uint64("grow_pages", layout.GrowPages()),
		zap.Uint32("sizes_proxy", sizesProxyIdx),
		zap.Uint32("get_proxy", getProxyIdx))

	return nil
}

// locateArgImports finds the two WASI argument imports and checks
// their signatures.
func locateArgImports(m *wasm.Module, wasiModule string) (*argImports, error) {
	found := &argImports{}
	haveSizes := false
	haveGet := false

	funcIdx := uint32(0)
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		if imp.Module == wasiModule {
			switch imp.Name {
			case FuncArgsSizesGet:
				if err := checkSignature(m, imp); err != nil {
					return nil, err
				}
				found.sizesIdx = funcIdx
				found.sizesTypeIdx = imp.Desc.TypeIdx
				haveSizes = true
			case FuncArgsGet:
				if err := checkSignature(m, imp); err != nil {
					return nil, err
				}
				found.getIdx = funcIdx
				found.getTypeIdx = imp.Desc.TypeIdx
				haveGet = true
			}
		}
		funcIdx++
	}

	if !haveSizes {
		return nil, errors.ImportNotFound(wasiModule, FuncArgsSizesGet)
	}
	if !haveGet {
		return nil, errors.ImportNotFound(wasiModule, FuncArgsGet)
	}
	return found, nil
}

// checkSignature verifies an argument import has the WASI preview 1
// shape (i32, i32) -> i32.
func checkSignature(m *wasm.Module, imp *wasm.Import) error {
	if int(imp.Desc.TypeIdx) >= len(m.Types) {
		return errors.New(errors.PhasePlan, errors.KindMalformedModule).
			Import(imp.Module, imp.Name).
			Detail("type index %d out of range", imp.Desc.TypeIdx).
			Build()
	}
	ft := &m.Types[imp.Desc.TypeIdx]
	ok := len(ft.Params) == 2 &&
		ft.Params[0] == wasm.ValI32 && ft.Params[1] == wasm.ValI32 &&
		len(ft.Results) == 1 && ft.Results[0] == wasm.ValI32
	if !ok {
		return errors.UnexpectedSignature(imp.Module, imp.Name, formatFuncType(ft))
	}
	return nil
}

func formatFuncType(ft *wasm.FuncType) string {
	params := make([]string, len(ft.Params))
	for i, p := range ft.Params {
		params[i] = p.String()
	}
	results := make([]string, len(ft.Results))
	for i, r := range ft.Results {
		results[i] = r.String()
	}
	return fmt.Sprintf("(%s) -> (%s)", strings.Join(params, ", "), strings.Join(results, ", "))
}

// growMemory raises the initial size of the module's first memory to
// cover the injected bytes.
func growMemory(m *wasm.Module, l *Layout) error {
	pages := l.GrowPages()
	if pages == 0 {
		return nil
	}

	var limits *wasm.Limits
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == wasm.KindMemory {
			limits = &m.Imports[i].Desc.Memory.Limits
			break
		}
	}
	if limits == nil {
		if len(m.Memories) == 0 {
			return errors.InvalidInput(errors.PhasePlan, "module has no memory to hold preset arguments")
		}
		limits = &m.Memories[0].Limits
	}

	newMin := limits.Min + pages
	maxPages := wasm.MemoryMaxPages32
	if limits.Memory64 {
		maxPages = wasm.MemoryMaxPages64
	}
	if limits.Max != nil && newMin > *limits.Max {
		return errors.MemoryLimitExceeded(newMin, *limits.Max)
	}
	if newMin > maxPages {
		return errors.MemoryLimitExceeded(newMin, maxPages)
	}
	limits.Min = newMin
	return nil
}

// labelProxies records debug names for the synthesized functions and,
// when a program name is configured, overrides the module name.
func labelProxies(m *wasm.Module, sizesIdx, getIdx uint32, programName string) error {
	names, err := wasm.DecodeNameSection(m)
	if err != nil {
		return errors.Wrap(errors.PhaseLink, errors.KindMalformedModule, err, "decode name section")
	}
	names.FuncNames[sizesIdx] = ProxyNameArgsSizesGet
	names.FuncNames[getIdx] = ProxyNameArgsGet
	if programName != "" {
		names.ModuleName = programName
		names.HasModuleName = true
	}
	wasm.SetNameSection(m, names)
	return nil
}

// IsRewritten reports whether the module already carries the proxy
// labels from an earlier rewrite.
func IsRewritten(m *wasm.Module) bool {
	names, err := wasm.DecodeNameSection(m)
	if err != nil {
		return false
	}
	for _, name := range names.FuncNames {
		if name == ProxyNameArgsSizesGet || name == ProxyNameArgsGet {
			return true
		}
	}
	return false
}
