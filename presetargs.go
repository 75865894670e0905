package presetargs

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasi-preset-args/errors"
	"github.com/wippyai/wasi-preset-args/internal/engine"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// Config controls which arguments get embedded into the module.
type Config struct {
	// Args are injected into the argument list reported by the WASI
	// argument functions, after argv[0].
	Args []string

	// ProgramName supplies a synthetic argv[0] used when the host
	// reports no arguments at all. Optional.
	ProgramName string

	// WASIModule overrides the import module name to wrap. Defaults
	// to wasi_snapshot_preview1.
	WASIModule string
}

// Rewrite parses a WebAssembly binary, embeds the preset arguments by
// proxying its WASI argument imports, and returns the re-encoded
// binary. The input bytes are not modified.
//
// A module that was already rewritten is rejected, since stacking
// proxies would duplicate the preset arguments.
func Rewrite(data []byte, cfg Config) ([]byte, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, errors.MalformedModule(err)
	}

	if engine.IsRewritten(m) {
		return nil, errors.InvalidInput(errors.PhasePlan, "module already carries preset arguments")
	}

	err = engine.Rewrite(m, engine.Config{
		Args:        cfg.Args,
		ProgramName: cfg.ProgramName,
		WASIModule:  cfg.WASIModule,
	})
	if err != nil {
		return nil, err
	}

	encoded, err := m.Encode()
	if err != nil {
		return nil, errors.EncodingOverflow("encode module", err)
	}
	return encoded, nil
}

// IsRewritten reports whether the binary already carries preset
// arguments from an earlier Rewrite.
func IsRewritten(data []byte) bool {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return false
	}
	return engine.IsRewritten(m)
}

// SetLogger configures the library's logger. The default is a no-op
// logger. This must be called before any rewrite operations.
func SetLogger(l *zap.Logger) {
	engine.SetLogger(l)
}
