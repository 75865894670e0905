// Package presetargs embeds preset command-line arguments into WASI
// preview 1 command modules.
//
// WASI programs read their command line through two imports,
// args_sizes_get and args_get. Rewrite wraps both with synthesized
// proxy functions that splice a fixed set of arguments into whatever
// the host runtime supplies, without touching the host side at all.
// The rewritten module runs under any WASI runtime.
//
// # Quick Start
//
//	data, _ := os.ReadFile("tool.wasm")
//
//	rewritten, err := presetargs.Rewrite(data, presetargs.Config{
//	    Args: []string{"--config", "/etc/tool.conf"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	os.WriteFile("tool-pinned.wasm", rewritten, 0o644)
//
// # Argument Order
//
// The presets appear right after argv[0]:
//
//	argv[0]      the program name as reported by the host
//	argv[1..n]   the preset arguments
//	argv[n+1..]  the host-supplied arguments
//
// When the host reports zero arguments the presets make up the whole
// list, optionally preceded by Config.ProgramName as a synthetic
// argv[0].
//
// # How It Works
//
// Two proxy functions are appended at the end of the function index
// space and every use of the original imports (calls, ref.func,
// element segments, exports, start) is redirected to them. Existing
// function indices never shift, so code and data offsets elsewhere in
// the module stay valid. The module's initial memory grows to cover
// the injected bytes.
//
// Lower-level building blocks live in the wasm subpackage, which
// provides general WebAssembly binary parsing and encoding.
package presetargs
