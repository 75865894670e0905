package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	presetargs "github.com/wippyai/wasi-preset-args"
)

func main() {
	var (
		output      = flag.String("o", "", "Output file (default: <input>.preset.wasm)")
		programName = flag.String("program-name", "", "Synthetic argv[0] when the host passes no arguments (default: input filename)")
		wasiModule  = flag.String("wasi-module", "", "Import module name to wrap (default: wasi_snapshot_preview1)")
		execute     = flag.Bool("run", false, "Run the rewritten module instead of writing it")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wasi-preset-args [-o out.wasm] [-program-name NAME] <input.wasm> -- ARGS...")
		fmt.Fprintln(os.Stderr, "       wasi-preset-args -run <input.wasm> -- ARGS...")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			presetargs.SetLogger(logger)
			defer logger.Sync()
		}
	}

	input := args[0]
	presets := args[1:]

	if err := run(input, *output, *programName, *wasiModule, presets, *execute); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output, programName, wasiModule string, presets []string, execute bool) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if programName == "" {
		programName = filepath.Base(input)
	}

	rewritten, err := presetargs.Rewrite(data, presetargs.Config{
		Args:        presets,
		ProgramName: programName,
		WASIModule:  wasiModule,
	})
	if err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}

	if execute {
		return runModule(rewritten)
	}

	if output == "" {
		output = outputName(input)
	}
	if err := os.WriteFile(output, rewritten, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	fmt.Printf("%s: %d bytes, %d preset argument(s)\n", output, len(rewritten), len(presets))
	return nil
}

// outputName derives the default output path from the input path.
func outputName(input string) string {
	ext := filepath.Ext(input)
	if strings.EqualFold(ext, ".wasm") {
		return strings.TrimSuffix(input, ext) + ".preset.wasm"
	}
	return input + ".preset.wasm"
}

// runModule executes the rewritten binary under an embedded runtime
// with no host arguments, so only the embedded ones show through.
func runModule(rewritten []byte) error {
	ctx := context.Background()

	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	cfg := wazero.NewModuleConfig().
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithStdin(os.Stdin)

	mod, err := rt.InstantiateWithConfig(ctx, rewritten, cfg)
	if err != nil {
		return fmt.Errorf("run module: %w", err)
	}
	return mod.Close(ctx)
}
