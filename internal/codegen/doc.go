// Package codegen provides WASM bytecode emission for the argument
// proxy functions.
//
// This package generates the WebAssembly bytecode that wraps the WASI
// argument imports: constant stores that embed preset argument bytes,
// pointer table writes, and the branching that delegates to the
// original imports.
//
// This package is internal to the rewrite engine.
package codegen
