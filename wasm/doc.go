// Package wasm provides WebAssembly binary format parsing and encoding.
//
// This package implements a parser and encoder for WebAssembly binary
// modules according to the WebAssembly 2.0 specification, covering the
// constructs found in WASI preview 1 command modules.
//
// # Supported Features
//
//	WebAssembly 2.0:
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals
//	  - Control flow, calls, local/global access
//	  - Memory and table operations
//	  - Import/export of all definitions
//
//	Post-2.0 Proposals:
//	  - Tail calls (return_call, return_call_indirect)
//	  - SIMD (128-bit vector operations, v128 type)
//	  - Threads (atomic operations, shared memory)
//	  - Bulk memory (memory.copy, memory.fill, data.drop)
//	  - Reference types (funcref, externref, ref.null, ref.is_null)
//	  - Multi-memory (multiple memory instances)
//	  - Memory64 (64-bit memory addressing)
//
// GC types and exception handling are rejected with ErrUnsupported.
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with validation enabled:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded, err := module.Encode()
//
// Round-trip parsing and encoding preserves module semantics:
//
//	original, _ := wasm.ParseModule(data)
//	encoded, _ := original.Encode()
//	roundtrip, _ := wasm.ParseModule(encoded)
//	// original and roundtrip are semantically equivalent
//
// # Module Structure
//
// A parsed module contains all sections:
//
//	module.Types      []FuncType    // Function signatures
//	module.Funcs      []uint32      // Type indices for functions
//	module.Tables     []TableType   // Table definitions
//	module.Memories   []MemoryType  // Memory definitions
//	module.Globals    []Global      // Global definitions
//	module.Imports    []Import      // Imported definitions
//	module.Exports    []Export      // Exported definitions
//	module.Code       []FuncBody    // Function bodies
//	module.Data       []DataSegment // Data segments
//	module.Elements   []Element     // Element segments
//
// # Instructions
//
// Decode instructions from bytecode:
//
//	instructions, err := wasm.DecodeInstructions(code)
//
// Encode instructions back to bytecode:
//
//	encoded := wasm.EncodeInstructions(instructions)
//
// # Name Section
//
// The "name" custom section can be decoded and re-encoded to carry
// module and function names through a rewrite:
//
//	names, err := wasm.DecodeNameSection(module)
//	names.FuncNames[idx] = "my_function"
//	wasm.SetNameSection(module, names)
package wasm
