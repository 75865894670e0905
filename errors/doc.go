// Package errors provides structured error types for the rewriter.
//
// Errors are categorized by Phase (where in the pipeline the error
// occurred) and Kind (error category). The Error type carries the
// import it refers to and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhasePlan, errors.KindUnexpectedSignature).
//		Import("wasi_snapshot_preview1", "args_get").
//		Detail("want (i32, i32) -> i32").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ImportNotFound("wasi_snapshot_preview1", "args_sizes_get")
//	err := errors.MemoryLimitExceeded(17, 16)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
