package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the rewrite pipeline the error occurred
type Phase string

const (
	PhaseDecode     Phase = "decode"     // binary parsing
	PhasePlan       Phase = "plan"       // layout planning
	PhaseSynthesize Phase = "synthesize" // proxy generation
	PhaseLink       Phase = "link"       // index redirection
	PhaseEncode     Phase = "encode"     // binary emission
	PhaseRun        Phase = "run"        // executing a rewritten module
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedModule     Kind = "malformed_module"
	KindImportNotFound      Kind = "import_not_found"
	KindUnexpectedSignature Kind = "unexpected_signature"
	KindMemoryLimit         Kind = "memory_limit_exceeded"
	KindEncodingOverflow    Kind = "encoding_overflow"
	KindUnsupported         Kind = "unsupported"
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
)

// Error is the structured error type used throughout the rewriter
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Module string
	Func   string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" || e.Func != "" {
		b.WriteString(" at ")
		b.WriteString(e.Module)
		if e.Func != "" {
			b.WriteByte('.')
			b.WriteString(e.Func)
		}
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Import sets the import module and function names the error refers to
func (b *Builder) Import(module, fn string) *Builder {
	b.err.Module = module
	b.err.Func = fn
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MalformedModule creates a decode error for an unparseable binary
func MalformedModule(cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindMalformedModule,
		Detail: "parse module",
		Cause:  cause,
	}
}

// ImportNotFound creates an error for a missing WASI argument import
func ImportNotFound(module, fn string) *Error {
	return &Error{
		Phase:  PhasePlan,
		Kind:   KindImportNotFound,
		Module: module,
		Func:   fn,
		Detail: "import not present in module",
	}
}

// UnexpectedSignature creates an error for an import whose type does not
// match the WASI preview 1 argument functions
func UnexpectedSignature(module, fn, got string) *Error {
	return &Error{
		Phase:  PhasePlan,
		Kind:   KindUnexpectedSignature,
		Module: module,
		Func:   fn,
		Detail: fmt.Sprintf("want (i32, i32) -> i32, got %s", got),
		Value:  got,
	}
}

// MemoryLimitExceeded creates an error for growth past the declared maximum
func MemoryLimitExceeded(needPages, maxPages uint64) *Error {
	return &Error{
		Phase:  PhasePlan,
		Kind:   KindMemoryLimit,
		Detail: fmt.Sprintf("need %d pages but memory maximum is %d", needPages, maxPages),
		Value:  needPages,
	}
}

// EncodingOverflow creates an error for values exceeding binary format limits
func EncodingOverflow(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindEncodingOverflow,
		Detail: what,
		Cause:  cause,
	}
}

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
