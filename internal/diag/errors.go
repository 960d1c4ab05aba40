package diag

import (
	"fmt"
	"strings"
)

// Phase indicates which pipeline stage produced the error
type Phase string

const (
	PhaseScan     Phase = "scan"     // host source discovery
	PhaseParse    Phase = "parse"    // declaration text
	PhaseLower    Phase = "lower"    // ABI lowering
	PhaseExpand   Phase = "expand"   // monomorphization
	PhaseForeign  Phase = "foreign"  // Zig source rewriting
	PhaseGenerate Phase = "generate" // bridge rendering
	PhaseCompile  Phase = "compile"  // external toolchain
	PhaseLink     Phase = "link"     // artifact verification and registration
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax        Kind = "syntax"
	KindUnsupported   Kind = "unsupported"
	KindInvalidInput  Kind = "invalid_input"
	KindDuplicate     Kind = "duplicate"
	KindNotFound      Kind = "not_found"
	KindEmpty         Kind = "empty"
	KindCollision     Kind = "collision"
	KindTool          Kind = "tool"
	KindMissingExport Kind = "missing_export"
	KindIO            Kind = "io"
)

// Error is the structured error type used by the build pipeline
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Pos    Pos
	Symbol string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Symbol != "" {
		b.WriteString(" in ")
		b.WriteString(e.Symbol)
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

// At sets the source position
func (b *Builder) At(pos Pos) *Builder {
	b.err.Pos = pos
	return b
}

// Symbol sets the declaration or symbol name
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
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

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, pos Pos, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Pos:    pos,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, pos Pos, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Pos:    pos,
		Detail: detail,
	}
}

// Duplicate creates a duplicate declaration error
func Duplicate(phase Phase, pos Pos, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDuplicate,
		Pos:    pos,
		Symbol: name,
		Detail: fmt.Sprintf("duplicate %s %q", what, name),
	}
}

// EmptyDeclarations creates the error for a block with nothing to bridge
func EmptyDeclarations(pos Pos) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindEmpty,
		Pos:    pos,
		Detail: "declaration text yields no usable declarations",
	}
}

// Tool wraps an external toolchain failure
func Tool(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindTool,
		Detail: what,
		Cause:  cause,
	}
}

// MissingExport creates an error for a bridged symbol absent from the artifact
func MissingExport(artifact, symbol string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindMissingExport,
		Symbol: symbol,
		Detail: fmt.Sprintf("artifact %s does not export %q", artifact, symbol),
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
