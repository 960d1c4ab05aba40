package diag

import (
	"fmt"
	"go/token"
)

// Pos is a resolved source location.
type Pos struct {
	File   string
	Line   int
	Column int
}

// FromToken converts a go/token position.
func FromToken(p token.Position) Pos {
	return Pos{File: p.Filename, Line: p.Line, Column: p.Column}
}

// IsValid reports whether the position carries a file or line.
func (p Pos) IsValid() bool {
	return p.File != "" || p.Line > 0
}

func (p Pos) String() string {
	switch {
	case p.File == "" && p.Line == 0:
		return "-"
	case p.Column > 0:
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	case p.Line > 0:
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	default:
		return p.File
	}
}

// Severity ranks a recoverable finding.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// Diagnostic is a finding that does not abort the build.
type Diagnostic struct {
	Severity Severity
	Phase    Phase
	Pos      Pos
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: [%s] %s", d.Pos, d.Severity, d.Phase, d.Message)
}

// Warnf builds a warning diagnostic.
func Warnf(phase Phase, pos Pos, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Phase: phase, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds an error-severity diagnostic for a skipped item.
func Errorf(phase Phase, pos Pos, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Phase: phase, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Infof builds an informational diagnostic.
func Infof(phase Phase, pos Pos, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityInfo, Phase: phase, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// FromError converts a structured error into a skipped-item diagnostic.
func FromError(err error) Diagnostic {
	if e, ok := err.(*Error); ok {
		return Diagnostic{Severity: SeverityError, Phase: e.Phase, Pos: e.Pos, Message: e.Error()}
	}
	return Diagnostic{Severity: SeverityError, Message: err.Error()}
}

// List accumulates diagnostics in report order.
type List []Diagnostic

// Add appends diagnostics in order.
func (l *List) Add(ds ...Diagnostic) {
	*l = append(*l, ds...)
}

// Count returns how many diagnostics have at least the given severity.
func (l List) Count(min Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity >= min {
			n++
		}
	}
	return n
}
