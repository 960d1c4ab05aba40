// Package diag provides structured errors and recoverable diagnostics for the
// autozig build pipeline.
//
// Hard failures are *Error values categorized by Phase (pipeline stage) and
// Kind (error category). Use the Builder for structured construction:
//
//	err := diag.New(diag.PhaseExpand, diag.KindInvalidInput).
//		At(pos).
//		Symbol("sum").
//		Detail("cannot parse concrete type %q", raw).
//		Build()
//
// Findings that only skip one file, reference or declaration are reported as
// Diagnostic values and collected in a List.
package diag
