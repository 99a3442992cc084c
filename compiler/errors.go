package compiler

import "fmt"

// FormatDiagnostic renders a message in the "[name:line:column] message"
// shape shared by every located error.
func FormatDiagnostic(loc Location, msg string) string {
	return fmt.Sprintf("[%s] %s", loc, msg)
}

// SyntaxError is an unexpected token during parsing. The first syntax error
// aborts parsing of the whole module.
type SyntaxError struct {
	Loc Location
	Msg string
}

func (e *SyntaxError) Error() string {
	return FormatDiagnostic(e.Loc, e.Msg)
}

// CompileError is a name-resolution or declaration error found after
// parsing, e.g. a reference to an undefined name.
type CompileError struct {
	Loc Location
	Msg string
}

func (e *CompileError) Error() string {
	return FormatDiagnostic(e.Loc, e.Msg)
}

// CompileErrors collects every CompileError found in a module.
type CompileErrors []*CompileError

func (errs CompileErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", errs[0].Error(), len(errs)-1)
}

// Unwrap exposes the individual errors to errors.As.
func (errs CompileErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}
