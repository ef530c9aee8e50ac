package compiler

import "fmt"

// CompileError reports a failure to compile one function, naming the
// function and wrapping the underlying cause, in the style of the
// teacher's own FormatError (internal/watzero/internal/errors.go):
// Error() renders a one-line diagnostic, Unwrap exposes the cause for
// errors.Is/As.
type CompileError struct {
	FuncName string
	cause    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("function %q: %v", e.FuncName, e.cause)
}

func (e *CompileError) Unwrap() error {
	return e.cause
}
