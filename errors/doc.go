// Package errors provides the structured error type for the lua-runtime
// bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (what went wrong). The Error type carries the guest error value, the
// reordered guest traceback when one is available, and a cause chain.
//
// Convenience constructors cover the common cases:
//
//	err := errors.Syntax("unexpected symbol near ')'", cause)
//	err := errors.TypeMismatch(errors.PhasePush, "cannot wrap %T", v)
//	err := errors.Reference("deleted object")
//
// All errors implement the standard error interface and support
// errors.Is/As. ErrExhausted is a bare sentinel compared with ==.
package errors
