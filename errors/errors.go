package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExhausted signals that an iterator or coroutine has no more
// values. It is a terminal condition, not a failure: resuming a dead
// coroutine or advancing a finished iterator returns it on every
// subsequent call.
var ErrExhausted = errors.New("iterator exhausted")

// Phase indicates where in a bridge operation the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // compiling guest source
	PhaseRun      Phase = "run"      // protected guest call
	PhasePush     Phase = "push"     // host to guest marshaling
	PhasePull     Phase = "pull"     // guest to host marshaling
	PhaseHost     Phase = "host"     // host callback invoked from guest code
	PhaseResource Phase = "resource" // registry and reference table operations
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax    Kind = "syntax"    // malformed source rejected at load time
	KindRuntime   Kind = "runtime"   // protected call returned an error
	KindMemory    Kind = "memory"    // allocation denied or guest out of memory
	KindReference Kind = "reference" // wrapper whose payload was already finalized
	KindType      Kind = "type"      // protocol mismatch (indexing a callable, ...)
	KindAttribute Kind = "attribute" // attribute lookup or filter rejection
	KindOverflow  Kind = "overflow"  // integer outside the guest numeric range
	KindUsage     Kind = "usage"     // API misuse detected host-side
	KindClosed    Kind = "closed"    // operation on a torn-down runtime
)

// Error is the structured error type used throughout the bridge.
// Traceback, when present, holds the guest traceback with nested-call
// frames ordered innermost-first.
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Detail    string
	Traceback string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	if e.Traceback != "" {
		b.WriteByte('\n')
		b.WriteString(e.Traceback)
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

// IsKind reports whether err is a bridge error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Convenience constructors for common error patterns

// Syntax creates a load-time syntax error
func Syntax(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSyntax,
		Detail: detail,
		Cause:  cause,
	}
}

// Runtime creates a guest runtime error
func Runtime(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRuntime,
		Detail: detail,
		Cause:  cause,
	}
}

// Memory creates an out-of-memory error
func Memory(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMemory,
		Detail: detail,
	}
}

// Reference creates an error for access through a wrapper whose host
// payload was already finalized
func Reference(detail string) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindReference,
		Detail: detail,
	}
}

// TypeMismatch creates a protocol mismatch error
func TypeMismatch(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindType,
		Detail: detail,
	}
}

// Attribute creates an attribute access error
func Attribute(obj any, name, detail string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindAttribute,
		Detail: fmt.Sprintf("attribute %q of %T: %s", name, obj, detail),
		Value:  obj,
	}
}

// Overflow creates an error for an integer outside the guest range
func Overflow(value any) *Error {
	return &Error{
		Phase:  PhasePush,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("%v (%T) exceeds the guest numeric range", value, value),
		Value:  value,
	}
}

// Usage creates an API misuse error
func Usage(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindUsage,
		Detail: detail,
	}
}

// Closed creates an error for an operation on a torn-down runtime
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s used after Close", what),
	}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
