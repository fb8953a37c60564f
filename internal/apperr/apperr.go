// Package apperr provides the service-wide error taxonomy. Every error that
// crosses a service boundary carries a Code so handlers can map it to a
// transport status without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and retry semantics.
type Code string

const (
	// CodeValidation marks missing or malformed caller input. Recoverable by
	// correcting the request.
	CodeValidation Code = "VALIDATION"
	// CodePrecondition marks a lifecycle transition attempted from the wrong
	// source status.
	CodePrecondition Code = "PRECONDITION"
	// CodeUnauthorized marks not-your-turn and over-limit approval attempts.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeConflict marks probable duplicates, already-resolved steps and rule
	// races.
	CodeConflict Code = "CONFLICT"
	// CodeDependency marks failures of external collaborators (storage,
	// extraction, accounting export).
	CodeDependency Code = "DEPENDENCY"
	// CodeNotFound marks a missing resource.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInternal marks everything else.
	CodeInternal Code = "INTERNAL"
)

// Error is the concrete error type used across services and repositories.
type Error struct {
	Code    Code
	Message string
	// Meta carries structured context for the caller, e.g. the duplicate
	// invoice id surfaced by the duplicate detector.
	Meta map[string]any
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// WithMeta attaches one structured context entry and returns the error.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// New creates an error with a code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an error with a code and a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, err: err}
}

// NotFound creates a NOT_FOUND error for a resource/id pair.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput creates a VALIDATION error for a single field.
func InvalidInput(field, msg string) *Error {
	return Newf(CodeValidation, "%s: %s", field, msg)
}

// CodeOf extracts the Code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MetaOf extracts structured context from an error chain, or nil.
func MetaOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Meta
	}
	return nil
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
