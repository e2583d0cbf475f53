// Package errors implements the error taxonomy of spec.md §7 as a
// single struct carrying a stable Kind, rather than one Go type per
// kind, so callers branch on Kind instead of doing type assertions
// against a dozen sentinel types.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds spec.md §7 names.
type Kind string

const (
	KindInputValidation     Kind = "InputValidation"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindConflict            Kind = "Conflict"
	KindLocked              Kind = "Locked"
	KindVerificationFailed  Kind = "VerificationFailed"
	KindTamperDetected      Kind = "TamperDetected"
	KindAggregatorRetriable Kind = "AggregatorRetriable"
	KindAggregatorTerminal  Kind = "AggregatorTerminal"
	KindAuthenticationFailed Kind = "AuthenticationFailed"
	KindPermissionDenied    Kind = "PermissionDenied"
	KindNotFound            Kind = "NotFound"
)

// Error is the module's one error type. Field-level context
// (InputValidation failures) goes in Fields; everything else is
// communicated by Kind + Message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an Error that wraps cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithField attaches a field-level context entry and returns the
// receiver for chaining.
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retriable reports whether the error should be retried by the
// Aggregator Dispatcher's backoff loop (spec.md §7).
func Retriable(err error) bool {
	return Is(err, KindAggregatorRetriable)
}
