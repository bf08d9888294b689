package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error that crosses the service boundary.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindTimeout           ErrorKind = "timeout"
	KindAgent             ErrorKind = "agent_error"
	KindInternal          ErrorKind = "internal_error"
)

// Error is a typed failure carrying the execution identifier for correlation
// with logs and telemetry.
type Error struct {
	Kind        ErrorKind
	Message     string
	ExecutionID string
	cause       error
}

func (e *Error) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("%s: %s (execution %s)", e.Kind, e.Message, e.ExecutionID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a typed error.
func NewError(kind ErrorKind, executionID, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		ExecutionID: executionID,
	}
}

// WrapError builds a typed error around a cause.
func WrapError(kind ErrorKind, executionID string, cause error) *Error {
	return &Error{
		Kind:        kind,
		Message:     cause.Error(),
		ExecutionID: executionID,
		cause:       cause,
	}
}

// KindOf extracts the kind from an error, defaulting to internal_error for
// anything untyped.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}
