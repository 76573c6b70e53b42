package models

import (
	"errors"
	"fmt"
)

// ValidationError names the offending field of a malformed mutation input.
// It is always raised before any write is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrPermissionDenied covers membership removal by a non-adder and
// self-removal alike; callers cannot tell which case applied.
var ErrPermissionDenied = errors.New("permission denied")

// TransportError wraps a failed subscription or fetch against the engine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
