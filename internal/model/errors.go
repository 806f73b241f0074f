package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: unknown references, bad time formats.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced session, student or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSourceUnavailable means the external punch store could not be queried.
	// It never means "nobody punched".
	ErrSourceUnavailable = errors.New("punch source unavailable")
	// ErrTokenInvalid tags a rejected QR scan: unknown or expired token, or a
	// student outside the session.
	ErrTokenInvalid = errors.New("qr token invalid")
	// ErrConflictOnWrite is reported when an insert-if-absent found an existing row.
	ErrConflictOnWrite = errors.New("record already exists")
	// ErrForbidden is returned when the acting user's scope does not cover the session.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes which input was rejected. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SourceError wraps a failure of the external punch store.
type SourceError struct {
	City string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("punch source %q unavailable: %v", e.City, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }
