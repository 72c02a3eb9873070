package problem

import (
	"errors"
	"fmt"
	"time"
)

// Admission pipeline error classes. Packages wrap these with context using %w.
var (
	ErrNotFound           = errors.New("not found")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation error")
)

// RateLimitedError reports a rejected request and how long the client should wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError carries per-field validation issues. It matches ErrValidation and,
// when set, wraps the underlying cause.
type ValidationError struct {
	Message string
	Fields  FieldErrors
	Err     error
}

func (v *ValidationError) Error() string {
	if v.Message != "" {
		return v.Message
	}
	return ErrValidation.Error()
}

func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (v *ValidationError) Unwrap() error {
	return v.Err
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Message: message, Fields: FieldErrors{field: {message}}}
}
