package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")

	ErrValidation = errors.New("validation failed")

	// ErrNotAuthenticated means the mail collaborator has no usable
	// credentials. It is fatal for a poll run.
	ErrNotAuthenticated = errors.New("mail source not authenticated")
	// ErrUpstreamUnavailable means the mail collaborator could not be
	// reached. The run is aborted and retried on the next tick.
	ErrUpstreamUnavailable = errors.New("mail source unavailable")
)

// ValidationError describes malformed input for one field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
