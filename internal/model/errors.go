package model

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel wrapped by every ValidationError so
// callers can branch with errors.Is without inspecting fields.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is returned by lookups where absence is not tolerated.
// Removal and mark-read treat absence as a no-op instead.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed field rejected at an API boundary.
// Writes that fail validation are never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a reference to an unknown id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
