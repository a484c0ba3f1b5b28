// Package services contains the user, connection, agent and chat-session
// services the API façade consumes, plus the shared service-level errors.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is absent or owned by
	// another user — the two cases are indistinguishable by design.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate
	// entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidCredentials is returned by login on a bad email/password
	// pair or an inactive account.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
