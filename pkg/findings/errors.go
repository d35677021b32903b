package findings

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no backing store is available. Callers
	// must fail closed; there is no in-memory fallback.
	ErrNotConfigured = errors.New("override store not configured")

	// ErrNotFound is returned for findings unknown to both the seed catalog
	// and the ledger.
	ErrNotFound = errors.New("finding not found")
)

// ValidationError reports a malformed request. It is raised before any
// mutation takes place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func invalid(field, format string, args ...any) error {
	return NewValidationError(field, format, args...)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
