package services

import (
	"errors"
	"fmt"
)

// ErrMirrorDisabled is returned by VerifyMirror when no graph mirror is configured
var ErrMirrorDisabled = errors.New("graph mirror is disabled")

// ValidationError reports caller input rejected before reaching storage.
// Message is safe to return to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with a formatted message
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
