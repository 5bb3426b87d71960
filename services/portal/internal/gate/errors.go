package gate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidOrExpiredToken covers unknown, expired and, where it matters,
	// already consumed tokens. Callers cannot tell these apart.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired link")
	ErrValidationFailed      = errors.New("validation failed")
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed. It matches ErrValidationFailed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(names, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
