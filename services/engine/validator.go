package engine

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is the sentinel behind every rejected configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError names the offending setting.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ValidateSize rejects sizes that would make every R multiple undefined.
func ValidateSize(size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return Invalid("position_size", "must be a positive number, got %v", size)
	}
	return nil
}
