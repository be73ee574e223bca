package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUpstream             = errors.New("upstream failure")
)

// ValidationError is a field-specific rejection of user input.
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

// UpstreamError wraps a failure reported by the auth provider or the store.
type UpstreamError struct {
	Op  string
	Err error
}

func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// InvalidConfiguration reports a non-positive limit or target handed to an
// aggregation function.
func InvalidConfiguration(param string, value Money) error {
	return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfiguration, param, value.Cents)
}

// FieldOf returns the offending field of a validation failure, or "".
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
