// Package errors defines the error kinds shared by the checkout service and the
// helpers used to classify them at the HTTP boundary.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = stderrors.New("not found")

	// ErrIllegalTransition is returned when a payment status change is not allowed
	// by the transition table (for example approved -> rejected).
	ErrIllegalTransition = stderrors.New("illegal payment status transition")

	// ErrPaymentReferenceConflict is returned when an order already carries a
	// different provider payment id.
	ErrPaymentReferenceConflict = stderrors.New("order already has a different payment reference")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return stderrors.New(text) }

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string            `json:"field"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: map[string]string{field: message},
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// GatewayConfigError means the payment gateway cannot be called because the
// service is misconfigured. Retrying will not help; an operator must fix it.
type GatewayConfigError struct {
	Setting string
}

func (e *GatewayConfigError) Error() string {
	return fmt.Sprintf("payment gateway not configured: %s is missing", e.Setting)
}

// GatewayCallError wraps a failed call to the payment gateway. It is retryable.
type GatewayCallError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway %s returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayCallError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request later.
// Validation, configuration and not-found errors never succeed on retry, and
// neither do rejected transitions or payment reference conflicts. Anything
// else, including persistence timeouts and gateway failures, is transient.
func Retryable(err error) bool {
	if err == nil || Is(err, context.Canceled) {
		return false
	}

	var validationErr *ValidationError
	var configErr *GatewayConfigError
	switch {
	case As(err, &validationErr), As(err, &configErr):
		return false
	case Is(err, ErrNotFound), Is(err, ErrIllegalTransition), Is(err, ErrPaymentReferenceConflict):
		return false
	}
	return true
}
