package circuitbreaker

import (
	"fmt"

	"translate-hub/pkg/errors"
)

// CircuitBreakerError is returned for calls rejected by an open circuit
type CircuitBreakerError struct {
	CircuitName string
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open, request rejected", e.CircuitName)
}

// Unwrap makes open-circuit rejections match errors.ErrBackendUnavailable
func (e *CircuitBreakerError) Unwrap() error {
	return errors.ErrBackendUnavailable
}

// NewCircuitBreakerOpenError creates an error for when circuit is open
func NewCircuitBreakerOpenError(name string) *CircuitBreakerError {
	return &CircuitBreakerError{CircuitName: name}
}

// IsCircuitBreakerError checks if an error is a circuit breaker rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
