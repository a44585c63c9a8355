// Package errors provides standardized error handling for flownet components.
// It defines the engine's failure categories as sentinel errors, an error
// classification wrapper, and helpers for consistent error wrapping across
// the system.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or state
	ErrorInvalid
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Standard error variables for the engine's failure categories. Every failure
// in the engine is local and non-fatal: callers observe one of these, log it,
// and leave state unchanged.
var (
	// ErrValidation indicates a malformed node, connection, recipe, or chain
	// at registration time. The registration is rejected with no mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown id was referenced. The operation is a
	// no-op.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientResource indicates a conversion start could not cover
	// its recipe inputs. No partial consumption occurs.
	ErrInsufficientResource = errors.New("insufficient resources")

	// ErrCapacityExceeded indicates a converter is at its configured
	// concurrent-process limit.
	ErrCapacityExceeded = errors.New("converter capacity exceeded")

	// ErrWorkerOffload indicates the parallel optimization worker failed.
	// The optimizer falls back to synchronous computation for that pass.
	ErrWorkerOffload = errors.New("worker offload failed")

	// ErrChainStep indicates a chain step could not be scheduled or its
	// process failed. The chain transitions to failed and is never retried.
	ErrChainStep = errors.New("chain step failed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsValidation reports whether err indicates a rejected registration.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err indicates an unknown id.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInsufficientResource reports whether err indicates uncovered recipe inputs.
func IsInsufficientResource(err error) bool { return errors.Is(err, ErrInsufficientResource) }

// IsCapacityExceeded reports whether err indicates a converter at its limit.
func IsCapacityExceeded(err error) bool { return errors.Is(err, ErrCapacityExceeded) }

// IsWorkerOffload reports whether err came from the parallel worker boundary.
func IsWorkerOffload(err error) bool { return errors.Is(err, ErrWorkerOffload) }

// IsChainStep reports whether err terminated a conversion chain.
func IsChainStep(err error) bool { return errors.Is(err, ErrChainStep) }

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}
	return errors.Is(err, ErrWorkerOffload)
}

// IsInvalid checks if an error is due to invalid input or state
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientResource) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrChainStep)
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient() or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
