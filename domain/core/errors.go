package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Fit-time errors
	ErrInsufficientData    = errors.New("insufficient data for analysis")
	ErrSingularCorrelation = errors.New("correlation matrix is not positive definite")

	// Strategy errors
	ErrUnknownStrategy = errors.New("unknown generation strategy")
	ErrNotFitted       = errors.New("strategy has not been fitted")

	// Request errors
	ErrInvalidRequest = errors.New("invalid generation request")
	ErrUnknownVisit   = fmt.Errorf("%w: visit not in schedule", ErrInvalidRequest)
	ErrUnknownArm     = fmt.Errorf("%w: unknown treatment arm", ErrInvalidRequest)
)

// Error constructors with context
func NewInsufficientDataError(what string, have, need int) error {
	return fmt.Errorf("%w: %s has %d rows, need at least %d", ErrInsufficientData, what, have, need)
}

func NewInvalidRequestError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRequest, field, reason)
}

func NewUnknownStrategyError(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Error checking helpers
func IsInsufficientDataError(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

func IsRequestError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownStrategy)
}
