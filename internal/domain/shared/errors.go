// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrExpired         = errors.New("expired")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "experiment", "assignment", "analysis"
	Op      string // Operation that failed, e.g., "Create", "Start"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Experiment domain errors
var (
	ErrExperimentNotFound      = NewDomainError("experiment", "Find", ErrNotFound, "experiment not found")
	ErrExperimentAlreadyExists = NewDomainError("experiment", "Create", ErrAlreadyExists, "experiment already exists")
	ErrTrafficNotConserved     = NewDomainError("experiment", "Validate", ErrValidation, "variant traffic must sum to 100%")
	ErrNoPrimaryMetric         = NewDomainError("experiment", "Validate", ErrValidation, "at least one target metric must be primary")
	ErrSampleSizeTooSmall      = NewDomainError("experiment", "Validate", ErrValidation, "minimum sample size must be at least 100")
	ErrTooFewVariants          = NewDomainError("experiment", "Start", ErrValidation, "experiment needs at least 2 variants")
	ErrNoTargetMetrics         = NewDomainError("experiment", "Start", ErrValidation, "experiment needs at least one target metric")
	ErrNotDraft                = NewDomainError("experiment", "Start", ErrStateTransition, "experiment is not in draft state")
	ErrNotRunning              = NewDomainError("experiment", "Stop", ErrStateTransition, "experiment is not running")
	ErrNotPaused               = NewDomainError("experiment", "Resume", ErrStateTransition, "experiment is not paused")
	ErrTerminalState           = NewDomainError("experiment", "Transition", ErrStateTransition, "experiment is in a terminal state")
	ErrNoFactors               = NewDomainError("experiment", "GenerateVariants", ErrInvalidInput, "multivariate design needs at least one factor")
	ErrEmptyFactorLevels       = NewDomainError("experiment", "GenerateVariants", ErrInvalidInput, "factor must declare at least one level")
)

// Assignment domain errors
var (
	ErrAssignmentNotFound = NewDomainError("assignment", "Find", ErrNotFound, "assignment not found")
	ErrInvalidUserID      = NewDomainError("assignment", "Validate", ErrInvalidID, "user ID cannot be empty")
	ErrEventNameEmpty     = NewDomainError("assignment", "Track", ErrEmptyValue, "event name cannot be empty")
)

// Analysis domain errors
var (
	ErrNoResults        = NewDomainError("analysis", "Analyze", ErrNotFound, "no results available")
	ErrInsufficientData = NewDomainError("analysis", "Analyze", ErrInvalidState, "not enough data for analysis")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsInvalidState checks if the error is a lifecycle state error.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStateTransition)
}
