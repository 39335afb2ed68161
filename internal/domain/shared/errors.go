// Package shared contains common domain types, errors and events that are used
// across the alarm and task domains. This package has zero external dependencies.
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

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Storage errors
	ErrPersistence = errors.New("persistence failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "alarm", "task", "sound"
	Op      string // Operation that failed, e.g., "Create", "Dismiss"
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

// Alarm domain errors
var (
	ErrAlarmNotFound     = NewDomainError("alarm", "Find", ErrNotFound, "alarm not found")
	ErrInvalidAlarmTime  = NewDomainError("alarm", "Validate", ErrInvalidFormat, "alarm time must be HH:MM")
	ErrInvalidWeekday    = NewDomainError("alarm", "Validate", ErrInvalidInput, "repeat days must be Mon..Sun")
	ErrAlarmIDRequired   = NewDomainError("alarm", "Validate", ErrInvalidID, "alarm id is required")
	ErrAlarmNotRingeable = NewDomainError("alarm", "Fire", ErrInvalidState, "alarm is inactive or already ringing")
)

// Task domain errors
var (
	ErrTaskNotFound      = NewDomainError("task", "Find", ErrNotFound, "task not found")
	ErrTaskTitleRequired = NewDomainError("task", "Validate", ErrEmptyValue, "task title is required")
	ErrInvalidTaskDate   = NewDomainError("task", "Validate", ErrInvalidFormat, "task date must be YYYY-MM-DD")
	ErrInvalidTaskTime   = NewDomainError("task", "Validate", ErrInvalidFormat, "task time must be HH:MM")
	ErrNegativeReminder  = NewDomainError("task", "Validate", ErrNegativeValue, "reminder minutes cannot be negative")
	ErrTaskIDRequired    = NewDomainError("task", "Validate", ErrInvalidID, "task id is required")
	ErrReminderNotDue    = NewDomainError("task", "Remind", ErrInvalidState, "reminder already fired or task changed")
)

// Sound domain errors
var (
	ErrSoundNotFound     = NewDomainError("sound", "Find", ErrNotFound, "sound not found")
	ErrSoundNameRequired = NewDomainError("sound", "Validate", ErrEmptyValue, "sound name must not be empty")
	ErrBuiltinSound      = NewDomainError("sound", "Modify", ErrAlreadyExists, "built-in sounds cannot be replaced or deleted")
	ErrUnsupportedSound  = NewDomainError("sound", "Validate", ErrInvalidFormat, "unsupported sound file type")
	ErrUndecodableSound  = NewDomainError("sound", "Validate", ErrInvalidFormat, "sound file could not be decoded")
	ErrSoundNameTaken    = NewDomainError("sound", "Create", ErrAlreadyExists, "another sound already uses this file name")
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
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}
