// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for registry and messaging failures
var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrProtocolNotFound   = errors.New("protocol not found")
	ErrFunctionUndefined  = errors.New("function undefined")
	ErrParameterUndefined = errors.New("parameter undefined")
	ErrIllegalArgument    = errors.New("illegal argument")
	ErrCoordination       = errors.New("coordination store error")
	ErrValidationFailed   = errors.New("validation failed")
)

// CoordinationError wraps a failure from the shared coordination store with
// the operation and key that produced it.
type CoordinationError struct {
	Operation string
	Key       string
	Err       error
}

func (e *CoordinationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("coordination %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("coordination %s on %s failed: %v", e.Operation, e.Key, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return ErrCoordination
}

// NewCoordinationError creates a coordination error
func NewCoordinationError(operation, key string, err error) *CoordinationError {
	return &CoordinationError{Operation: operation, Key: key, Err: err}
}

// NotFoundError identifies a missing entity by kind and id.
type NotFoundError struct {
	Kind string // "device", "product", "protocol", "function", "parameter"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case "product":
		return ErrProductNotFound
	case "protocol":
		return ErrProtocolNotFound
	case "function":
		return ErrFunctionUndefined
	case "parameter":
		return ErrParameterUndefined
	}
	return ErrDeviceNotFound
}

// NewNotFoundError creates a not-found error for the given entity kind
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
