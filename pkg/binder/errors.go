// Package binder resolves capability bindings between components through a
// pluggable strategy registry and executes them against component adapters.
package binder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies binding failures for caller handling.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed directive or context.
	// Caller-correctable, surfaced immediately, never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassResolution indicates no strategy matched the requested
	// binding. Fatal for that binding only; other bindings continue.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassExecution indicates a matched strategy failed while running.
	ErrorClassExecution ErrorClass = "execution"
)

// BinderError is a classified binding error with context.
type BinderError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Source is the source component node ID, if applicable.
	Source string `json:"source,omitempty"`

	// Suggestions lists supported trigger tuples for resolution failures.
	Suggestions []string `json:"suggestions,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *BinderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Source != "" {
		fmt.Fprintf(&b, " (source=%s)", e.Source)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, "; supported triggers: %s", strings.Join(e.Suggestions, ", "))
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *BinderError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *BinderError) Is(target error) bool {
	t, ok := target.(*BinderError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithSource adds source component context to the error.
func (e *BinderError) WithSource(nodeID string) *BinderError {
	e.Source = nodeID
	return e
}

// NewValidationError creates a validation-class error.
func NewValidationError(message string, err error) *BinderError {
	return &BinderError{
		Class:   ErrorClassValidation,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewResolutionError creates a resolution-class error carrying the supported
// trigger tuples of the source as suggestions. An empty suggestion list is
// reported as "no compatible triggers available" rather than an empty string.
func NewResolutionError(message string, suggestions []string) *BinderError {
	if len(suggestions) == 0 {
		suggestions = []string{"no compatible triggers available"}
	}
	return &BinderError{
		Class:       ErrorClassResolution,
		Code:        ErrCodeNoStrategy,
		Message:     message,
		Suggestions: suggestions,
	}
}

// NewExecutionError creates an execution-class error.
func NewExecutionError(message string, err error) *BinderError {
	return &BinderError{
		Class:   ErrorClassExecution,
		Code:    ErrCodeStrategyFailed,
		Message: message,
		Err:     err,
	}
}

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	var e *BinderError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsResolution returns true if the error is a resolution failure.
func IsResolution(err error) bool {
	var e *BinderError
	if errors.As(err, &e) {
		return e.Class == ErrorClassResolution
	}
	return false
}

// IsExecution returns true if the error is an execution failure.
func IsExecution(err error) bool {
	var e *BinderError
	if errors.As(err, &e) {
		return e.Class == ErrorClassExecution
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNoStrategy     = "NO_STRATEGY"
	ErrCodeStrategyFailed = "STRATEGY_FAILED"
	ErrCodeBadResult      = "BAD_RESULT"
)
