// Package errors provides a lightweight structured error type (PipelineError)
// for category-based classification in the CLI and daemon surfaces.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a docpress error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Staging errors
	CategoryResolution ErrorCategory = "resolution"
	CategoryFetch      ErrorCategory = "fetch"

	// Assembly errors
	CategoryClear  ErrorCategory = "clear"
	CategoryCopy   ErrorCategory = "copy"
	CategoryBuild  ErrorCategory = "build"
	CategoryVerify ErrorCategory = "verify"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// PipelineError is a structured error with category and context
type PipelineError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PipelineError
type ContextFields map[string]any

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new PipelineError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Category == category
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a PipelineError
func GetCategory(err error) ErrorCategory {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Category
	}
	return CategoryInternal
}

// ValidationError creates a new validation error
func ValidationError(message string) *PipelineError {
	return &PipelineError{
		Category: CategoryValidation,
		Severity: SeverityWarning,
		Message:  message,
	}
}

// ConfigError creates a new configuration error
func ConfigError(message string) *PipelineError {
	return &PipelineError{
		Category: CategoryConfig,
		Severity: SeverityError,
		Message:  message,
	}
}

// DaemonError creates a new daemon error
func DaemonError(message string) *PipelineError {
	return &PipelineError{
		Category: CategoryDaemon,
		Severity: SeverityError,
		Message:  message,
	}
}

// WrapError wraps an existing error with a new PipelineError at error severity
func WrapError(err error, category ErrorCategory, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Severity: SeverityError,
		Message:  message,
		Cause:    err,
	}
}
