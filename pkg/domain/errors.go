package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrInvalidConfig marks configuration errors: invalid enum values,
	// malformed patterns, or missing required options. Raised at
	// construction or parse time and never retried.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDependencyUnavailable is returned when an ML-backed component is
	// constructed while its capability probe reports the runtime missing.
	// Callers must substitute the pattern-backed variant explicitly.
	ErrDependencyUnavailable = errors.New("ml runtime unavailable")

	// ErrBackend marks failures of the underlying detection or
	// classification call itself (e.g. model inference errors).
	ErrBackend = errors.New("backend call failed")

	// ErrDeadlineExceeded is returned when a bounded backend call runs past
	// its deadline or is cancelled.
	ErrDeadlineExceeded = errors.New("backend call deadline exceeded")
)

// ConfigError reports an invalid option value with enough context for a
// caller to fix its input. It unwraps to ErrInvalidConfig.
type ConfigError struct {
	Option  string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config: %s: invalid value %q: %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Option, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// NewConfigError constructs a ConfigError for the named option.
func NewConfigError(option, value, message string) *ConfigError {
	return &ConfigError{Option: option, Value: value, Message: message}
}

// BackendError wraps a failure from an ML detection or classification call.
// It matches ErrBackend via errors.Is while preserving the underlying cause.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is reports whether target matches the backend error kind.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// ErrorResponse defines the standard JSON error model returned by the HTTP
// API. It avoids exposing sensitive details while providing a stable
// machine-readable code.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., INVALID_CONFIG, BACKEND_ERROR)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
