// Package errors provides the error taxonomy for the lectern reconciliation
// engine. It includes structured error types, JSON response formatting for the
// HTTP boundary, and integrated logging with Uber's zap logger.
//
// The taxonomy mirrors how the engine reacts to a failure:
//
//   - NetworkError / TimeoutError: transport failures. Retried up to the
//     client's budget, then propagated. This is the only class that escapes
//     the pipeline.
//   - MalformedOutputError: an extraction strategy could not parse the output.
//     The fallback chain advances to the next strategy.
//   - SchemaMismatchError: the output parsed but required fields are missing.
//     The fallback chain advances, ultimately to a typed default.
//   - PersistenceError: the audit sink failed. Logged, never returned.
//
// Basic usage:
//
//	err := errors.NewSchemaMismatchError("verse_of_day", []string{"reference"})
//	if errors.IsType(err, errors.SchemaMismatchError) { ... }
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents the category of a failure. Each type carries the
// pipeline's reaction to it and an HTTP status for the service boundary.
type ErrorType string

const (
	// NetworkError represents transport failures talking to the completion endpoint
	NetworkError ErrorType = "network_error"

	// TimeoutError represents completion calls that exceeded their deadline
	TimeoutError ErrorType = "timeout_error"

	// MalformedOutputError represents output a strategy could not parse
	MalformedOutputError ErrorType = "malformed_output"

	// SchemaMismatchError represents parsed output missing required fields
	SchemaMismatchError ErrorType = "schema_mismatch"

	// PersistenceError represents audit sink write failures
	PersistenceError ErrorType = "persistence_error"

	// ValidationError represents invalid caller input
	ValidationError ErrorType = "validation_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"

	// InternalError represents unexpected internal errors
	InternalError ErrorType = "internal_error"

	// RateLimitError represents rate limiting at the service boundary
	RateLimitError ErrorType = "rate_limit_error"

	// NotFoundError represents unknown schemas or routes
	NotFoundError ErrorType = "not_found"
)

// LecternError is the error type used across the engine. It implements the
// error interface and carries enough context to be logged with zap or
// serialized to JSON at the HTTP boundary.
type LecternError struct {
	// Type categorizes the error
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id,omitempty"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *LecternError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *LecternError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing type-based
// error matching while ignoring other fields.
func (e *LecternError) Is(target error) bool {
	t, ok := target.(*LecternError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Retryable reports whether the failure is a transport error that the
// completion client may retry.
func (e *LecternError) Retryable() bool {
	return e.Type == NetworkError || e.Type == TimeoutError
}

// WriteError formats and writes a LecternError to an http.ResponseWriter.
// It sets the appropriate content type and status code, then writes
// the error as a JSON response.
func WriteError(w http.ResponseWriter, err *LecternError) {
	code := err.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(err)
}

// ErrorWithType writes an error of the given type, picking up the request ID
// from the response headers when the request ID middleware has set it.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	WriteError(w, &LecternError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
