package errors

import (
	"errors"
	"net/http"
	"strings"
)

// NewError creates a new LecternError with the given parameters.
// It is a general-purpose constructor that allows full control over
// the error's fields. For most cases, you should use one of the
// specialized constructors below.
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *LecternError {
	return &LecternError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewNetworkError creates a transport error. attempts is the number of calls
// made before giving up; err usually aggregates every attempt's failure.
//
// Example:
//
//	err := NewNetworkError("completion failed after retries", 2, combined)
func NewNetworkError(message string, attempts int, err error) *LecternError {
	return &LecternError{
		Type:    NetworkError,
		Message: message,
		Code:    http.StatusBadGateway,
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		err: err,
	}
}

// NewTimeoutError creates a deadline error for completion calls.
func NewTimeoutError(message string, attempts int, err error) *LecternError {
	return &LecternError{
		Type:    TimeoutError,
		Message: message,
		Code:    http.StatusGatewayTimeout,
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		err: err,
	}
}

// NewMalformedOutputError records that a named extraction strategy could not
// parse the completion output.
func NewMalformedOutputError(strategy string, err error) *LecternError {
	return &LecternError{
		Type:    MalformedOutputError,
		Message: "strategy " + strategy + " could not parse output",
		Code:    http.StatusUnprocessableEntity,
		Details: map[string]interface{}{
			"strategy": strategy,
		},
		err: err,
	}
}

// NewSchemaMismatchError records parsed output that lacks required fields.
//
// Example:
//
//	err := NewSchemaMismatchError("lesson", []string{"title"})
func NewSchemaMismatchError(schema string, missing []string) *LecternError {
	return &LecternError{
		Type:    SchemaMismatchError,
		Message: "output for " + schema + " is missing " + strings.Join(missing, ", "),
		Code:    http.StatusUnprocessableEntity,
		Details: map[string]interface{}{
			"schema":  schema,
			"missing": missing,
		},
	}
}

// NewPersistenceError wraps an audit sink failure.
func NewPersistenceError(sink string, err error) *LecternError {
	return &LecternError{
		Type:    PersistenceError,
		Message: "audit sink " + sink + " failed",
		Code:    http.StatusInternalServerError,
		Details: map[string]interface{}{
			"sink": sink,
		},
		err: err,
	}
}

// NewValidationError creates a validation error with appropriate defaults.
// Use this for any request validation failures, such as:
//   - Invalid input formats
//   - Missing required fields
//   - Unknown schema names
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *LecternError {
	return &LecternError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewRateLimitError creates a rate limit error with appropriate defaults.
func NewRateLimitError(requestID string, retryAfter int) *LecternError {
	return &LecternError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewInternalError creates an internal error with appropriate defaults.
func NewInternalError(requestID string, err error) *LecternError {
	return &LecternError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// IsType reports whether any error in err's chain is a LecternError of the
// given type.
func IsType(err error, errType ErrorType) bool {
	var le *LecternError
	if !errors.As(err, &le) {
		return false
	}
	return le.Type == errType
}

// WithRequestID returns a copy of err carrying the request ID. Non-lectern
// errors are wrapped as internal errors.
func WithRequestID(err error, requestID string) *LecternError {
	var le *LecternError
	if errors.As(err, &le) {
		cp := *le
		cp.RequestID = requestID
		return &cp
	}
	return NewInternalError(requestID, err)
}
