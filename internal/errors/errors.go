// Package errors provides standardized error handling for the catalog service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the catalog service.
type ErrorCode string

const (
	// Validation errors
	CAT_VALIDATION  ErrorCode = "CAT_VALIDATION"  // Missing or malformed field
	CAT_BAD_REQUEST ErrorCode = "CAT_BAD_REQUEST" // Unparseable request
	CAT_MEDIA_TYPE  ErrorCode = "CAT_MEDIA_TYPE"  // Upload content type not allowed for its field
	CAT_MEDIA_SIZE  ErrorCode = "CAT_MEDIA_SIZE"  // Upload exceeds the size limit
	CAT_TIMEOUT     ErrorCode = "CAT_TIMEOUT"     // Request body not received in time

	// Authentication/Authorization errors
	CAT_AUTHN         ErrorCode = "CAT_AUTHN"         // Missing or rejected credential
	CAT_TOKEN_INVALID ErrorCode = "CAT_TOKEN_INVALID" // Bearer token failed verification
	CAT_TOKEN_EXPIRED ErrorCode = "CAT_TOKEN_EXPIRED" // Bearer token past its expiry
	CAT_AUTHZ         ErrorCode = "CAT_AUTHZ"         // Valid credential, insufficient role

	// Resource errors
	CAT_NOT_FOUND ErrorCode = "CAT_NOT_FOUND" // Referenced id absent
	CAT_CONFLICT  ErrorCode = "CAT_CONFLICT"  // Duplicate unique key

	// Throttling
	CAT_RATE_LIMITED ErrorCode = "CAT_RATE_LIMITED" // Client exceeded its request budget

	// Server errors
	CAT_INTERNAL    ErrorCode = "CAT_INTERNAL"    // Unexpected fault
	CAT_UNAVAILABLE ErrorCode = "CAT_UNAVAILABLE" // Dependency unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Validation is shorthand for a CAT_VALIDATION error without a correlation ID.
func Validation(format string, args ...interface{}) *Error {
	return New(CAT_VALIDATION, fmt.Sprintf(format, args...), "")
}

// NotFound is shorthand for a CAT_NOT_FOUND error without a correlation ID.
func NotFound(message string) *Error {
	return New(CAT_NOT_FOUND, message, "")
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithCorrelation returns a copy of e stamped with the request's correlation ID.
func (e *Error) WithCorrelation(correlationID string) *Error {
	cp := *e
	cp.CorrelationID = correlationID
	return &cp
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case CAT_VALIDATION, CAT_BAD_REQUEST, CAT_MEDIA_TYPE, CAT_MEDIA_SIZE:
		return http.StatusBadRequest
	case CAT_AUTHN, CAT_TOKEN_INVALID, CAT_TOKEN_EXPIRED:
		return http.StatusUnauthorized
	case CAT_AUTHZ:
		return http.StatusForbidden
	case CAT_NOT_FOUND:
		return http.StatusNotFound
	case CAT_CONFLICT:
		return http.StatusConflict
	case CAT_TIMEOUT:
		return http.StatusRequestTimeout
	case CAT_RATE_LIMITED:
		return http.StatusTooManyRequests
	case CAT_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
