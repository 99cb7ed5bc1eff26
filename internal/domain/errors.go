// Package domain provides the canonical error taxonomy for the gateway.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType categorizes a gateway error. The values double as the wire-level
// error type in the Anthropic-style error envelope.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed inbound request body.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeConfiguration indicates the backend provider could not be
	// resolved from configuration. No backend call was attempted.
	ErrorTypeConfiguration ErrorType = "configuration_error"

	// ErrorTypeAuthentication indicates the backend rejected our credentials.
	ErrorTypeAuthentication ErrorType = "authentication_error"

	// ErrorTypeBackend indicates the backend invocation itself failed.
	ErrorTypeBackend ErrorType = "proxy_error"
)

// APIError is a gateway error that frontdoors translate into the
// protocol-appropriate error envelope.
type APIError struct {
	// Type is the category of error.
	Type ErrorType `json:"type"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode overrides the default HTTP status for the type.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status to surface this error with.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeConfiguration:
		return http.StatusInternalServerError
	case ErrorTypeAuthentication, ErrorTypeBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *APIError {
	return NewAPIError(ErrorTypeConfiguration, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrBackend creates a backend invocation error.
func ErrBackend(message string) *APIError {
	return NewAPIError(ErrorTypeBackend, message)
}
