// Package errors provides the coded error type returned by the sanctuary API.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is a stable, client-visible error code.
type ErrorCode string

const (
	// Request errors
	CodeValidation ErrorCode = "VALIDATION"  // Field validation failed
	CodeBadRequest ErrorCode = "BAD_REQUEST" // Malformed request body or parameters

	// Authentication/Authorization errors
	CodeAuthn ErrorCode = "AUTHN" // Missing, invalid, expired or revoked token
	CodeAuthz ErrorCode = "AUTHZ" // Authenticated but not allowed

	// Resource errors
	CodeNotFound ErrorCode = "NOT_FOUND" // No such row
	CodeConflict ErrorCode = "CONFLICT"  // Unique constraint violated

	// Server errors
	CodeStorageWrite ErrorCode = "STORAGE_WRITE" // Blob store rejected an upload
	CodeInternal     ErrorCode = "INTERNAL"      // Persistence or unexpected failure
	CodeUnavailable  ErrorCode = "UNAVAILABLE"   // Dependency not ready
)

// Error is the body of every error response.
type Error struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlationId"`
	Details       any       `json:"details,omitempty"`
	HTTPStatus    int       `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    StatusFor(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details any) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusFor maps error codes to HTTP status codes.
func StatusFor(code ErrorCode) int {
	switch code {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeAuthn:
		return http.StatusUnauthorized
	case CodeAuthz:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
