package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrUpstreamStatus     = "UPSTREAM_ERROR"
)

// Panel-specific error codes.
const (
	ErrNotConfirmed     = "NOT_CONFIRMED"
	ErrEmptySelection   = "EMPTY_SELECTION"
	ErrNothingToExport  = "NOTHING_TO_EXPORT"
	ErrExportTruncated  = "EXPORT_TRUNCATED"
	ErrNothingToUndo    = "NOTHING_TO_UNDO"
	ErrPartialFailure   = "PARTIAL_FAILURE"
	ErrNotOnCurrentPage = "NOT_ON_CURRENT_PAGE"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`

	// HTTPStatus is the status the case API answered with, when the error
	// originated upstream. Zero otherwise.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, or "" when err is not
// (and does not wrap) an *ErrorEnvelope.
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

// IsCode reports whether err carries the given envelope code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.HTTPStatus
	}
	return 0
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The case service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The case service did not respond in time",
	}
}

// NewUpstreamError maps a non-2xx case API status to an envelope. The code
// follows the status class; the status itself is kept in HTTPStatus.
func NewUpstreamError(status int, msg string) *ErrorEnvelope {
	code := ErrUpstreamStatus
	switch status {
	case 400:
		code = ErrBadRequest
	case 401:
		code = ErrUnauthorized
	case 403:
		code = ErrForbidden
	case 404:
		code = ErrNotFound
	case 409:
		code = ErrConflict
	case 422:
		code = ErrValidationError
	case 429:
		code = ErrRateLimited
	}
	if msg == "" {
		msg = fmt.Sprintf("case service returned status %d", status)
	}
	return &ErrorEnvelope{Code: code, Message: msg, HTTPStatus: status}
}

// NewPanelError returns an envelope for a panel-level precondition failure.
func NewPanelError(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}
