package model

import (
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Case not found"}
	want := "NOT_FOUND: Case not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_Error_with_status(t *testing.T) {
	e := NewUpstreamError(503, "")
	want := "UPSTREAM_ERROR (503): case service returned status 503"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewUpstreamError_codes(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{400, ErrBadRequest},
		{401, ErrUnauthorized},
		{403, ErrForbidden},
		{404, ErrNotFound},
		{409, ErrConflict},
		{422, ErrValidationError},
		{429, ErrRateLimited},
		{500, ErrUpstreamStatus},
		{502, ErrUpstreamStatus},
	}
	for _, tt := range tests {
		e := NewUpstreamError(tt.status, "x")
		if e.Code != tt.want {
			t.Errorf("NewUpstreamError(%d).Code = %q, want %q", tt.status, e.Code, tt.want)
		}
		if e.HTTPStatus != tt.status {
			t.Errorf("NewUpstreamError(%d).HTTPStatus = %d", tt.status, e.HTTPStatus)
		}
	}
}

func TestCodeOf_wrapped(t *testing.T) {
	err := fmt.Errorf("deleting case 7: %w", NewNotFoundError("gone"))
	if got := CodeOf(err); got != ErrNotFound {
		t.Errorf("CodeOf() = %q, want %q", got, ErrNotFound)
	}
	if !IsCode(err, ErrNotFound) {
		t.Error("IsCode(NOT_FOUND) = false, want true")
	}
	if IsCode(nil, ErrNotFound) {
		t.Error("IsCode(nil) = true, want false")
	}
	if CodeOf(fmt.Errorf("plain")) != "" {
		t.Error("CodeOf(plain error) should be empty")
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewUpstreamError(405, ""))
	if got := StatusOf(err); got != 405 {
		t.Errorf("StatusOf() = %d, want 405", got)
	}
	if got := StatusOf(NewBackendTimeoutError()); got != 0 {
		t.Errorf("StatusOf(timeout) = %d, want 0", got)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "patient_name", Code: "REQUIRED", Message: "patient_name is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "patient_name" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "patient_name")
	}
}

func TestNewBackendErrors(t *testing.T) {
	if e := NewBackendUnavailableError(); e.Code != ErrBackendUnavailable {
		t.Errorf("Code = %q, want %q", e.Code, ErrBackendUnavailable)
	}
	if e := NewBackendTimeoutError(); e.Code != ErrBackendTimeout {
		t.Errorf("Code = %q, want %q", e.Code, ErrBackendTimeout)
	}
}

func TestNewPanelError(t *testing.T) {
	e := NewPanelError(ErrEmptySelection, "select at least one case")
	if e.Code != ErrEmptySelection {
		t.Errorf("Code = %q, want %q", e.Code, ErrEmptySelection)
	}
}
