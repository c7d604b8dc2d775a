// Package transport contains the HTTP router, middleware chain, and request
// handlers of the panel BFF.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrRateLimited:        http.StatusTooManyRequests,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrUpstreamStatus:     http.StatusBadGateway,

	model.ErrNotConfirmed:     http.StatusPreconditionRequired,
	model.ErrEmptySelection:   http.StatusConflict,
	model.ErrNothingToExport:  http.StatusConflict,
	model.ErrNothingToUndo:    http.StatusConflict,
	model.ErrNotOnCurrentPage: http.StatusConflict,
	model.ErrExportTruncated:  http.StatusRequestEntityTooLarge,
	model.ErrPartialFailure:   http.StatusMultiStatus,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. err may wrap the envelope; anything else becomes a
// generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, statusFor(ee.Code), errorResponse{Error: ee})
}

func statusFor(code string) int {
	if status := statusForCode[code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// writeError is WriteError for handlers: the envelope carries the request's
// trace ID and unexpected errors are logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		observability.RequestLogger(r.Context(), logger).Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		ee = model.NewInternalError()
	}
	out := *ee
	out.TraceID, _ = observability.TraceIDs(r.Context())
	if statusFor(out.Code) >= http.StatusInternalServerError {
		observability.RequestLogger(r.Context(), logger).Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", out.Code),
			zap.Error(err),
		)
	}
	WriteJSON(w, statusFor(out.Code), errorResponse{Error: &out})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

// writeAttachment sends data as a download named filename.
func writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
