// Package handler is the HTTP layer: it parses requests, calls services and
// translates domain errors into status codes. No business rules live here.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dropforge/socialverify/internal/apperror"
)

// ErrorResponse is the error shape every endpoint returns.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable type ("not_linked")
	Message string `json:"message"`         // human-readable, credential-free
	Field   string `json:"field,omitempty"` // offending request field, when known
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already out; logging is all that's left.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError translates a domain error into a status code and body. The
// mapping lives only here — services never see HTTP.
//
// Upstream platform trouble is 502 when it reaches this layer at all (the
// verification engine converts it into a failed outcome before that);
// configuration problems are 500 because the request was fine and the
// deployment is not.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "an internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotLinked):
		status, errorType = http.StatusBadRequest, "not_linked"
	case errors.Is(err, apperror.ErrNoPendingCode):
		status, errorType = http.StatusBadRequest, "no_pending_code"
	case errors.Is(err, apperror.ErrCodeMismatch):
		status, errorType = http.StatusBadRequest, "code_mismatch"
	case errors.Is(err, apperror.ErrCodeExpired):
		status, errorType = http.StatusBadRequest, "code_expired"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		status, errorType = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperror.ErrConfiguration):
		status, errorType = http.StatusInternalServerError, "configuration_error"
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
