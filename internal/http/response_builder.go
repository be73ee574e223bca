package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"finpulse/internal/auth"
	"finpulse/internal/core"
	"finpulse/internal/log"
	"finpulse/internal/store"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type tokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt int64         `json:"expiresAt"`
	User      auth.Identity `json:"user"`
}

// acceptedBody answers writes. The record itself arrives through the feed.
type acceptedBody struct {
	Status string `json:"status"`
}

var accepted = acceptedBody{Status: "accepted"}

// requestFields renames domain fields to the names used in request bodies.
var requestFields = map[string]string{
	"kind":         "type",
	"name":         "goalName",
	"targetAmount": "goalAmount",
}

func wireField(field string) string {
	if f, ok := requestFields[field]; ok {
		return f
	}
	return field
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP statuses. Upstream details
// are never echoed to the client.
func statusFor(err error) (int, errorBody) {
	switch {
	case errors.Is(err, core.ErrValidation):
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			f := wireField(ve.Field)
			return http.StatusUnprocessableEntity, errorBody{Error: f + ": " + ve.Reason, Field: f}
		}
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error()}
	case errors.Is(err, core.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error()}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorBody{Error: auth.ErrInvalidCredentials.Error()}
	case errors.Is(err, core.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUserNotFound):
		return http.StatusUnauthorized, errorBody{Error: "authentication required"}
	case errors.Is(err, auth.ErrInvalidResetToken):
		return http.StatusBadRequest, errorBody{Error: auth.ErrInvalidResetToken.Error()}
	case errors.Is(err, auth.ErrProviderDisabled):
		return http.StatusNotImplemented, errorBody{Error: auth.ErrProviderDisabled.Error()}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not found"}
	case errors.Is(err, core.ErrUpstream):
		return http.StatusBadGateway, errorBody{Error: "upstream service unavailable, try again"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorBody{Error: "request cancelled"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	logger := log.FromContext(r.Context())
	switch {
	case status >= 500:
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldError, err, log.FieldStatusCode, status, log.FieldPath, r.URL.Path,
			log.FieldErrorType, errorType(status))
	case status != http.StatusUnauthorized:
		logger.DebugContext(r.Context(), "Request rejected",
			log.FieldError, err, log.FieldStatusCode, status, log.FieldPath, r.URL.Path,
			log.FieldErrorType, errorType(status))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="finpulse"`)
	}
	writeJSON(w, status, body)
}

func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return log.ErrorTypeAuth
	case http.StatusNotFound:
		return log.ErrorTypeNotFound
	case http.StatusBadGateway:
		return log.ErrorTypeUpstream
	}
	if status >= 500 {
		return log.ErrorTypeInternal
	}
	return log.ErrorTypeValidation
}
