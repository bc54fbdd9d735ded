package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

const (
	codeInvalidInput  = "invalid_input"
	codeInvalidState  = "invalid_state"
	codeBusinessRule  = "business_rule"
	codeUnauthorized  = "unauthorized"
	codeForbidden     = "forbidden"
	codeNotFound      = "not_found"
	codeConflict      = "conflict"
	codeUnavailable   = "temporarily_unavailable"
	codeInternalError = "internal_error"
	codeRateLimited   = "rate_limited"
)

// envelope is the response body shape for every /api route.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func mapErrorToHTTPStatus(err error) (int, string) {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput
	case domain.IsKind(err, domain.ErrInvalidState):
		return http.StatusBadRequest, codeInvalidState
	case domain.IsKind(err, domain.ErrBusinessRule):
		return http.StatusBadRequest, codeBusinessRule
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict, codeConflict
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrQuotaExceeded):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternalError
	}
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		if rt.production {
			message = "internal server error"
		}
	}
	writeEnvelope(w, status, envelope{Message: message, Code: code})
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	writeJSON(w, status, body)
}
