package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// statusByCode maps error codes that do not follow their category.
var statusByCode = map[string]int{
	apperrors.ErrCodeRetrievalUnavailable: http.StatusServiceUnavailable,
	apperrors.ErrCodeRetrievalBackendDown: http.StatusServiceUnavailable,
	apperrors.ErrCodeRetrievalTimeout:     http.StatusGatewayTimeout,
	apperrors.ErrCodeSyncLeaseHeld:        http.StatusConflict,
	apperrors.ErrCodeStateStore:           http.StatusServiceUnavailable,
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	if ae, ok := apperrors.As(err); ok {
		if code, ok := statusByCode[ae.Code]; ok {
			return code
		}
		if ae.Category == apperrors.CategoryValidation {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := ErrorResponse{Code: "internal_error", Message: "internal error"}
	if ae, ok := apperrors.As(err); ok {
		body = ErrorResponse{Code: ae.Code, Message: ae.Message, Suggestion: ae.Suggestion}
	} else if status != http.StatusInternalServerError {
		body = ErrorResponse{Code: "timeout", Message: err.Error()}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("http_request_failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: apperrors.ErrCodeInvalidInput, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
