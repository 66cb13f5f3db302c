package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/folk-trade/internal/core/domain"
)

// envelope is the body of every HTTP response.
type envelope struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type errorBody struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

const codeRateLimited = "RATE_LIMITED"

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindUnauthenticated:   http.StatusUnauthorized,
	domain.KindVersionMismatch:   http.StatusUnauthorized,
	domain.KindForbidden:         http.StatusForbidden,
	domain.KindMissingResource:   http.StatusNotFound,
	domain.KindInsufficientStock: http.StatusConflict,
	domain.KindSimulatedFailure:  http.StatusConflict,
	domain.KindDuplicateRequest:  http.StatusConflict,
	domain.KindPersistence:       http.StatusInternalServerError,
}

func statusFor(kind domain.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError renders err by kind. Persistence failures never expose their
// cause to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	message := "internal server error"
	var details any
	var derr *domain.Error
	if kind != domain.KindPersistence && errors.As(err, &derr) {
		message = derr.Message
		if message == "" {
			message = string(derr.Kind)
		}
		details = derr.Details
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}

	writeJSON(w, status, envelope{
		Success:   false,
		Message:   message,
		Error:     &errorBody{Code: string(kind), Details: details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeRateLimited(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, envelope{
		Success:   false,
		Message:   "too many requests",
		Error:     &errorBody{Code: codeRateLimited},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
