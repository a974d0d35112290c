package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mohammadhprp/redlimit/internal/limiter"
	"github.com/mohammadhprp/redlimit/internal/lock"
	"github.com/mohammadhprp/redlimit/internal/mutex"
	"github.com/mohammadhprp/redlimit/internal/service"
)

// writeJSON writes body as JSON with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, lock.ErrNoKeys),
		errors.Is(err, lock.ErrInvalidDuration),
		errors.Is(err, limiter.ErrInvalidPolicy):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrAlreadyLocked):
		return http.StatusConflict
	case errors.Is(err, mutex.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error details from clients.
func publicMessage(err error, statusCode int) string {
	if statusCode == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
