package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mohammadhprp/redlimit/internal/service"
	"go.uber.org/zap"
)

// defaultStatusPeriod is used by Status when period_seconds is omitted.
const defaultStatusPeriod = 60

// RateLimitHandler handles rate limit operations
type RateLimitHandler struct {
	service *service.RateLimitService
	logger  *zap.Logger
}

// NewRateLimitHandler creates a new rate limit handler
func NewRateLimitHandler(svc *service.RateLimitService, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		service: svc,
		logger:  logger,
	}
}

// Check handles POST /limits/{key} - count a request and escalate to a lock
func (h *RateLimitHandler) Check() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]

		var req service.LimitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := h.service.CheckLimit(r.Context(), key, &req)
		if err != nil {
			h.logger.Error("failed to check rate limit", zap.String("key", key), zap.Error(err))
			code := statusFor(err)
			writeError(w, code, publicMessage(err, code))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(req.Threshold, 10))
		if resp.Locked {
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
			writeJSON(w, http.StatusTooManyRequests, resp)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(req.Threshold-resp.Count-1, 0), 10))
		writeJSON(w, http.StatusOK, resp)
	}
}

// Status handles GET /limits/{key} - report window count and lock state
func (h *RateLimitHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]

		period := defaultStatusPeriod
		if raw := r.URL.Query().Get("period_seconds"); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "period_seconds must be an integer")
				return
			}
			period = p
		}

		resp, err := h.service.GetStatus(r.Context(), key, period)
		if err != nil {
			code := statusFor(err)
			writeError(w, code, publicMessage(err, code))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Reset handles DELETE /limits/{key} - clear recorded requests
func (h *RateLimitHandler) Reset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]

		if err := h.service.ResetLimit(r.Context(), key); err != nil {
			h.logger.Error("failed to reset rate limit", zap.String("key", key), zap.Error(err))
			code := statusFor(err)
			writeError(w, code, publicMessage(err, code))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"message": "rate limit reset",
			"key":     key,
		})
	}
}
