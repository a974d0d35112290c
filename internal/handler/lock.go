package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mohammadhprp/redlimit/internal/service"
	"go.uber.org/zap"
)

// LockHandler handles lock operations
type LockHandler struct {
	service *service.LockService
	logger  *zap.Logger
}

// NewLockHandler creates a new lock handler
func NewLockHandler(svc *service.LockService, logger *zap.Logger) *LockHandler {
	return &LockHandler{
		service: svc,
		logger:  logger,
	}
}

// List handles GET /locks - list locked keys
func (h *LockHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.service.ListLocked(r.Context())
		if err != nil {
			code := statusFor(err)
			writeError(w, code, publicMessage(err, code))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Lock handles POST /locks - lock every key or none
func (h *LockHandler) Lock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.LockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := h.service.Lock(r.Context(), &req)
		if err != nil {
			code := statusFor(err)
			writeError(w, code, publicMessage(err, code))
			return
		}

		h.logger.Info("keys locked", zap.Strings("keys", req.Keys))
		writeJSON(w, http.StatusCreated, resp)
	}
}

// Unlock handles DELETE /locks - release keys
func (h *LockHandler) Unlock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.UnlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := h.service.Unlock(r.Context(), &req)
		if err != nil {
			code := statusFor(err)
			writeError(w, code, publicMessage(err, code))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
