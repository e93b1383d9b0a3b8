package handlers

import (
	"errors"
	"net/http"

	"tilsynsapp/internal/logger"
	"tilsynsapp/internal/services"

	"go.uber.org/zap"
)

type AuthHandler struct {
	authSvc *services.AuthService
	logr    *logger.Logger
}

func NewAuthHandler(svc *services.AuthService, logr *logger.Logger) *AuthHandler {
	return &AuthHandler{authSvc: svc, logr: logr}
}

type requestLinkReq struct {
	Email string `json:"email"`
}

// GET /auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.authSvc.State(),
	})
}

// POST /auth/request-link
func (h *AuthHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	var req requestLinkReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	err := h.authSvc.SendLoginEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, services.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   "failed to request login link",
			"data":    h.authSvc.State(),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    h.authSvc.State(),
	})
}

// POST /auth/poll
func (h *AuthHandler) Poll(w http.ResponseWriter, r *http.Request) {
	msg, err := h.authSvc.PollOnce(r.Context())
	if err != nil {
		h.logr.Error("login poll failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
		"data":    h.authSvc.State(),
	})
}

// POST /auth/reset
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.ResetLogin(); err != nil {
		h.logr.Error("failed to reset login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset login")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.authSvc.State(),
	})
}
