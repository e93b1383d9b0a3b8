package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"

	"tilsynsapp/internal/services"

	"go.uber.org/zap"
)

type RegelRytterenHandler struct {
	service *services.RegelRytterenService
	authSvc *services.AuthService
	logr    *zap.Logger
}

func NewRegelRytterenHandler(svc *services.RegelRytterenService, authSvc *services.AuthService, logr *zap.Logger) *RegelRytterenHandler {
	return &RegelRytterenHandler{service: svc, authSvc: authSvc, logr: logr}
}

// GET /api/v1/regelrytteren
func (h *RegelRytterenHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"data":            h.service.Settings(),
		"message":         h.service.StatusMessage(),
		"lockout_seconds": int(math.Ceil(h.service.LockoutRemaining().Seconds())),
	})
}

// POST /api/v1/regelrytteren
// Omitted fields (or an empty body) keep the current form values.
func (h *RegelRytterenHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.RequireLoggedIn(); err != nil {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	settings := h.service.Settings()
	if err := decodeJSON(w, r, &settings); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	settings = h.service.SetSettings(settings)

	res := h.service.Submit(r.Context())
	status := http.StatusAccepted
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]interface{}{
		"success": res.Success,
		"message": res.Message,
		"data":    settings,
	})
}
