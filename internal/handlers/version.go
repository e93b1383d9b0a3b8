package handlers

import (
	"net/http"

	"tilsynsapp/internal/services"
)

type VersionHandler struct {
	service *services.VersionService
}

func NewVersionHandler(svc *services.VersionService) *VersionHandler {
	return &VersionHandler{service: svc}
}

// GET /api/v1/version
func (h *VersionHandler) Check(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.service.Check(r.Context()),
	})
}
