package handlers

import (
	"errors"
	"net/http"

	"tilsynsapp/internal/geo"
	"tilsynsapp/internal/models"
	"tilsynsapp/internal/remote"
	"tilsynsapp/internal/services"
	"tilsynsapp/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type RowsHandler struct {
	service *services.VejmanService
	authSvc *services.AuthService
	logr    *zap.Logger
}

func NewRowsHandler(svc *services.VejmanService, authSvc *services.AuthService, logr *zap.Logger) *RowsHandler {
	return &RowsHandler{service: svc, authSvc: authSvc, logr: logr}
}

// rowDetail is a row together with its edit form state.
type rowDetail struct {
	Row              models.VejmanKassenRow `json:"row"`
	Editable         bool                   `json:"editable"`
	Kvadratmeter     string                 `json:"kvadratmeter"`
	Tilladelsestype  string                 `json:"tilladelsestype"`
	Slutdato         string                 `json:"slutdato"`
	Startdato        string                 `json:"startdato"`
	Actions          []services.EditAction  `json:"actions"`
	Tilladelsestyper []string               `json:"tilladelsestyper,omitempty"`
}

func newRowDetail(e *services.EditSession) rowDetail {
	row := e.Row()
	d := rowDetail{
		Row:             row,
		Editable:        e.Editable(),
		Kvadratmeter:    e.KvadratmeterText(),
		Tilladelsestype: e.TilladelsestypeText(),
		Slutdato:        e.SlutdatoText(),
		Startdato:       utils.FormatListDate(row.Startdato),
		Actions:         e.Actions(),
	}
	if d.Actions == nil {
		d.Actions = []services.EditAction{}
	}
	if d.Editable {
		d.Tilladelsestyper = models.Tilladelsestyper
	}
	return d
}

// ListRows handles GET /api/v1/rows?status=&q=&lat=&lon=
// A missing status lists Ny, whether or not the preload refetched.
func (h *RowsHandler) ListRows(w http.ResponseWriter, r *http.Request) {
	if !h.requireLogin(w) {
		return
	}
	q := r.URL.Query()

	if err := h.service.PreloadAndMaybeRefresh(r.Context(), false); err != nil {
		h.logr.Warn("preload failed, serving cached rows", zap.Error(err))
	}

	status := models.StatusNy
	if statuses := utils.ParseQueryList(q, "status"); len(statuses) > 0 {
		parsed, ok := models.ParseFakturaStatus(statuses[0])
		switch {
		case ok:
			status = parsed
		case statuses[0] == string(models.StatusUnknown):
			status = models.StatusUnknown
		default:
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	h.service.SetActiveFilter(status)

	loc, err := geo.ParseLocation(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows := h.service.Rows(q.Get("q"), loc)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    rows,
		"total":   len(rows),
		"state":   h.service.State(),
	})
}

// Refresh handles POST /api/v1/rows/refresh
func (h *RowsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.requireLogin(w) {
		return
	}

	err := h.service.PreloadAndMaybeRefresh(r.Context(), true)
	switch {
	case errors.Is(err, remote.ErrNoAPIKey):
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	case err != nil:
		h.logr.Error("refresh failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   "failed to refresh rows",
			"state":   h.service.State(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   h.service.State(),
	})
}

// GetRow handles GET /api/v1/rows/{id}
func (h *RowsHandler) GetRow(w http.ResponseWriter, r *http.Request) {
	if !h.requireLogin(w) {
		return
	}
	row, err := h.service.FindRow(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "row not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    newRowDetail(services.NewEditSession(row)),
	})
}

// UpdateRow handles POST /api/v1/rows/{id}
func (h *RowsHandler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	if !h.requireLogin(w) {
		return
	}
	row, err := h.service.FindRow(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "row not found")
		return
	}

	var req models.RowUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	edit := services.NewEditSession(row)
	if status, err := applyEdits(edit, req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	var newStatus *models.FakturaStatus
	if req.NewStatus != nil && *req.NewStatus != "" {
		s, ok := models.ParseFakturaStatus(*req.NewStatus)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		newStatus = &s
	}

	action, err := edit.ActionFor(newStatus)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	err = h.service.UpdateRow(r.Context(), edit.Build(action), action.NewStatus)
	switch {
	case errors.Is(err, services.ErrNoChanges):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logr.Error("row update failed", zap.String("id", row.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to update row")
		return
	}

	updated, err := h.service.FindRow(row.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "row vanished after update")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"action":  action.Label,
		"data":    newRowDetail(services.NewEditSession(updated)),
	})
}

// applyEdits copies the request fields into the form. It returns the HTTP
// status to use when a field is rejected.
func applyEdits(edit *services.EditSession, req models.RowUpdateRequest) (int, error) {
	if req.Kvadratmeter == nil && req.Tilladelsestype == nil && req.Slutdato == nil {
		return 0, nil
	}
	if !edit.Editable() {
		return http.StatusConflict, services.ErrNotEditable
	}
	if req.Kvadratmeter != nil {
		_ = edit.SetKvadratmeter(*req.Kvadratmeter)
		if !edit.KvadratmeterValid() {
			return http.StatusBadRequest, errors.New(services.MsgInvalidKvadratmeter)
		}
	}
	if req.Tilladelsestype != nil {
		_ = edit.SetTilladelsestype(*req.Tilladelsestype)
	}
	if req.Slutdato != nil {
		_ = edit.SetSlutdato(*req.Slutdato)
		if !edit.DateValid() {
			return http.StatusBadRequest, utils.ErrInvalidDate
		}
	}
	return 0, nil
}

func (h *RowsHandler) requireLogin(w http.ResponseWriter) bool {
	if err := h.authSvc.RequireLoggedIn(); err != nil {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return false
	}
	return true
}
