package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/services"
	"github.com/aawaaz/civic-reports/internal/view"
	"go.uber.org/zap"
)

// AdminHandler handles the admin dashboard endpoints
type AdminHandler struct {
	lifecycle     *services.LifecycleEngine
	reports       *services.ReportService
	activity      *services.ActivityLogService
	registry      *view.Registry
	maxPhotoBytes int64
	logger        *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(le *services.LifecycleEngine, rs *services.ReportService, as *services.ActivityLogService, registry *view.Registry, maxPhotoBytes int64, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{lifecycle: le, reports: rs, activity: as, registry: registry, maxPhotoBytes: maxPhotoBytes, logger: logger}
}

// List handles GET /api/v1/admin/reports?status=...&refresh=true
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	c, err := sessionCollection(h.registry, r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	resp, err := listing(c, r.URL.Query().Get("status"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/v1/admin/reports/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	c, err := sessionCollection(h.registry, r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c.Counts())
}

// Map handles GET /api/v1/admin/reports/map?status=...
func (h *AdminHandler) Map(w http.ResponseWriter, r *http.Request) {
	c, err := sessionCollection(h.registry, r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = view.FilterAll
	}
	reports, err := c.Filter(status)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view.Markers(reports))
}

type reportDetail struct {
	Report *models.Report `json:"report"`
	Map    view.MapView   `json:"map"`
}

// Get handles GET /api/v1/admin/reports/{id}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	c, err := sessionCollection(h.registry, r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	report, err := currentReport(r, c, h.reports, id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, reportDetail{Report: report, Map: view.Markers([]*models.Report{report})})
}

// UpdateStatus handles POST /api/v1/admin/reports/{id}/status
// (multipart: status + optional after_image)
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	id, err := reportID(r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if err := parseMultipart(w, r, h.maxPhotoBytes); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	target, err := models.ParseStatus(r.FormValue("status"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	photo, err := formPhoto(r, "after_image", h.maxPhotoBytes)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	c, err := sessionCollection(h.registry, r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	release, err := c.Acquire(id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	defer release()
	report, err := currentReport(r, c, h.reports, id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	updated, err := h.lifecycle.RequestTransition(r.Context(), actor, report, target, photo)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	c.Apply(updated)

	// Return the held copy so the reporter join survives the update.
	if held, err := c.FindByID(id); err == nil {
		updated = held
	}
	respondJSON(w, http.StatusOK, updated)
}

// Activity handles GET /api/v1/admin/reports/{id}/activity?limit=N
func (h *AdminHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			respondServiceError(w, h.logger, fmt.Errorf("%w: limit must be a positive whole number", models.ErrValidation))
			return
		}
	}

	logs, err := h.activity.FetchByReport(r.Context(), id, limit)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
