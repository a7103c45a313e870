package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/services"
	"github.com/aawaaz/civic-reports/internal/view"
	"go.uber.org/zap"
)

// ReportHandler handles the citizen endpoints
type ReportHandler struct {
	reports       *services.ReportService
	feedback      *services.FeedbackService
	registry      *view.Registry
	maxPhotoBytes int64
	logger        *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(rs *services.ReportService, fs *services.FeedbackService, registry *view.Registry, maxPhotoBytes int64, logger *zap.SugaredLogger) *ReportHandler {
	return &ReportHandler{reports: rs, feedback: fs, registry: registry, maxPhotoBytes: maxPhotoBytes, logger: logger}
}

// List handles GET /api/v1/reports
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
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

// Submit handles POST /api/v1/reports (multipart: form fields + before_image)
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	if err := parseMultipart(w, r, h.maxPhotoBytes); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	in := services.ReportInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Location:    r.FormValue("location"),
		Area:        r.FormValue("area"),
	}
	var err error
	if in.Latitude, err = formFloat(r, "latitude"); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if in.Longitude, err = formFloat(r, "longitude"); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	photo, err := formPhoto(r, "before_image", h.maxPhotoBytes)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	report, err := h.reports.Submit(r.Context(), actor, in, photo)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	h.registry.For(actor).Prepend(report)
	respondJSON(w, http.StatusCreated, report)
}

// Get handles GET /api/v1/reports/{id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	respondJSON(w, http.StatusOK, report)
}

type feedbackRequest struct {
	Satisfaction string `json:"satisfaction"`
	// Rating is kept raw so fractional or quoted values can be rejected
	// with a validation message instead of a decode error.
	Rating  json.RawMessage `json:"rating"`
	Comment string          `json:"comment"`
}

// Feedback handles POST /api/v1/reports/{id}/feedback
func (h *ReportHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	id, err := reportID(r)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	rating, err := services.ParseRating(strings.Trim(string(req.Rating), `"`))
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

	updated, err := h.feedback.Submit(r.Context(), actor, report, models.Satisfaction(req.Satisfaction), rating, req.Comment)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	c.Apply(updated)
	respondJSON(w, http.StatusOK, updated)
}

// formFloat parses an optional numeric form field.
func formFloat(r *http.Request, field string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", models.ErrValidation, field)
	}
	return &f, nil
}
