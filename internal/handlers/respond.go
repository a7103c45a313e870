// Package handlers contains HTTP request handlers for the civic reports API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/services"
	"github.com/aawaaz/civic-reports/internal/view"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the error taxonomy onto HTTP. Validation,
// authorization, not-found and busy errors carry their own message; store
// failures get a generic one and are logged.
func respondServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrAuth):
		middleware.Unauthorized(w, err.Error())
	case errors.Is(err, models.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrStorage):
		logger.Errorw("Photo storage failed", "error", err)
		respondError(w, http.StatusBadGateway, "Failed to upload photo. Please try again.")
	case errors.Is(err, models.ErrLoad):
		logger.Errorw("Report load failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "Could not load reports. Please try again.")
	case errors.Is(err, models.ErrPersistence):
		logger.Errorw("Store write failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "Failed to save changes. Please try again.")
	default:
		logger.Errorw("Unexpected error", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", models.ErrValidation)
	}
	return nil
}

func reportID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid report id", models.ErrValidation)
	}
	return id, nil
}

// parseMultipart bounds the request body and parses the form.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxPhotoBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)
	if err := r.ParseMultipartForm(maxPhotoBytes + 1<<20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: image size should be less than %d MB", models.ErrValidation, maxPhotoBytes>>20)
		}
		return fmt.Errorf("%w: invalid multipart form", models.ErrValidation)
	}
	return nil
}

// formPhoto reads an optional image part. A missing part yields nil.
func formPhoto(r *http.Request, field string, maxPhotoBytes int64) (*models.Photo, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable %s", models.ErrValidation, field)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable %s", models.ErrValidation, field)
	}
	return &models.Photo{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// sessionCollection returns the caller's collection, loaded. refresh=true in
// the query forces a reload.
func sessionCollection(reg *view.Registry, r *http.Request) (*view.Collection, error) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		return nil, fmt.Errorf("%w: sign in required", models.ErrAuth)
	}
	c := reg.For(actor)
	if strings.EqualFold(r.URL.Query().Get("refresh"), "true") {
		return c, c.Load(r.Context())
	}
	return c, c.EnsureLoaded(r.Context())
}

// currentReport re-reads id from the store and folds the record into c, so
// detail views and mutation checks never run on a stale copy. The held copy
// is returned when c has one, which keeps the reporter join.
func currentReport(r *http.Request, c *view.Collection, reports *services.ReportService, id uuid.UUID) (*models.Report, error) {
	fresh, err := reports.Get(r.Context(), c.Actor(), id)
	if err != nil {
		return nil, err
	}
	if !c.Apply(fresh) {
		return fresh, nil
	}
	return c.FindByID(id)
}

// listResponse is the collection facet every list endpoint returns.
type listResponse struct {
	Reports []*models.Report    `json:"reports"`
	Counts  models.StatusCounts `json:"counts"`
	Filter  string              `json:"filter"`
}

func listing(c *view.Collection, status string) (*listResponse, error) {
	if status == "" {
		status = view.FilterAll
	}
	reports, err := c.Filter(status)
	if err != nil {
		return nil, err
	}
	return &listResponse{Reports: reports, Counts: c.Counts(), Filter: status}, nil
}
