// Package services contains business logic layers.
// Services are called by handlers and talk to the store and blob contracts.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aawaaz/civic-reports/internal/blob"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportInput is the form a citizen fills in.
type ReportInput struct {
	Title       string
	Description string
	Category    string
	Location    string
	Area        string
	Latitude    *float64
	Longitude   *float64
}

func (in ReportInput) validate() (*models.Coordinates, error) {
	for _, f := range []struct{ name, value string }{
		{"title", in.Title},
		{"description", in.Description},
		{"category", in.Category},
		{"location", in.Location},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("%w: %s is required", models.ErrValidation, f.name)
		}
	}
	coords := models.NewCoordinates(in.Latitude, in.Longitude)
	if coords == nil {
		return nil, fmt.Errorf("%w: please select a location on the map", models.ErrValidation)
	}
	if err := coords.Validate(); err != nil {
		return nil, err
	}
	return coords, nil
}

// ReportService handles report submission and listing.
type ReportService struct {
	reports       store.ReportStore
	directory     store.DirectoryStore
	blobs         blob.Store
	activity      *ActivityLogService
	maxPhotoBytes int64
	now           func() time.Time
	logger        *zap.SugaredLogger
}

// NewReportService creates a report service. activity may be nil.
func NewReportService(reports store.ReportStore, directory store.DirectoryStore, blobs blob.Store, activity *ActivityLogService, maxPhotoBytes int64, logger *zap.SugaredLogger) *ReportService {
	return &ReportService{
		reports:       reports,
		directory:     directory,
		blobs:         blobs,
		activity:      activity,
		maxPhotoBytes: maxPhotoBytes,
		now:           time.Now,
		logger:        logger,
	}
}

// Submit validates the form, stores the before photo and inserts the report.
// Nothing is inserted unless the photo was stored.
func (s *ReportService) Submit(ctx context.Context, actor models.Actor, in ReportInput, photo *models.Photo) (*models.Report, error) {
	if actor.Role != models.RoleCitizen {
		return nil, fmt.Errorf("%w: only citizens can submit reports", models.ErrForbidden)
	}
	coords, err := in.validate()
	if err != nil {
		return nil, err
	}
	if photo == nil {
		return nil, fmt.Errorf("%w: please upload a before image", models.ErrValidation)
	}
	if err := blob.ValidatePhoto(photo, s.maxPhotoBytes); err != nil {
		return nil, err
	}

	name := blob.ObjectName(blob.PrefixBefore, photo.Name, s.now())
	url, err := s.blobs.Put(ctx, name, photo.ContentType, photo.Data)
	if err != nil {
		s.logger.Errorw("Before-image upload failed", "object", name, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	draft := &models.ReportDraft{
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Category:       strings.TrimSpace(in.Category),
		Location:       strings.TrimSpace(in.Location),
		Coordinates:    coords,
		BeforeImageURL: &url,
		ReporterID:     actor.ID,
	}
	if area := strings.TrimSpace(in.Area); area != "" {
		draft.Area = &area
	}

	report, err := s.reports.InsertReport(ctx, draft)
	if err != nil {
		s.logger.Errorw("Report insert failed", "reporter", actor.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	s.logger.Infow("Report submitted", "report_id", report.ID, "reporter", actor.ID, "category", report.Category)
	s.activity.Record(ctx, report.ID, actor.ID, models.ActivitySubmission, "Report submitted")
	return report, nil
}

// ListFor returns every report actor may see, newest first. Admins see all
// reports joined with their reporter's profile; citizens see their own.
func (s *ReportService) ListFor(ctx context.Context, actor models.Actor) ([]*models.Report, error) {
	q := store.ReportQuery{}
	if !actor.IsAdmin() {
		q.ReporterID = &actor.ID
	}

	reports, err := s.reports.ListReports(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
	}
	if !actor.IsAdmin() || len(reports) == 0 {
		return reports, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(reports))
	var ids []uuid.UUID
	for _, r := range reports {
		if _, ok := seen[r.ReporterID]; ok {
			continue
		}
		seen[r.ReporterID] = struct{}{}
		ids = append(ids, r.ReporterID)
	}

	profiles, err := s.directory.LookupByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: reporter lookup: %v", models.ErrLoad, err)
	}
	for _, r := range reports {
		if p, ok := profiles[r.ReporterID]; ok {
			p := p
			r.Reporter = &p
		}
	}
	return reports, nil
}

// Get reads one report straight from the store. Citizens only see their own
// reports; anything else is reported as not found. Admins get the reporter
// joined when the directory can supply it.
func (s *ReportService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Report, error) {
	r, err := s.reports.GetReport(ctx, id)
	if errors.Is(err, store.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
	}
	if !actor.IsAdmin() {
		if r.ReporterID != actor.ID {
			return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, id)
		}
		return r, nil
	}

	profiles, err := s.directory.LookupByIDs(ctx, []uuid.UUID{r.ReporterID})
	if err != nil {
		s.logger.Warnw("Reporter lookup failed", "report_id", id, "error", err)
		return r, nil
	}
	if p, ok := profiles[r.ReporterID]; ok {
		r.Reporter = &p
	}
	return r, nil
}
