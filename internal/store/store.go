// Package store defines the persistence contracts consumed by the
// reporting services and their adapters for the hosted Postgres schema and
// a local SQLite database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoRows is returned when a report or profile does not exist.
	ErrNoRows = errors.New("store: no rows")
	// ErrFeedbackExists is returned when a feedback write hits a report
	// that already carries feedback.
	ErrFeedbackExists = errors.New("store: feedback already recorded")
	// ErrNotResolved is returned when a feedback write hits a report that
	// is not currently Resolved.
	ErrNotResolved = errors.New("store: report is not resolved")
)

// ReportQuery filters ListReports. A nil ReporterID lists every report.
type ReportQuery struct {
	ReporterID *uuid.UUID
}

// ReportStore is the queryable collection of report records.
type ReportStore interface {
	// ListReports returns matching reports, newest first.
	ListReports(ctx context.Context, q ReportQuery) ([]*models.Report, error)
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	// InsertReport stores a draft with status Reported and returns the record.
	InsertReport(ctx context.Context, draft *models.ReportDraft) (*models.Report, error)
	// UpdateReport applies a partial update. A patch touching feedback fields
	// only lands on a Resolved report without feedback; otherwise it fails
	// with ErrFeedbackExists or ErrNotResolved.
	UpdateReport(ctx context.Context, id uuid.UUID, patch models.ReportPatch) (*models.Report, error)
}

// DirectoryStore resolves actor profiles.
type DirectoryStore interface {
	LookupByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ReporterInfo, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Actor, error)
	CreateProfile(ctx context.Context, actor *models.Actor) error
}

// ActivityStore records report activity.
type ActivityStore interface {
	InsertActivity(ctx context.Context, entry *models.ActivityLog) error
	ListActivity(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error)
}

// Store is everything an adapter provides.
type Store interface {
	ReportStore
	DirectoryStore
	ActivityStore
	Ping(ctx context.Context) error
	Close() error
}

// reportColumns is valid in both Postgres and SQLite. Text columns the hosted
// schema leaves nullable are coalesced so they scan into plain strings.
const reportColumns = `id, COALESCE(title, ''), COALESCE(description, ''), COALESCE(category, ''),
	COALESCE(location, ''), area, latitude, longitude, user_id, status,
	created_at, processing_at, resolved_at, before_image_url, after_image_url,
	satisfaction_status, satisfaction_rating, feedback_text`

// reportRow mirrors the loosely typed issues row before coercion.
type reportRow struct {
	ID           uuid.UUID
	Title        string
	Description  string
	Category     string
	Location     string
	Area         *string
	Latitude     *float64
	Longitude    *float64
	UserID       uuid.UUID
	Status       string
	CreatedAt    time.Time
	ProcessingAt *time.Time
	ResolvedAt   *time.Time
	BeforeImage  *string
	AfterImage   *string
	Satisfaction *string
	Rating       *int
	FeedbackText *string
}

// toReport validates and coerces a raw row into the typed entity. An unknown
// status rejects the row; a half-present coordinate pair or an out-of-range
// rating is dropped with a warning.
func (row *reportRow) toReport(logger *zap.SugaredLogger) (*models.Report, error) {
	status, err := models.ParseStatus(row.Status)
	if err != nil {
		return nil, err
	}

	r := &models.Report{
		ID:             row.ID,
		Title:          row.Title,
		Description:    row.Description,
		Category:       row.Category,
		Location:       row.Location,
		Area:           emptyToNil(row.Area),
		Coordinates:    models.NewCoordinates(row.Latitude, row.Longitude),
		ReporterID:     row.UserID,
		Status:         status,
		CreatedAt:      row.CreatedAt,
		ProcessingAt:   row.ProcessingAt,
		ResolvedAt:     row.ResolvedAt,
		BeforeImageURL: emptyToNil(row.BeforeImage),
		AfterImageURL:  emptyToNil(row.AfterImage),
		FeedbackText:   row.FeedbackText,
	}

	if r.Coordinates == nil && (row.Latitude != nil || row.Longitude != nil) {
		logger.Warnw("Dropping half-present coordinates", "report_id", row.ID)
	}
	if s := emptyToNil(row.Satisfaction); s != nil {
		sat := models.Satisfaction(*s)
		if !sat.Valid() {
			logger.Warnw("Unknown satisfaction status", "report_id", row.ID, "value", *s)
		}
		r.SatisfactionStatus = &sat
	}
	if row.Rating != nil {
		if *row.Rating >= 1 && *row.Rating <= 5 {
			r.SatisfactionRating = row.Rating
		} else {
			logger.Warnw("Dropping out-of-range rating", "report_id", row.ID, "rating", *row.Rating)
		}
	}
	return r, nil
}

// feedbackRejection explains why a guarded feedback update matched no row.
func feedbackRejection(current *models.Report) error {
	if current.HasFeedback() {
		return ErrFeedbackExists
	}
	if current.Status != models.StatusResolved {
		return ErrNotResolved
	}
	return ErrFeedbackExists
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

type column struct {
	name  string
	value any
}

// patchColumns lists the columns a patch writes, in a fixed order.
func patchColumns(p models.ReportPatch) []column {
	var cols []column
	if p.Status != nil {
		cols = append(cols, column{"status", string(*p.Status)})
	}
	if p.ProcessingAt != nil {
		cols = append(cols, column{"processing_at", *p.ProcessingAt})
	}
	if p.ResolvedAt != nil {
		cols = append(cols, column{"resolved_at", *p.ResolvedAt})
	}
	if p.AfterImageURL != nil {
		cols = append(cols, column{"after_image_url", *p.AfterImageURL})
	}
	if p.SatisfactionStatus != nil {
		cols = append(cols, column{"satisfaction_status", string(*p.SatisfactionStatus)})
	}
	if p.SatisfactionRating != nil {
		cols = append(cols, column{"satisfaction_rating", *p.SatisfactionRating})
	}
	if p.FeedbackText != nil {
		cols = append(cols, column{"feedback_text", *p.FeedbackText})
	}
	return cols
}

func coordinateArgs(c *models.Coordinates) (lat, lng any) {
	if c == nil {
		return nil, nil
	}
	return c.Latitude, c.Longitude
}
