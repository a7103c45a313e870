package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActivityLogService records who did what to a report.
type ActivityLogService struct {
	store  store.ActivityStore
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewActivityLogService creates a new activity log service
func NewActivityLogService(s store.ActivityStore, logger *zap.SugaredLogger) *ActivityLogService {
	return &ActivityLogService{store: s, now: time.Now, logger: logger}
}

// Log stores one activity entry, assigning its id and timestamp.
func (s *ActivityLogService) Log(ctx context.Context, entry *models.ActivityLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	if err := s.store.InsertActivity(ctx, entry); err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}

	s.logger.Infow("Activity logged",
		"report_id", entry.ReportID,
		"actor_id", entry.ActorID,
		"type", entry.Type,
		"action", entry.Description,
	)
	return nil
}

// Record is Log for callers whose action already succeeded: a failure is
// logged and swallowed.
func (s *ActivityLogService) Record(ctx context.Context, reportID, actorID uuid.UUID, typ models.ActivityType, description string) {
	if s == nil {
		return
	}
	err := s.Log(ctx, &models.ActivityLog{
		ReportID:    reportID,
		ActorID:     actorID,
		Type:        typ,
		Description: description,
	})
	if err != nil {
		s.logger.Warnw("Failed to record activity",
			"report_id", reportID,
			"type", typ,
			"error", err,
		)
	}
}

// FetchByReport returns a report's activity, newest first.
func (s *ActivityLogService) FetchByReport(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs, err := s.store.ListActivity(ctx, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if logs == nil {
		logs = []models.ActivityLog{}
	}
	return logs, nil
}
