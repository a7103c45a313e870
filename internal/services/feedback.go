package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"go.uber.org/zap"
)

// FeedbackService accepts the one-time citizen rating of a resolved report.
type FeedbackService struct {
	reports  store.ReportStore
	activity *ActivityLogService
	logger   *zap.SugaredLogger
}

// NewFeedbackService creates a feedback service. activity may be nil.
func NewFeedbackService(reports store.ReportStore, activity *ActivityLogService, logger *zap.SugaredLogger) *FeedbackService {
	return &FeedbackService{reports: reports, activity: activity, logger: logger}
}

// ParseRating converts a submitted rating into an integer in [1,5].
// Fractional and non-numeric values are rejected.
func ParseRating(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: rating must be a whole number", models.ErrValidation)
	}
	if err := validateRating(n); err != nil {
		return 0, err
	}
	return n, nil
}

func validateRating(n int) error {
	if n < 1 || n > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", models.ErrValidation)
	}
	return nil
}

// Submit records satisfaction, rating and an optional comment on report.
// Every precondition is checked before the store is touched, and the store
// re-checks status and write-once at write time, so a report reopened since
// it was read is refused.
func (s *FeedbackService) Submit(ctx context.Context, actor models.Actor, report *models.Report, satisfaction models.Satisfaction, rating int, comment string) (*models.Report, error) {
	if report.ReporterID != actor.ID {
		return nil, fmt.Errorf("%w: only the reporter can rate this report", models.ErrForbidden)
	}
	if report.Status != models.StatusResolved {
		return nil, fmt.Errorf("%w: feedback is only accepted on resolved reports", models.ErrValidation)
	}
	if report.HasFeedback() {
		return nil, fmt.Errorf("%w: feedback already submitted", models.ErrValidation)
	}
	if !satisfaction.Valid() {
		return nil, fmt.Errorf("%w: satisfaction must be %q or %q", models.ErrValidation,
			models.SatisfactionSatisfied, models.SatisfactionNotSatisfied)
	}
	if err := validateRating(rating); err != nil {
		return nil, err
	}

	patch := models.ReportPatch{
		SatisfactionStatus: &satisfaction,
		SatisfactionRating: &rating,
	}
	if c := strings.TrimSpace(comment); c != "" {
		patch.FeedbackText = &c
	}

	updated, err := s.reports.UpdateReport(ctx, report.ID, patch)
	switch {
	case errors.Is(err, store.ErrFeedbackExists):
		return nil, fmt.Errorf("%w: feedback already submitted", models.ErrValidation)
	case errors.Is(err, store.ErrNotResolved):
		return nil, fmt.Errorf("%w: feedback is only accepted on resolved reports", models.ErrValidation)
	case errors.Is(err, store.ErrNoRows):
		return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, report.ID)
	case err != nil:
		s.logger.Errorw("Feedback write failed", "report_id", report.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	s.logger.Infow("Feedback recorded", "report_id", report.ID, "satisfaction", satisfaction, "rating", rating)
	s.activity.Record(ctx, report.ID, actor.ID, models.ActivityFeedback,
		fmt.Sprintf("Citizen rated resolution %d/5 (%s)", rating, satisfaction))

	return updated, nil
}
