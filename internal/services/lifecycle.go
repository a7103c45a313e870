package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aawaaz/civic-reports/internal/blob"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"go.uber.org/zap"
)

type transitionKey struct {
	from, to models.Status
}

type transitionRule struct {
	allowed bool
	// requiresAfterImage means the report must carry an after-image, either
	// already stored or supplied with the request.
	requiresAfterImage bool
}

// transitions is the permission matrix for status changes. Every move is
// currently allowed so an admin can correct a mis-click; tightening the
// lifecycle is a change to this table only.
var transitions = map[transitionKey]transitionRule{
	{models.StatusReported, models.StatusReported}:     {allowed: true},
	{models.StatusReported, models.StatusProcessing}:   {allowed: true},
	{models.StatusReported, models.StatusResolved}:     {allowed: true, requiresAfterImage: true},
	{models.StatusProcessing, models.StatusReported}:   {allowed: true},
	{models.StatusProcessing, models.StatusProcessing}: {allowed: true},
	{models.StatusProcessing, models.StatusResolved}:   {allowed: true, requiresAfterImage: true},
	{models.StatusResolved, models.StatusReported}:     {allowed: true},
	{models.StatusResolved, models.StatusProcessing}:   {allowed: true},
	{models.StatusResolved, models.StatusResolved}:     {allowed: true},
}

// LifecycleEngine is the only mutation path for a report's status, its
// lifecycle timestamps and its after-image.
type LifecycleEngine struct {
	reports       store.ReportStore
	blobs         blob.Store
	activity      *ActivityLogService
	maxPhotoBytes int64
	now           func() time.Time
	logger        *zap.SugaredLogger
}

// NewLifecycleEngine creates a lifecycle engine. activity may be nil.
func NewLifecycleEngine(reports store.ReportStore, blobs blob.Store, activity *ActivityLogService, maxPhotoBytes int64, logger *zap.SugaredLogger) *LifecycleEngine {
	return &LifecycleEngine{
		reports:       reports,
		blobs:         blobs,
		activity:      activity,
		maxPhotoBytes: maxPhotoBytes,
		now:           time.Now,
		logger:        logger,
	}
}

// RequestTransition moves report to target on behalf of an admin.
//
// The after-image, when one is needed, is stored before anything else is
// written; its URL, the status and any newly set timestamp are then committed
// in a single update. report itself is never modified: the caller receives
// the confirmed record and decides when to publish it.
func (e *LifecycleEngine) RequestTransition(ctx context.Context, actor models.Actor, report *models.Report, target models.Status, afterImage *models.Photo) (*models.Report, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators can change report status", models.ErrForbidden)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, target)
	}

	rule, ok := transitions[transitionKey{report.Status, target}]
	if !ok || !rule.allowed {
		return nil, fmt.Errorf("%w: cannot move a %s report to %s", models.ErrValidation, report.Status, target)
	}

	needsImage := rule.requiresAfterImage && report.AfterImageURL == nil
	if needsImage && afterImage == nil {
		return nil, fmt.Errorf("%w: after-image required to resolve a report", models.ErrValidation)
	}

	var patch models.ReportPatch
	if needsImage {
		if err := blob.ValidatePhoto(afterImage, e.maxPhotoBytes); err != nil {
			return nil, err
		}
		name := blob.ObjectName(blob.PrefixAfter, afterImage.Name, e.now())
		url, err := e.blobs.Put(ctx, name, afterImage.ContentType, afterImage.Data)
		if err != nil {
			e.logger.Errorw("After-image upload failed", "report_id", report.ID, "object", name, "error", err)
			return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
		patch.AfterImageURL = &url
	}

	patch.Status = &target
	now := e.now().UTC()
	switch target {
	case models.StatusProcessing:
		if report.ProcessingAt == nil {
			patch.ProcessingAt = &now
		}
	case models.StatusResolved:
		if report.ResolvedAt == nil {
			patch.ResolvedAt = &now
		}
	}

	updated, err := e.reports.UpdateReport(ctx, report.ID, patch)
	if errors.Is(err, store.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, report.ID)
	}
	if err != nil {
		e.logger.Errorw("Status update failed", "report_id", report.ID, "target", target, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	e.logger.Infow("Report status changed",
		"report_id", report.ID,
		"from", report.Status,
		"to", target,
		"admin", actor.ID,
	)
	e.activity.Record(ctx, report.ID, actor.ID, models.ActivityStatusChange,
		fmt.Sprintf("Status changed from %s to %s", report.Status, target))

	return updated, nil
}
