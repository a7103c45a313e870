// Package view holds the per-session report collections that every read and
// presentation facet is derived from.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FilterAll is the pseudo-status that selects every report.
const FilterAll = "all"

// loadTimeout bounds a shared fetch once it no longer follows any caller.
const loadTimeout = 30 * time.Second

// Lister fetches every report visible to an actor, newest first.
type Lister interface {
	ListFor(ctx context.Context, actor models.Actor) ([]*models.Report, error)
}

// Collection is the in-memory report set of one actor's session.
//
// Readers never observe a half-applied reload: Load builds the replacement
// slice off to the side and swaps it in under the write lock. Reports handed
// out are copies, so callers cannot alias the held state.
type Collection struct {
	actor  models.Actor
	lister Lister
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	reports  []*models.Report
	loaded   bool
	loadedAt time.Time

	group singleflight.Group

	busyMu sync.Mutex
	busy   map[uuid.UUID]struct{}

	lastUsed atomic.Int64
}

// NewCollection creates an empty, unloaded collection for actor.
func NewCollection(actor models.Actor, lister Lister, logger *zap.SugaredLogger) *Collection {
	c := &Collection{
		actor:  actor,
		lister: lister,
		logger: logger,
		busy:   make(map[uuid.UUID]struct{}),
	}
	c.touch(time.Now())
	return c
}

// Actor returns the owner of the collection.
func (c *Collection) Actor() models.Actor { return c.actor }

// Load replaces the collection with a fresh snapshot from the store.
// Concurrent calls share one fetch, which outlives the caller that started
// it. On failure the previous contents are kept and an ErrLoad is returned.
func (c *Collection) Load(ctx context.Context) error {
	v, err, shared := c.group.Do("load", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.lister.ListFor(fetchCtx, c.actor)
	})
	if err != nil {
		c.logger.Warnw("Report load failed", "actor_id", c.actor.ID, "error", err)
		if errors.Is(err, models.ErrLoad) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrLoad, err)
	}

	next := dedupe(v.([]*models.Report))

	c.mu.Lock()
	c.reports = next
	c.loaded = true
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debugw("Reports loaded", "actor_id", c.actor.ID, "count", len(next), "shared", shared)
	return nil
}

// EnsureLoaded loads the collection unless a load already succeeded.
func (c *Collection) EnsureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Load(ctx)
}

// dedupe copies in, keeping the first occurrence of each id.
func dedupe(in []*models.Report) []*models.Report {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]*models.Report, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.Clone())
	}
	return out
}

// Filter returns the reports whose status matches, in collection order.
// FilterAll or an empty string selects everything.
func (c *Collection) Filter(status string) ([]*models.Report, error) {
	var want models.Status
	if status != "" && status != FilterAll {
		s, err := models.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		want = s
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Report, 0, len(c.reports))
	for _, r := range c.reports {
		if want == "" || r.Status == want {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Counts aggregates the whole collection regardless of any filter.
func (c *Collection) Counts() models.StatusCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := models.StatusCounts{Total: len(c.reports)}
	for _, r := range c.reports {
		switch r.Status {
		case models.StatusReported:
			counts.Reported++
		case models.StatusProcessing:
			counts.Processing++
		case models.StatusResolved:
			counts.Resolved++
		}
	}
	return counts
}

// FindByID returns a copy of the report with id.
func (c *Collection) FindByID(id uuid.UUID) (*models.Report, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.reports[i].Clone(), nil
	}
	return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, id)
}

func (c *Collection) indexOf(id uuid.UUID) int {
	for i, r := range c.reports {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Apply replaces the held copy of a report after a confirmed write. The
// reporter join is carried over when the new record has none. It reports
// whether the report was present.
func (c *Collection) Apply(r *models.Report) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(r.ID)
	if i < 0 {
		return false
	}
	next := r.Clone()
	if next.Reporter == nil {
		next.Reporter = c.reports[i].Reporter
	}
	c.reports[i] = next
	return true
}

// Prepend puts a newly created report at the head of the collection.
func (c *Collection) Prepend(r *models.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(r.ID); i >= 0 {
		c.reports[i] = r.Clone()
		return
	}
	c.reports = append([]*models.Report{r.Clone()}, c.reports...)
}

// Acquire marks a mutation of report id as in flight. A second Acquire for
// the same id fails with ErrBusy until release is called.
func (c *Collection) Acquire(id uuid.UUID) (release func(), err error) {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	if _, held := c.busy[id]; held {
		return nil, fmt.Errorf("%w: report %s", models.ErrBusy, id)
	}
	c.busy[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.busyMu.Lock()
			delete(c.busy, id)
			c.busyMu.Unlock()
		})
	}, nil
}

// Len returns the number of held reports.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reports)
}

// LoadedAt returns when the last successful load finished.
func (c *Collection) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Collection) touch(t time.Time) { c.lastUsed.Store(t.UnixNano()) }

func (c *Collection) idleSince() time.Time { return time.Unix(0, c.lastUsed.Load()) }

func (c *Collection) inFlight() bool {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	return len(c.busy) > 0
}
