package view

import (
	"context"
	"sync"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry owns one Collection per signed-in actor.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Collection
	lister   Lister
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(lister Lister, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Collection),
		lister:   lister,
		now:      time.Now,
		logger:   logger,
	}
}

// For returns the actor's collection, creating it on first use.
func (r *Registry) For(actor models.Actor) *Collection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[actor.ID]
	if !ok {
		c = NewCollection(actor, r.lister, r.logger)
		r.sessions[actor.ID] = c
		r.logger.Debugw("Session view created", "actor_id", actor.ID, "role", actor.Role)
	}
	c.touch(r.now())
	return c
}

// Peek returns the actor's collection without creating or touching it.
func (r *Registry) Peek(actorID uuid.UUID) (*Collection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[actorID]
	return c, ok
}

// Close drops the actor's collection, as on sign-out.
func (r *Registry) Close(actorID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, actorID)
}

// Sweep drops collections idle for longer than ttl and returns how many
// were removed. Collections with a mutation in flight are kept.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, c := range r.sessions {
		if c.idleSince().Before(cutoff) && !c.inFlight() {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweeper periodically drops idle session views.
type Sweeper struct {
	registry *Registry
	idleTTL  time.Duration
	logger   *zap.SugaredLogger
}

// NewSweeper creates a new background sweeper
func NewSweeper(registry *Registry, idleTTL time.Duration, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{registry: registry, idleTTL: idleTTL, logger: logger}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	if n := w.registry.Sweep(w.idleTTL); n > 0 {
		w.logger.Infow("Idle sessions dropped", "count", n, "remaining", w.registry.Len())
	}
}
