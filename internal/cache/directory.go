// Package cache provides a redis read-through cache in front of the actor
// directory, which is consulted on every authenticated request and every
// admin reload.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "civic:profile:"

// Directory wraps a DirectoryStore. Redis failures are logged and the call
// falls through to the underlying store.
type Directory struct {
	next   store.DirectoryStore
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewDirectory creates a cached directory.
func NewDirectory(next store.DirectoryStore, rdb redis.UniversalClient, ttl time.Duration, logger *zap.SugaredLogger) *Directory {
	return &Directory{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func key(id uuid.UUID) string { return keyPrefix + id.String() }

// GetProfile returns the cached actor or loads and caches it.
func (d *Directory) GetProfile(ctx context.Context, id uuid.UUID) (*models.Actor, error) {
	raw, err := d.rdb.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		var a models.Actor
		if jsonErr := json.Unmarshal(raw, &a); jsonErr == nil {
			return &a, nil
		}
	case !errors.Is(err, redis.Nil):
		d.logger.Warnw("Profile cache read failed", "error", err)
	}

	a, err := d.next.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	d.put(ctx, []*models.Actor{a})
	return a, nil
}

// LookupByIDs serves hits from redis and fetches the misses in one call.
func (d *Directory) LookupByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ReporterInfo, error) {
	out := make(map[uuid.UUID]models.ReporterInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}

	missing := ids
	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		d.logger.Warnw("Profile cache read failed", "error", err)
	} else {
		missing = nil
		for i, v := range vals {
			s, ok := v.(string)
			var a models.Actor
			if !ok || json.Unmarshal([]byte(s), &a) != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = models.ReporterInfo{DisplayName: a.DisplayName, Email: a.Email}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := d.next.LookupByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, info := range fetched {
		out[id] = info
	}
	return out, nil
}

// CreateProfile writes through and primes the cache.
func (d *Directory) CreateProfile(ctx context.Context, a *models.Actor) error {
	if err := d.next.CreateProfile(ctx, a); err != nil {
		return err
	}
	d.put(ctx, []*models.Actor{a})
	return nil
}

// put caches full actors only; LookupByIDs results lack the role and are
// never written back.
func (d *Directory) put(ctx context.Context, actors []*models.Actor) {
	pipe := d.rdb.Pipeline()
	for _, a := range actors {
		raw, err := json.Marshal(a)
		if err != nil {
			continue
		}
		pipe.Set(ctx, key(a.ID), raw, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Warnw("Profile cache write failed", "error", err)
	}
}
