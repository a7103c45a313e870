package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether a client may make another request this minute.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-process fixed-window limiter.
type MemoryLimiter struct {
	limit int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*window
	lastSweep time.Time
}

type window struct {
	count int
	start time.Time
}

// NewMemoryLimiter allows requestsPerMinute requests per key.
func NewMemoryLimiter(requestsPerMinute int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:     requestsPerMinute,
		now:       time.Now,
		clients:   make(map[string]*window),
		lastSweep: time.Now(),
	}
}

// Allow counts one request for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	// Stale entries are dropped every few minutes.
	if now.Sub(l.lastSweep) > 5*time.Minute {
		for k, c := range l.clients {
			if now.Sub(c.start) > 2*time.Minute {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok || now.Sub(c.start) > time.Minute {
		l.clients[key] = &window{count: 1, start: now}
		return true, nil
	}
	c.count++
	return c.count <= l.limit, nil
}

// RedisLimiter shares one fixed window per key across server instances.
type RedisLimiter struct {
	rdb   redis.UniversalClient
	limit int
	now   func() time.Time
}

// NewRedisLimiter allows requestsPerMinute requests per key.
func NewRedisLimiter(rdb redis.UniversalClient, requestsPerMinute int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: requestsPerMinute, now: time.Now}
}

// Allow increments the key's counter for the current minute.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().Unix() / 60
	k := "civic:rl:" + key + ":" + strconv.FormatInt(bucket, 10)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, 2*time.Minute)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// RateLimit rejects clients that exceed the limiter's budget. Clients are
// keyed by remote address, so chi's RealIP should run first. A failing
// limiter lets requests through.
func RateLimit(l Limiter, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), clientKey(r))
			if err != nil {
				logger.Warnw("Rate limiter unavailable", "error", err)
			}
			if !ok {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
