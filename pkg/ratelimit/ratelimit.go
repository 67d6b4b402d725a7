package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock returns the current time.
type Clock func() time.Time

// Store increments a counter scoped to one window and reports the new value.
type Store interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window counter keyed by client identity.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    Clock
	prefix string
}

// New builds a limiter. A nil clock defaults to time.Now.
func New(store Store, prefix string, limit int, window time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window, now: clock, prefix: prefix}
}

// Allow counts one hit for identity in the current window.
// A limit of zero or less disables limiting.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	reset := windowStart.Add(l.window)
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1, ResetAt: reset}, nil
	}

	key := fmt.Sprintf("%s:%s:%d", l.prefix, identity, windowStart.Unix())
	count, err := l.store.Increment(ctx, key, reset.Sub(now)+time.Second)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= int64(l.limit), Remaining: remaining, ResetAt: reset}, nil
}

// RedisStore keeps counters in Redis so limits hold across instances.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return incr.Val(), nil
}

// MemoryStore keeps counters in process memory for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	now     Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore builds an in-process store. A nil clock defaults to time.Now.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{now: clock, entries: make(map[string]memoryEntry)}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, k)
		}
	}

	entry := s.entries[key]
	if entry.expiresAt.IsZero() {
		entry.expiresAt = now.Add(ttl)
	}
	entry.count++
	s.entries[key] = entry
	return entry.count, nil
}
