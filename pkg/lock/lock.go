package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Releaser releases a held lock.
type Releaser func(ctx context.Context)

// Locker hands out short-lived named mutexes.
type Locker interface {
	Acquire(ctx context.Context, name string) (Releaser, error)
}

// RedisLocker is a Locker backed by redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	ttl    time.Duration
}

// NewRedisLocker builds a locker over the given client. Locks expire after ttl even if never released.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Acquire tries once and fails fast with ErrNotAcquired when the name is held.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (Releaser, error) {
	mutex := l.rs.NewMutex(l.prefix+name, redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrNotAcquired
		}
		return nil, err
	}
	return func(ctx context.Context) {
		_, _ = mutex.UnlockContext(ctx)
	}, nil
}

// NoopLocker always succeeds. Used when Redis is disabled.
type NoopLocker struct{}

// Acquire implements Locker.
func (NoopLocker) Acquire(context.Context, string) (Releaser, error) {
	return func(context.Context) {}, nil
}
