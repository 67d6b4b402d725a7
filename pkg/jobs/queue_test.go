package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job", Kind: "audit"}))
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 5 }, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, 5*time.Millisecond)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var mu sync.Mutex
	var gaveUp []Job
	q := NewQueue("giveup", func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond, OnGiveUp: func(job Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		gaveUp = append(gaveUp, job)
	}})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1", Kind: "notify"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gaveUp) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, gaveUp[0].Attempt)
	assert.Equal(t, "notify", gaveUp[0].Kind)
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "j1"})
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	release := make(chan struct{})
	var processed int32
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		<-release
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "j"}))
	}
	close(release)
	q.Stop()

	assert.Equal(t, int32(4), atomic.LoadInt32(&processed))
	require.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueClosed)
}
