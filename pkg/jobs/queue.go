package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue when the queue is not accepting work.
var ErrQueueClosed = errors.New("queue closed")

// Job represents a queued background task.
type Job struct {
	ID         string
	Kind       string
	Payload    interface{}
	Attempt    int
	EnqueuedAt time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnGiveUp is called once a job exhausted its retries.
	OnGiveUp func(Job, error)
}

// Queue is an in-memory worker pool. Buffered jobs are drained on Stop.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	logger  *zap.Logger

	jobs    chan Job
	quit    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start begins worker consumption. Calling it on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.quit = make(chan struct{})
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop refuses new work, drains buffered jobs and waits for the workers to exit.
// Pending retries scheduled after Stop are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	q.logger.Info("queue stopped")
}

// Enqueue pushes a job onto the queue, blocking while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	started, quit, ctx := q.started, q.quit, q.ctx
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("%s: %w", q.name, ErrQueueClosed)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %v", q.name, ErrQueueClosed, ctx.Err())
	case <-quit:
		return fmt.Errorf("%s: %w", q.name, ErrQueueClosed)
	case q.jobs <- job:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			q.process(job)
		case <-q.quit:
			for {
				select {
				case job := <-q.jobs:
					q.process(job)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) process(job Job) {
	err := q.handler(q.ctx, job)
	if err == nil {
		return
	}

	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		q.logger.Error("job exceeded retries", zap.String("job_id", job.ID), zap.String("kind", job.Kind), zap.Error(err))
		if q.cfg.OnGiveUp != nil {
			q.cfg.OnGiveUp(job, err)
		}
		return
	}
	q.logger.Warn("job failed, retrying", zap.String("job_id", job.ID), zap.String("kind", job.Kind), zap.Int("attempt", job.Attempt), zap.Error(err))

	go func(j Job) {
		timer := time.NewTimer(q.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(j); err != nil {
				q.logger.Error("failed to requeue job", zap.String("job_id", j.ID), zap.Error(err))
			}
		}
	}(job)
}
