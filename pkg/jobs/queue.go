package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is one unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Enqueued time.Time
}

// Handler processes a job. Jobs run once; a handler that wants another attempt enqueues again.
type Handler func(context.Context, Job) error

// QueueConfig sizes the worker pool. OnDiscard receives every job still buffered when the
// queue stops, so callers can undo whatever they reserved at enqueue time.
type QueueConfig struct {
	Workers    int
	BufferSize int
	OnDiscard  func(Job)
	Logger     *zap.Logger
}

// Queue is an in-memory job dispatcher backed by a fixed set of goroutines.
type Queue struct {
	name      string
	handler   Handler
	onDiscard func(Job)
	workers   int
	logger    *zap.Logger

	jobs    chan Job
	ctx     context.Context
	quit    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewQueue builds a queue that feeds handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:      name,
		handler:   handler,
		onDiscard: cfg.OnDiscard,
		workers:   cfg.Workers,
		logger:    cfg.Logger.With(zap.String("queue", name)),
		jobs:      make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Jobs run with ctx; cancelling it interrupts running jobs and
// ends the workers. Later calls are ignored.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx = ctx
	q.quit = make(chan struct{})
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.workers))
}

// Stop closes intake, lets running jobs finish on their own context, and hands every job
// still buffered to OnDiscard.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.quit)
	q.mu.Unlock()
	q.wg.Wait()

	discarded := 0
	for {
		select {
		case job := <-q.jobs:
			discarded++
			if q.onDiscard != nil {
				q.onDiscard(job)
			}
		default:
			q.logger.Info("queue stopped", zap.Int("discarded", discarded))
			return
		}
	}
}

// Pending reports how many jobs wait for a worker.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Enqueue pushes a job, assigning an id when missing. It fails fast when the buffer is full
// so callers can surface back-pressure instead of blocking a request.
func (q *Queue) Enqueue(job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.stopped {
		return "", fmt.Errorf("queue %s not running", q.name)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		return "", fmt.Errorf("queue %s is full", q.name)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.quit:
			return
		case <-q.ctx.Done():
			return
		default:
		}
		select {
		case <-q.quit:
			return
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			if err := q.run(job); err != nil {
				q.logger.Error("job failed",
					zap.String("job_id", job.ID),
					zap.String("type", job.Type),
					zap.Duration("waited", time.Since(job.Enqueued)),
					zap.Error(err))
			}
		}
	}
}

func (q *Queue) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler(q.ctx, job)
}
