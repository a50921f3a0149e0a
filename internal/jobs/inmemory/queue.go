// Package inmemory runs estimation jobs on a channel-backed worker pool.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/grocery-carbon/internal/jobs"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

const (
	// DefaultWorkers is the number of concurrent workers started by Start.
	DefaultWorkers = 5
	// DefaultMaxRetries applies to jobs published without MaxRetries.
	DefaultMaxRetries = 3
)

// ErrClosed is returned once the queue has been stopped.
var ErrClosed = errors.New("queue is closed")

// Queue is a jobs.Publisher and jobs.Consumer backed by a buffered channel.
// It is safe for concurrent use. Jobs are lost when the process exits.
type Queue struct {
	pending chan *jobs.Job
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	store   jobs.Store

	workers   int
	backoff   func(retry int) time.Duration
	retryable func(err error) bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the delay before retry number retry (starting at 1).
func WithBackoff(f func(retry int) time.Duration) Option {
	return func(q *Queue) { q.backoff = f }
}

// WithRetryable decides which handler errors are worth retrying. By default
// every error is. Jobs failing with any other error are marked Permanent.
func WithRetryable(f func(err error) bool) Option {
	return func(q *Queue) { q.retryable = f }
}

// NewQueue creates a queue holding up to bufferSize jobs before Publish
// blocks. store may be nil.
func NewQueue(bufferSize int, store jobs.Store, opts ...Option) *Queue {
	q := &Queue{
		pending:   make(chan *jobs.Job, bufferSize),
		done:      make(chan struct{}),
		store:     store,
		workers:   DefaultWorkers,
		backoff:   func(retry int) time.Duration { return time.Duration(retry) * time.Second },
		retryable: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Publish fills in the job's defaults, records it and enqueues it.
func (q *Queue) Publish(ctx context.Context, job *jobs.Job) error {
	if q.isClosed() {
		return fmt.Errorf("Publish: %w", ErrClosed)
	}
	if job.TransactionID == "" {
		return fmt.Errorf("Publish: transaction ID is required")
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}
	if q.store != nil {
		if err := q.store.Save(ctx, job); err != nil {
			return fmt.Errorf("Publish: saving job: %w", err)
		}
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return fmt.Errorf("Publish: %w", ErrClosed)
	}
}

// Start launches the workers. Each calls h for the jobs it receives until
// ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context, h jobs.Handler) error {
	if q.isClosed() {
		return fmt.Errorf("Start: %w", ErrClosed)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case job := <-q.pending:
					q.run(ctx, job, h)
				}
			}
		}()
	}

	log := logger.Component(ctx, "queue")
	log.Info().Int("workers", q.workers).Msg("Queue started")
	return nil
}

// run executes one attempt of job and schedules a retry when the failure is
// transient and retries remain.
func (q *Queue) run(ctx context.Context, job *jobs.Job, h jobs.Handler) {
	log := logger.Component(ctx, "queue").With().
		Str("job_id", job.ID).
		Str("transaction_id", job.TransactionID).
		Logger()

	started := time.Now()
	job.Status = jobs.StatusRunning
	job.StartedAt = &started
	q.save(ctx, job)

	err := h(ctx, job)

	finished := time.Now()
	job.FinishedAt = &finished

	switch {
	case err == nil:
		job.Status = jobs.StatusCompleted
		job.Error = ""
	case !q.retryable(err):
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
		job.Permanent = true
		log.Warn().Err(err).Msg("Job failed permanently")
	case job.Retries < job.MaxRetries:
		job.Status = jobs.StatusRetrying
		job.Error = err.Error()
		job.Retries++
		q.save(ctx, job)

		next := *job
		next.Status = jobs.StatusPending
		next.StartedAt = nil
		next.FinishedAt = nil

		delay := q.backoff(job.Retries)
		log.Warn().Err(err).Int("retry", job.Retries).Dur("backoff", delay).Msg("Job failed, retrying")
		time.AfterFunc(delay, func() {
			if err := q.Publish(ctx, &next); err != nil {
				log.Error().Err(err).Msg("Failed to re-enqueue job")
			}
		})
		return
	default:
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Int("retries", job.Retries).Msg("Job failed, retries exhausted")
	}

	q.save(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.Job) {
	if q.store == nil {
		return
	}
	if err := q.store.Save(ctx, job); err != nil {
		log := logger.Component(ctx, "queue")
		log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to save job state")
	}
}

// Stop closes the queue and waits for in-flight jobs or ctx, whichever
// comes first. Calling it again is a no-op.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
