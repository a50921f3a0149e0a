package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/grocery-carbon/internal/jobs"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

var errPermanent = errors.New("permanent")

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return logger.WithContext(ctx, zerolog.Nop())
}

// waitForStatus polls the store until the transaction's job reaches status.
func waitForStatus(t *testing.T, ctx context.Context, s *Store, transactionID string, status jobs.Status) *jobs.Job {
	t.Helper()
	for {
		job, err := s.Latest(ctx, transactionID)
		if err == nil && job != nil && job.Status == status {
			return job
		}
		select {
		case <-ctx.Done():
			t.Fatalf("job for %s never reached %s (last: %+v)", transactionID, status, job)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func fastQueue(store *Store, opts ...Option) *Queue {
	opts = append([]Option{
		WithWorkers(2),
		WithBackoff(func(int) time.Duration { return time.Millisecond }),
		WithRetryable(func(err error) bool { return !errors.Is(err, errPermanent) }),
	}, opts...)
	return NewQueue(10, store, opts...)
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx := testContext(t)
	store := NewStore()
	q := fastQueue(store)

	var seen atomic.Value
	err := q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		seen.Store(job.TransactionID)
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(ctx)

	job := &jobs.Job{TransactionID: "t1"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.ID == "" {
		t.Fatal("Publish() did not assign a job ID")
	}

	got := waitForStatus(t, ctx, store, "t1", jobs.StatusCompleted)
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not recorded")
	}
	if seen.Load() != "t1" {
		t.Errorf("handler saw %v, want t1", seen.Load())
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx := testContext(t)
	store := NewStore()
	q := fastQueue(store)

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("upstream unavailable")
		}
		return nil
	})
	defer q.Stop(ctx)

	job := &jobs.Job{TransactionID: "t1", MaxRetries: 3}
	_ = q.Publish(ctx, job)

	got := waitForStatus(t, ctx, store, "t1", jobs.StatusCompleted)
	if got.Retries != 2 {
		t.Errorf("Retries = %d, want 2", got.Retries)
	}
	if calls.Load() != 3 {
		t.Errorf("handler called %d times, want 3", calls.Load())
	}
}

func TestQueue_FailureHandling(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetries   int
		wantCalls     int32
		wantPermanent bool
	}{
		{"permanent error is not retried", errPermanent, 0, 1, true},
		{"retries exhausted", errors.New("flaky"), 2, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			store := NewStore()
			q := fastQueue(store)

			var calls atomic.Int32
			_ = q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
				calls.Add(1)
				return tt.err
			})
			defer q.Stop(ctx)

			job := &jobs.Job{TransactionID: "t1", MaxRetries: 2}
			_ = q.Publish(ctx, job)

			got := waitForStatus(t, ctx, store, "t1", jobs.StatusFailed)
			if got.Retries != tt.wantRetries {
				t.Errorf("Retries = %d, want %d", got.Retries, tt.wantRetries)
			}
			if got.Permanent != tt.wantPermanent {
				t.Errorf("Permanent = %v, want %v", got.Permanent, tt.wantPermanent)
			}
			if got.Error != tt.err.Error() {
				t.Errorf("Error = %q, want %q", got.Error, tt.err.Error())
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("handler called %d times, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestQueue_PublishValidation(t *testing.T) {
	ctx := testContext(t)
	q := fastQueue(NewStore())

	if err := q.Publish(ctx, &jobs.Job{}); err == nil {
		t.Error("expected error for job without transaction ID")
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Publish(ctx, &jobs.Job{TransactionID: "t1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() on closed queue error = %v, want ErrClosed", err)
	}
	if err := q.Start(ctx, func(context.Context, *jobs.Job) error { return nil }); err == nil {
		t.Error("expected error starting a closed queue")
	}
	if err := q.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestQueue_Defaults(t *testing.T) {
	q := NewQueue(1, nil, WithWorkers(0))
	if q.workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", q.workers, DefaultWorkers)
	}
	if q.backoff(2) != 2*time.Second {
		t.Errorf("backoff(2) = %v, want 2s", q.backoff(2))
	}

	job := &jobs.Job{TransactionID: "t1"}
	if err := q.Publish(testContext(t), job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.MaxRetries != DefaultMaxRetries || job.Status != jobs.StatusPending || job.CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", job)
	}
}

func TestStatus_Active(t *testing.T) {
	for _, s := range jobs.ActiveStatuses {
		if !s.Active() {
			t.Errorf("%s.Active() = false", s)
		}
	}
	for _, s := range []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed} {
		if s.Active() {
			t.Errorf("%s.Active() = true", s)
		}
	}
}
