// Package jobs describes the background estimation work run by the worker.
package jobs

import (
	"context"
	"time"
)

// Status is where a job is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ActiveStatuses are the statuses of jobs that will still run.
var ActiveStatuses = []Status{StatusPending, StatusRunning, StatusRetrying}

// Active reports whether a job in status s will still run.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetrying:
		return true
	}
	return false
}

// Job asks a worker to estimate one transaction.
type Job struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	Reason        string     `json:"reason,omitempty"` // e.g. "unestimated", "receipt_deleted"
	Status        Status     `json:"status"`
	Retries       int        `json:"retries"`
	MaxRetries    int        `json:"max_retries"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`

	// Permanent is set on a failed job whose error would recur on every
	// attempt, such as a transaction no tier can estimate.
	Permanent bool `json:"permanent,omitempty"`
}

// Handler runs one job. A nil error completes it.
type Handler func(ctx context.Context, job *Job) error

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *Job) error
	Close() error
}

// Consumer runs a Handler for every enqueued job.
type Consumer interface {
	Start(ctx context.Context, h Handler) error
	// Stop waits for in-flight jobs.
	Stop(ctx context.Context) error
}

// Store keeps the latest state of each job.
type Store interface {
	Save(ctx context.Context, job *Job) error
	// Latest returns the most recently created job for the transaction, or
	// nil when it never had one.
	Latest(ctx context.Context, transactionID string) (*Job, error)
	List(ctx context.Context, f Filter) ([]*Job, error)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	TransactionID string
	Statuses      []Status // any of
}

// Match reports whether job passes the filter.
func (f Filter) Match(job *Job) bool {
	if f.TransactionID != "" && job.TransactionID != f.TransactionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}
