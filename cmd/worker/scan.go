package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
	"github.com/dvloznov/grocery-carbon/internal/jobs"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

type estimator interface {
	Estimate(ctx context.Context, transactionID string) (*estimate.Result, error)
}

// newHandler estimates the transaction named by each job.
func newHandler(e estimator) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		log := logger.Component(ctx, "worker").With().
			Str("job_id", job.ID).
			Str("transaction_id", job.TransactionID).
			Logger()

		res, err := e.Estimate(ctx, job.TransactionID)
		if err != nil {
			if estimate.IsNotEstimable(err) {
				log.Info().Msg("Transaction not estimable")
			}
			return err
		}

		log.Info().
			Str("method", string(res.Method)).
			Float64("co2e", res.CO2e).
			Bool("persisted", res.Persisted).
			Msg("Estimation job completed")
		return nil
	}
}

// scanner enqueues one job per unestimated transaction, skipping those
// with a job in flight and those whose last job failed permanently.
type scanner struct {
	lister     estimate.TransactionLister
	publisher  jobs.Publisher
	jobs       jobs.Store
	filter     domain.TransactionFilter
	maxRetries int
}

func (s *scanner) scan(ctx context.Context) (int, error) {
	log := logger.Component(ctx, "scanner")

	ids, err := s.lister.ListTransactionIDs(ctx, s.filter)
	if err != nil {
		return 0, fmt.Errorf("scan: list transactions: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		skip, err := s.skip(ctx, id)
		if err != nil {
			return enqueued, err
		}
		if skip {
			continue
		}
		job := &jobs.Job{
			TransactionID: id,
			Reason:        "unestimated",
			MaxRetries:    s.maxRetries,
		}
		if err := s.publisher.Publish(ctx, job); err != nil {
			return enqueued, fmt.Errorf("scan: publish %s: %w", id, err)
		}
		enqueued++
	}

	log.Info().Int("candidates", len(ids)).Int("enqueued", enqueued).Msg("Scan finished")
	return enqueued, nil
}

// skip reports whether the transaction's latest job is still queued or
// running, or failed with an error a new attempt would repeat.
func (s *scanner) skip(ctx context.Context, transactionID string) (bool, error) {
	last, err := s.jobs.Latest(ctx, transactionID)
	if err != nil {
		return false, fmt.Errorf("scan: latest job: %w", err)
	}
	if last == nil {
		return false, nil
	}
	return last.Status.Active() || last.Permanent, nil
}

// drained closes the returned channel once no job is active.
func (s *scanner) drained(ctx context.Context, every time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			if n, err := s.activeCount(ctx); err == nil && n == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

func (s *scanner) activeCount(ctx context.Context) (int, error) {
	active, err := s.jobs.List(ctx, jobs.Filter{Statuses: jobs.ActiveStatuses})
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// loop scans every interval until quit fires or ctx ends. A zero interval
// scans once and then waits.
func loop(ctx context.Context, log zerolog.Logger, s *scanner, interval time.Duration, quit <-chan os.Signal) {
	if _, err := s.scan(ctx); err != nil {
		log.Error().Err(err).Msg("Scan failed")
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Info().Dur("poll_interval", interval).Msg("Worker service started, waiting for jobs...")
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		case <-tick:
			if _, err := s.scan(ctx); err != nil {
				log.Error().Err(err).Msg("Scan failed")
			}
		}
	}
}
