package estimate

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Outcome is the per-transaction result of a batch run.
type Outcome struct {
	TransactionID string
	Result        *Result
	Err           error
}

// Summary counts batch outcomes.
type Summary struct {
	Estimated    int
	KeptPrior    int
	NotEstimable int
	Failed       int
}

// EstimateAll estimates ids with at most concurrency in flight. Per
// transaction failures are reported in the outcomes; only cancellation of
// ctx stops the batch early.
func (e *Engine) EstimateAll(ctx context.Context, ids []string, concurrency int) ([]Outcome, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make([]Outcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i] = Outcome{TransactionID: id, Err: err}
				return err
			}
			res, err := e.Estimate(gctx, id)
			out[i] = Outcome{TransactionID: id, Result: res, Err: err}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	return out, err
}

// Summarize counts outcomes by kind.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch {
		case o.Err == nil && o.Result != nil && o.Result.Persisted:
			s.Estimated++
		case o.Err == nil && o.Result != nil:
			s.KeptPrior++
		case IsNotEstimable(o.Err):
			s.NotEstimable++
		default:
			s.Failed++
		}
	}
	return s
}
