// Package estimate computes and persists the CO2e of grocery transactions.
//
// The Engine runs a cascade of tiers from most to least specific:
//
//	item      receipt items with a weight, matched to per-kg item factors
//	category  receipt items by price, matched to per-currency category factors
//	merchant  the factor implied by the merchant's already estimated spend
//	mcc       a static factor for the merchant category code
//
// Receipt tiers resolve what they can; the merchant and mcc tiers cover the
// remaining spend. The result is rounded to 5 decimal places and stored
// together with the transaction's co2e in one write.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// Decimals is the precision persisted estimates are rounded to.
const Decimals = 5

// Options configures an Engine.
type Options struct {
	Store Store

	// Provider and Instruction are needed when a receipt tier is enabled.
	Provider    embedding.Provider
	Instruction embedding.Instruction

	// Items backs the item tier and must be per kg. Categories backs the
	// category tier and must be per currency unit.
	Items      *catalogue.Catalogue
	Categories *catalogue.Catalogue

	Methods     domain.Methods
	MergePolicy MergePolicy

	// MinScore is the lowest similarity a receipt match may have. Weaker
	// matches leave the item for the fallback tiers.
	MinScore float64

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Result is the outcome of one estimation.
type Result struct {
	TransactionID string
	Method        domain.Method
	CO2e          float64

	// Persisted is false when the prior estimate was kept.
	Persisted bool
	// Reason explains why a prior estimate was kept.
	Reason   string
	Estimate *domain.Estimate
}

// Engine runs the estimation cascade. It is safe for concurrent use;
// concurrent calls for the same transaction share one computation.
type Engine struct {
	store  Store
	tiers  []tier
	policy MergePolicy
	clock  func() time.Time
	group  singleflight.Group
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("estimate.New: store is required: %w", domain.ErrConfiguration)
	}
	if !opts.Methods.Any() {
		return nil, fmt.Errorf("estimate.New: no estimation method enabled: %w", domain.ErrConfiguration)
	}
	policy, err := ParseMergePolicy(string(opts.MergePolicy))
	if err != nil {
		return nil, fmt.Errorf("estimate.New: %w", err)
	}

	e := &Engine{
		store:  opts.Store,
		policy: policy,
		clock:  opts.Clock,
	}
	if e.clock == nil {
		e.clock = time.Now
	}

	matcher := catalogue.Matcher{Provider: opts.Provider, Instruction: opts.Instruction}
	if opts.Methods.Item {
		if err := checkReceiptTier(opts.Provider, opts.Items, domain.UnitKilogram, "item"); err != nil {
			return nil, err
		}
		e.tiers = append(e.tiers, &receiptTier{
			method:   domain.MethodItem,
			cat:      opts.Items,
			matcher:  matcher,
			minScore: opts.MinScore,
		})
	}
	if opts.Methods.Category {
		if err := checkReceiptTier(opts.Provider, opts.Categories, domain.UnitCurrency, "category"); err != nil {
			return nil, err
		}
		e.tiers = append(e.tiers, &receiptTier{
			method:   domain.MethodCategory,
			cat:      opts.Categories,
			matcher:  matcher,
			minScore: opts.MinScore,
		})
	}
	if opts.Methods.Merchant {
		e.tiers = append(e.tiers, &merchantTier{store: opts.Store})
	}
	if opts.Methods.MCC {
		e.tiers = append(e.tiers, &mccTier{})
	}
	return e, nil
}

func checkReceiptTier(p embedding.Provider, c *catalogue.Catalogue, unit domain.Unit, name string) error {
	if p == nil {
		return fmt.Errorf("estimate.New: %s tier needs an embedding provider: %w", name, domain.ErrConfiguration)
	}
	if c == nil {
		return fmt.Errorf("estimate.New: %s tier needs a catalogue: %w", name, domain.ErrConfiguration)
	}
	if c.Unit() != unit {
		return fmt.Errorf("estimate.New: %s catalogue %q is per %s, want per %s: %w",
			name, c.Name(), c.Unit(), unit, domain.ErrConfiguration)
	}
	return nil
}

// Methods lists the enabled tiers in cascade order.
func (e *Engine) Methods() []domain.Method {
	out := make([]domain.Method, len(e.tiers))
	for i, t := range e.tiers {
		out[i] = t.name()
	}
	return out
}

// Estimate computes the CO2e of a transaction and persists it.
//
// A prior estimate seeds the result: if no tier produces a positive figure
// the prior estimate is returned unchanged and nothing is written. Without a
// prior estimate that case is domain.ErrNotEstimable. Under AlwaysReplace a
// successful recomputation is written even if it is less specific than the
// prior one.
func (e *Engine) Estimate(ctx context.Context, transactionID string) (*Result, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("Estimate: empty transaction id: %w", domain.ErrInvalidInput)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("Estimate: %w", err)
	}

	// The shared call is not tied to the cancellation of the caller that
	// started it.
	ch := e.group.DoChan(transactionID, func() (interface{}, error) {
		return e.estimate(context.WithoutCancel(ctx), transactionID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("Estimate: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		return &res, nil
	}
}

func (e *Engine) estimate(ctx context.Context, id string) (*Result, error) {
	log := logger.Component(ctx, "estimate").With().Str("transaction_id", id).Logger()

	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Estimate: get transaction: %w", err)
	}
	if tx.AmountMinor < 0 {
		return nil, fmt.Errorf("Estimate: negative amount %d: %w", tx.AmountMinor, domain.ErrInvalidInput)
	}

	prior, err := e.store.LatestEstimate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Estimate: latest estimate: %w", err)
	}

	receipt, err := e.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Estimate: get receipt: %w", err)
	}
	if receipt != nil {
		for _, it := range receipt.Items {
			if err := it.Validate(); err != nil {
				return nil, fmt.Errorf("Estimate: %w", err)
			}
		}
	}

	var merchant *domain.Merchant
	if tx.MerchantID != "" {
		merchant, err = e.store.GetMerchant(ctx, tx.MerchantID)
		if err != nil {
			return nil, fmt.Errorf("Estimate: get merchant: %w", err)
		}
	}

	a := newAttempt(tx, receipt, merchant, log)
	for _, t := range e.tiers {
		if err := t.apply(ctx, a); err != nil {
			return nil, fmt.Errorf("Estimate: %w", err)
		}
	}

	method := a.method()
	total := a.total().Round(Decimals)
	if method == "" || !total.IsPositive() {
		if prior != nil {
			log.Info().Str("method", string(prior.Method)).Msg("No new estimate, keeping prior")
			return keep(prior, "no method produced an estimate"), nil
		}
		log.Info().Msg("Transaction not estimable")
		return nil, fmt.Errorf("Estimate: transaction %s: %w", id, domain.ErrNotEstimable)
	}

	if e.policy.keepPrior(prior, method) {
		log.Info().
			Str("prior_method", string(prior.Method)).
			Str("method", string(method)).
			Msg("Prior estimate is more specific, keeping it")
		return keep(prior, "prior estimate is more specific"), nil
	}

	est := &domain.Estimate{
		ID:            uuid.NewString(),
		TransactionID: id,
		Method:        method,
		CO2e:          total.InexactFloat64(),
		Model:         a.model,
		CreatedAt:     e.createdAt(prior),
	}
	if err := e.store.SaveEstimate(ctx, est); err != nil {
		return nil, fmt.Errorf("Estimate: save estimate: %w", err)
	}

	logEstimate(log, prior, est)
	return &Result{
		TransactionID: id,
		Method:        est.Method,
		CO2e:          est.CO2e,
		Persisted:     true,
		Estimate:      est,
	}, nil
}

// createdAt orders the new row strictly after the prior one even when the
// clock has not advanced.
func (e *Engine) createdAt(prior *domain.Estimate) time.Time {
	now := e.clock().UTC().Truncate(time.Microsecond)
	if prior != nil && !now.After(prior.CreatedAt) {
		now = prior.CreatedAt.Add(time.Microsecond)
	}
	return now
}

func keep(prior *domain.Estimate, reason string) *Result {
	return &Result{
		TransactionID: prior.TransactionID,
		Method:        prior.Method,
		CO2e:          prior.CO2e,
		Reason:        reason,
		Estimate:      prior,
	}
}

func logEstimate(log zerolog.Logger, prior, est *domain.Estimate) {
	ev := log.Info().Str("method", string(est.Method)).Float64("co2e", est.CO2e)
	if prior != nil {
		ev = ev.Str("prior_method", string(prior.Method)).Float64("prior_co2e", prior.CO2e)
		if prior.Method.Specificity() > est.Method.Specificity() {
			ev = ev.Bool("downgraded", true)
		}
	}
	ev.Msg("Estimate stored")
}

// IsNotEstimable reports whether err means no figure could be produced.
func IsNotEstimable(err error) bool {
	return errors.Is(err, domain.ErrNotEstimable)
}
