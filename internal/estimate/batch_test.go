package estimate_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
	"github.com/dvloznov/grocery-carbon/internal/mcc"
)

func TestEstimateAll(t *testing.T) {
	store := newFakeStore()
	store.addMerchant(domain.Merchant{ID: "grocer", MCC: 5411})
	store.addMerchant(domain.Merchant{ID: "garage", MCC: 9999})
	store.addTransaction(domain.Transaction{ID: "a", AmountMinor: 1000, MerchantID: "grocer"})
	store.addTransaction(domain.Transaction{ID: "b", AmountMinor: 2000, MerchantID: "grocer"})
	store.addTransaction(domain.Transaction{ID: "c", AmountMinor: 1000, MerchantID: "garage"})

	e := newEngine(t, store, domain.DefaultMethods(), estimate.AlwaysReplace)
	outcomes, err := e.EstimateAll(quietContext(), []string{"a", "b", "c", "missing"}, 2)
	if err != nil {
		t.Fatalf("EstimateAll() error = %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes, want 4", len(outcomes))
	}
	for i, id := range []string{"a", "b", "c", "missing"} {
		if outcomes[i].TransactionID != id {
			t.Errorf("outcomes[%d].TransactionID = %q, want %q", i, outcomes[i].TransactionID, id)
		}
	}

	got := estimate.Summarize(outcomes)
	want := estimate.Summary{Estimated: 2, NotEstimable: 1, Failed: 1}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestEstimateAll_Cancelled(t *testing.T) {
	store := newFakeStore()
	store.addMerchant(domain.Merchant{ID: "grocer", MCC: 5411})
	store.addTransaction(domain.Transaction{ID: "a", AmountMinor: 1000, MerchantID: "grocer"})
	e := newEngine(t, store, domain.DefaultMethods(), estimate.AlwaysReplace)

	ctx, cancel := context.WithCancel(quietContext())
	cancel()

	outcomes, err := e.EstimateAll(ctx, []string{"a"}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("EstimateAll() error = %v, want context.Canceled", err)
	}
	if store.saveCount() != 0 {
		t.Errorf("saves = %d, want 0", store.saveCount())
	}
	if got := estimate.Summarize(outcomes); got.Failed != 1 {
		t.Errorf("Summarize() = %+v, want one failure", got)
	}
}

func TestSummarize_KeptPrior(t *testing.T) {
	outcomes := []estimate.Outcome{
		{TransactionID: "a", Result: &estimate.Result{Persisted: true}},
		{TransactionID: "b", Result: &estimate.Result{Persisted: false, Reason: "kept"}},
		{TransactionID: "c", Err: domain.ErrNotEstimable},
		{TransactionID: "d", Err: errors.New("boom")},
	}
	got := estimate.Summarize(outcomes)
	want := estimate.Summary{Estimated: 1, KeptPrior: 1, NotEstimable: 1, Failed: 1}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestEstimate_MCCProperties(t *testing.T) {
	codes := mcc.Codes()
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Int64Range(1, 10_000_000).Draw(t, "amount")
		code := rapid.SampledFrom(codes).Draw(t, "mcc")

		store := newFakeStore()
		store.addMerchant(domain.Merchant{ID: "m", MCC: code})
		store.addTransaction(domain.Transaction{ID: "t", AmountMinor: amount, MerchantID: "m"})

		e, err := estimate.New(estimate.Options{Store: store, Methods: domain.DefaultMethods()})
		if err != nil {
			t.Fatalf("estimate.New() error = %v", err)
		}
		res, err := e.Estimate(quietContext(), "t")
		if err != nil {
			t.Fatalf("Estimate() error = %v", err)
		}

		if res.CO2e <= 0 {
			t.Fatalf("CO2e = %v, want > 0", res.CO2e)
		}
		scaled := res.CO2e * 1e5
		if math.Abs(scaled-math.Round(scaled)) > 1e-6*math.Max(1, scaled) {
			t.Fatalf("CO2e = %v has more than 5 decimal places", res.CO2e)
		}
		f, _ := mcc.Factor(code)
		want := f * float64(amount) / 100
		if math.Abs(res.CO2e-want) > 6e-6 {
			t.Fatalf("CO2e = %v, want %v", res.CO2e, want)
		}
	})
}
