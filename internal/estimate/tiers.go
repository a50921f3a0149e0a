package estimate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/mcc"
)

// attempt is the state shared by the tiers of one estimation.
type attempt struct {
	tx       *domain.Transaction
	receipt  *domain.Receipt
	merchant *domain.Merchant
	log      zerolog.Logger

	// residual holds receipt items no receipt tier has resolved yet.
	residual []domain.ReceiptItem

	receiptCO2e   decimal.Decimal
	receiptMethod domain.Method

	fallbackCO2e   decimal.Decimal
	fallbackMethod domain.Method

	model string
}

func newAttempt(tx *domain.Transaction, r *domain.Receipt, m *domain.Merchant, log zerolog.Logger) *attempt {
	a := &attempt{tx: tx, receipt: r, merchant: m, log: log}
	if r != nil {
		a.residual = append([]domain.ReceiptItem(nil), r.Items...)
	}
	return a
}

func (a *attempt) hasReceipt() bool {
	return a.receipt != nil && len(a.receipt.Items) > 0
}

// needsFallback reports whether merchant or mcc tiers still have spend to cover.
func (a *attempt) needsFallback() bool {
	if a.fallbackMethod != "" {
		return false
	}
	return a.receiptMethod == "" || len(a.residual) > 0
}

// fallbackBase is the spend, in major units, left for the fallback tiers:
// unresolved item prices when a receipt tier contributed, else the whole amount.
func (a *attempt) fallbackBase() decimal.Decimal {
	if a.receiptMethod == "" {
		return decimal.NewFromInt(a.tx.AmountMinor).Shift(-2)
	}
	sum := decimal.Zero
	for _, it := range a.residual {
		sum = sum.Add(decimal.NewFromFloat(it.Price))
	}
	return sum
}

func (a *attempt) total() decimal.Decimal {
	return a.receiptCO2e.Add(a.fallbackCO2e)
}

// method names the combination of tiers that contributed.
func (a *attempt) method() domain.Method {
	switch {
	case a.receiptMethod != "" && a.fallbackMethod == domain.MethodMerchant:
		return domain.MethodItemMerchant
	case a.receiptMethod != "" && a.fallbackMethod == domain.MethodMCC:
		return domain.MethodItemMCC
	case a.receiptMethod != "":
		return a.receiptMethod
	default:
		return a.fallbackMethod
	}
}

// tier is one step of the cascade. Tiers that cannot contribute return nil
// and leave the attempt unchanged; an error aborts the estimation.
type tier interface {
	name() domain.Method
	apply(ctx context.Context, a *attempt) error
}

// receiptTier resolves receipt items against a catalogue. The item tier
// multiplies weight by a per-kg factor; the category tier multiplies price
// by a per-currency factor and runs only when no earlier receipt tier
// produced a figure.
type receiptTier struct {
	method   domain.Method
	cat      *catalogue.Catalogue
	matcher  catalogue.Matcher
	minScore float64
}

func (t *receiptTier) name() domain.Method { return t.method }

func (t *receiptTier) apply(ctx context.Context, a *attempt) error {
	if !a.hasReceipt() || a.receiptMethod != "" {
		return nil
	}

	sum := decimal.Zero
	var residual []domain.ReceiptItem
	for _, it := range a.residual {
		qty, ok := t.quantity(it)
		if !ok {
			residual = append(residual, it)
			continue
		}

		entry, score, err := t.matcher.Match(ctx, t.cat, it.Name)
		if err != nil {
			return fmt.Errorf("%s tier: %w", t.method, err)
		}
		if score < t.minScore {
			a.log.Debug().
				Str("tier", string(t.method)).
				Str("item", it.Name).
				Str("match", entry.Name).
				Float64("score", score).
				Msg("Match below threshold, leaving item unresolved")
			residual = append(residual, it)
			continue
		}

		a.log.Debug().
			Str("tier", string(t.method)).
			Str("item", it.Name).
			Str("match", entry.Name).
			Float64("score", score).
			Msg("Matched receipt item")
		sum = sum.Add(qty.Mul(decimal.NewFromFloat(entry.Factor)))
	}

	if !sum.IsPositive() {
		a.log.Debug().Str("tier", string(t.method)).Msg("No usable receipt result")
		return nil
	}

	a.receiptCO2e = sum
	a.receiptMethod = t.method
	a.residual = residual
	a.model = t.cat.Model()
	return nil
}

// quantity returns what the catalogue factor multiplies for it.
func (t *receiptTier) quantity(it domain.ReceiptItem) (decimal.Decimal, bool) {
	switch t.cat.Unit() {
	case domain.UnitKilogram:
		if !it.HasWeight() {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(*it.Weight), true
	default:
		if it.Price <= 0 {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(it.Price), true
	}
}

// merchantTier applies the factor implied by the merchant's estimated history.
type merchantTier struct {
	store Store
}

func (t *merchantTier) name() domain.Method { return domain.MethodMerchant }

func (t *merchantTier) apply(ctx context.Context, a *attempt) error {
	if !a.needsFallback() || a.tx.MerchantID == "" {
		return nil
	}
	base := a.fallbackBase()
	if !base.IsPositive() {
		return nil
	}

	h, err := t.store.MerchantHistory(ctx, domain.HistoryQuery{
		MerchantID:           a.tx.MerchantID,
		UserID:               a.tx.UserID,
		ExcludeTransactionID: a.tx.ID,
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("Merchant history unavailable, skipping tier")
		return nil
	}
	if h.Count == 0 || h.SpendMinor <= 0 || h.CO2e <= 0 {
		a.log.Debug().Int("count", h.Count).Int64("spend_minor", h.SpendMinor).Msg("No usable merchant history")
		return nil
	}

	spend := decimal.NewFromInt(h.SpendMinor).Shift(-2)
	factor := decimal.NewFromFloat(h.CO2e).Div(spend)
	co2e := factor.Mul(base)
	if !co2e.IsPositive() {
		return nil
	}

	a.fallbackCO2e = co2e
	a.fallbackMethod = domain.MethodMerchant
	return nil
}

// mccTier applies the static merchant category code factor.
type mccTier struct{}

func (t *mccTier) name() domain.Method { return domain.MethodMCC }

func (t *mccTier) apply(ctx context.Context, a *attempt) error {
	if !a.needsFallback() || a.merchant == nil {
		return nil
	}
	base := a.fallbackBase()
	if !base.IsPositive() {
		return nil
	}

	f, err := mcc.Factor(a.merchant.MCC)
	if err != nil {
		a.log.Debug().Err(err).Int("mcc", a.merchant.MCC).Msg("No mcc factor")
		return nil
	}

	a.fallbackCO2e = decimal.NewFromFloat(f).Mul(base)
	a.fallbackMethod = domain.MethodMCC
	return nil
}
