package domain

import (
	"fmt"
	"strings"
	"time"
)

// Method names the data an estimate was derived from.
type Method string

const (
	MethodItem         Method = "item"
	MethodCategory     Method = "category"
	MethodMerchant     Method = "merchant"
	MethodMCC          Method = "mcc"
	MethodItemMerchant Method = "item/merchant"
	MethodItemMCC      Method = "item/mcc"
)

var specificity = map[Method]int{
	MethodItem:         6,
	MethodCategory:     5,
	MethodItemMerchant: 4,
	MethodItemMCC:      3,
	MethodMerchant:     2,
	MethodMCC:          1,
}

// Valid reports whether m is one of the known method tokens.
func (m Method) Valid() bool {
	_, ok := specificity[m]
	return ok
}

// Specificity ranks methods by how much transaction-specific data they use.
// Unknown methods rank 0.
func (m Method) Specificity() int {
	return specificity[m]
}

// ParseMethod validates a stored method token.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.TrimSpace(s))
	if !m.Valid() {
		return "", fmt.Errorf("ParseMethod: unknown method %q: %w", s, ErrInvalidInput)
	}
	return m, nil
}

// Estimate is one persisted estimation attempt. The newest row per
// transaction is authoritative.
type Estimate struct {
	ID            string
	TransactionID string
	Method        Method
	CO2e          float64 // kg, rounded to 5 decimal places
	Model         string  // embedding model used, empty when none was needed
	CreatedAt     time.Time
}

// Methods is the externally supplied set of enabled cascade tiers.
type Methods struct {
	Item     bool
	Category bool
	Merchant bool
	MCC      bool
}

// DefaultMethods enables only the merchant category code fallback.
func DefaultMethods() Methods {
	return Methods{MCC: true}
}

// Any reports whether at least one tier is enabled.
func (m Methods) Any() bool {
	return m.Item || m.Category || m.Merchant || m.MCC
}

// Enabled lists the active tiers in cascade order.
func (m Methods) Enabled() []Method {
	var out []Method
	if m.Item {
		out = append(out, MethodItem)
	}
	if m.Category {
		out = append(out, MethodCategory)
	}
	if m.Merchant {
		out = append(out, MethodMerchant)
	}
	if m.MCC {
		out = append(out, MethodMCC)
	}
	return out
}

// MerchantHistory aggregates a merchant's already estimated transactions.
type MerchantHistory struct {
	CO2e       float64 // kg
	SpendMinor int64
	Count      int
}

// HistoryQuery selects the transactions a merchant factor is derived from.
type HistoryQuery struct {
	MerchantID           string
	UserID               string // empty matches every user
	ExcludeTransactionID string
}
