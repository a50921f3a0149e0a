package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

type EstimateRow struct {
	EstimateID    string `bigquery:"estimate_id"`    // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	Method string              `bigquery:"method"` // REQUIRED
	CO2e   float64             `bigquery:"co2e"`   // REQUIRED FLOAT64, kg
	Model  bigquery.NullString `bigquery:"model"`  // NULLABLE, embedding model behind receipt tiers

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED, microsecond precision
}

func (r *EstimateRow) ToDomain() *domain.Estimate {
	return &domain.Estimate{
		ID:            r.EstimateID,
		TransactionID: r.TransactionID,
		Method:        domain.Method(r.Method),
		CO2e:          r.CO2e,
		Model:         r.Model.StringVal,
		CreatedAt:     r.CreatedTS.UTC(),
	}
}

// historyRow is the aggregate read by MerchantHistory.
type historyRow struct {
	CO2e       float64 `bigquery:"co2e"`
	SpendMinor int64   `bigquery:"spend_minor"`
	TxCount    int64   `bigquery:"tx_count"`
}
