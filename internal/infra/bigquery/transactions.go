package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID     bigquery.NullString `bigquery:"user_id"`     // NULLABLE
	MerchantID bigquery.NullString `bigquery:"merchant_id"` // NULLABLE

	AmountMinor int64  `bigquery:"amount_minor"` // REQUIRED INT64, pence
	Currency    string `bigquery:"currency"`     // REQUIRED STRING

	TransactionDatetime bigquery.NullDateTime `bigquery:"transaction_datetime"` // NULLABLE, UTC wall clock

	CO2e bigquery.NullFloat64 `bigquery:"co2e"` // NULLABLE, kg

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP)
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// ToDomain converts the row to a domain.Transaction.
func (r *TransactionRow) ToDomain() *domain.Transaction {
	tx := &domain.Transaction{
		ID:          r.TransactionID,
		UserID:      r.UserID.StringVal,
		AmountMinor: r.AmountMinor,
		Currency:    r.Currency,
		MerchantID:  r.MerchantID.StringVal,
	}
	if r.TransactionDatetime.Valid {
		tx.Datetime = r.TransactionDatetime.DateTime.In(time.UTC)
	}
	if r.CO2e.Valid {
		v := r.CO2e.Float64
		tx.CO2e = &v
	}
	return tx
}

// NewTransactionRow converts a domain.Transaction to its row form.
func NewTransactionRow(tx *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID: tx.ID,
		UserID:        nullString(tx.UserID),
		MerchantID:    nullString(tx.MerchantID),
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
		CreatedTS:     time.Now().UTC(),
	}
	if !tx.Datetime.IsZero() {
		row.TransactionDatetime = bigquery.NullDateTime{DateTime: civil.DateTimeOf(tx.Datetime.UTC()), Valid: true}
	}
	if tx.CO2e != nil {
		row.CO2e = bigquery.NullFloat64{Float64: *tx.CO2e, Valid: true}
	}
	return row
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
