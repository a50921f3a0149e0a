package bigquery

import (
	"time"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// ReceiptRow keeps items as a STRING column; BigQuery JSON does not
// preserve object key order and receipt order matters.
type ReceiptRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	Items         string `bigquery:"items"`          // REQUIRED, {"name": {"weight": w|null, "price": p}, ...}

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP())
}

func (r *ReceiptRow) ToDomain() (*domain.Receipt, error) {
	items, err := domain.UnmarshalItems([]byte(r.Items))
	if err != nil {
		return nil, err
	}
	return &domain.Receipt{TransactionID: r.TransactionID, Items: items}, nil
}
