package bigquery

import (
	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

type MerchantRow struct {
	MerchantID    string `bigquery:"merchant_id"`    // REQUIRED
	CanonicalName string `bigquery:"canonical_name"` // REQUIRED

	MCCCode bigquery.NullInt64 `bigquery:"mcc_code"` // NULLABLE

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"` // NULLABLE (default CURRENT_TIMESTAMP())
}

func (r *MerchantRow) ToDomain() *domain.Merchant {
	return &domain.Merchant{
		ID:   r.MerchantID,
		Name: r.CanonicalName,
		MCC:  int(r.MCCCode.Int64),
	}
}
