package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// DeleteReceiptWithClient removes the receipt of a transaction. Estimates
// and the transaction's co2e are left as they are; the next estimation
// decides what replaces them.
func DeleteReceiptWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, transactionID string) error {
	q := client.Query(fmt.Sprintf(`
		DELETE FROM %s
		WHERE transaction_id = @transaction_id
	`, ds.Table(receiptsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("DeleteReceipt: %w", err)
	}
	return nil
}
