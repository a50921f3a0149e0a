package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// GetReceiptWithClient reads the receipt of a transaction, or nil if it has none.
func GetReceiptWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, transactionID string) (*domain.Receipt, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			items,
			created_ts
		FROM %s
		WHERE transaction_id = @transaction_id
		ORDER BY created_ts DESC
		LIMIT 1
	`, ds.Table(receiptsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: query read: %w", err)
	}

	var row ReceiptRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: iter next: %w", err)
	}

	r, err := row.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: decode items: %w", err)
	}
	return r, nil
}

// SaveReceiptWithClient replaces the receipt of a transaction.
func SaveReceiptWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, r *domain.Receipt) error {
	items, err := r.MarshalItems()
	if err != nil {
		return fmt.Errorf("SaveReceipt: encode items: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @transaction_id AS transaction_id) S
		ON T.transaction_id = S.transaction_id
		WHEN MATCHED THEN UPDATE SET items = @items
		WHEN NOT MATCHED THEN INSERT (transaction_id, items, created_ts)
		VALUES (@transaction_id, @items, CURRENT_TIMESTAMP())
	`, ds.Table(receiptsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: r.TransactionID},
		{Name: "items", Value: string(items)},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveReceipt: %w", err)
	}
	return nil
}
