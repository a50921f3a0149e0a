package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// LatestEstimateWithClient returns the newest estimate of a transaction, or nil.
func LatestEstimateWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, transactionID string) (*domain.Estimate, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			estimate_id,
			transaction_id,
			method,
			co2e,
			model,
			created_ts
		FROM %s
		WHERE transaction_id = @transaction_id
		ORDER BY created_ts DESC
		LIMIT 1
	`, ds.Table(estimatesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LatestEstimate: query read: %w", err)
	}

	var row EstimateRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestEstimate: iter next: %w", err)
	}
	return row.ToDomain(), nil
}

// saveEstimateScript inserts the estimate and updates the transaction in
// one multi-statement transaction. The ASSERT fails the script, rolling it
// back, when the transaction does not exist.
func saveEstimateScript(ds Dataset) string {
	return fmt.Sprintf(`
		BEGIN TRANSACTION;

		ASSERT EXISTS (
			SELECT 1 FROM %[1]s WHERE transaction_id = @transaction_id
		) AS 'transaction not found';

		INSERT %[2]s (
			estimate_id,
			transaction_id,
			method,
			co2e,
			model,
			created_ts
		)
		VALUES (
			@estimate_id,
			@transaction_id,
			@method,
			@co2e,
			@model,
			@created_ts
		);

		UPDATE %[1]s
		SET co2e = @co2e, updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @transaction_id;

		COMMIT TRANSACTION;
	`, ds.Table(transactionsTable), ds.Table(estimatesTable))
}

// SaveEstimateWithClient persists est atomically with the transaction's co2e.
func SaveEstimateWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, est *domain.Estimate) error {
	q := client.Query(saveEstimateScript(ds))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "estimate_id", Value: est.ID},
		{Name: "transaction_id", Value: est.TransactionID},
		{Name: "method", Value: string(est.Method)},
		{Name: "co2e", Value: est.CO2e},
		{Name: "model", Value: nullString(est.Model)},
		{Name: "created_ts", Value: est.CreatedAt.UTC()},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveEstimate: %w", err)
	}
	return nil
}
