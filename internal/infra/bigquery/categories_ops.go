package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// ListCategoriesWithClient returns the stored entries of a dataset embedded with model.
func ListCategoriesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, dataset, model string) ([]domain.CategoryEntry, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			dataset,
			name,
			model,
			factor,
			vector,
			updated_ts
		FROM %s
		WHERE dataset = @dataset
		  AND model = @model
		ORDER BY name
	`, ds.Table(categoriesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "dataset", Value: dataset},
		{Name: "model", Value: model},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query read: %w", err)
	}

	var entries []domain.CategoryEntry
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategories: iter next: %w", err)
		}
		entries = append(entries, r.ToDomain())
	}

	return entries, nil
}

// saveCategoriesQuery merges an array of CategoryRow structs keyed by
// dataset, name and model.
func saveCategoriesQuery(ds Dataset) string {
	return fmt.Sprintf(`
		MERGE %s T
		USING UNNEST(@rows) S
		ON T.dataset = S.dataset AND T.name = S.name AND T.model = S.model
		WHEN MATCHED THEN UPDATE SET
			factor = S.factor,
			vector = S.vector,
			updated_ts = S.updated_ts
		WHEN NOT MATCHED THEN INSERT (dataset, name, model, factor, vector, updated_ts)
		VALUES (S.dataset, S.name, S.model, S.factor, S.vector, S.updated_ts)
	`, ds.Table(categoriesTable))
}

// SaveCategoriesWithClient upserts entries.
func SaveCategoriesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, entries []domain.CategoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	q := client.Query(saveCategoriesQuery(ds))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "rows", Value: newCategoryRows(entries, time.Now().UTC())},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveCategories: %w", err)
	}
	return nil
}
