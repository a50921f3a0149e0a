package bigquery

import (
	"time"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// CategoryRow is an embedded catalogue entry. Rows are keyed by dataset, name and model.
type CategoryRow struct {
	Dataset string `bigquery:"dataset"` // REQUIRED
	Name    string `bigquery:"name"`    // REQUIRED
	Model   string `bigquery:"model"`   // REQUIRED

	Factor float64   `bigquery:"factor"` // REQUIRED
	Vector []float64 `bigquery:"vector"` // REPEATED FLOAT64

	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

func (r *CategoryRow) ToDomain() domain.CategoryEntry {
	return domain.CategoryEntry{
		Dataset: r.Dataset,
		Name:    r.Name,
		Factor:  r.Factor,
		Vector:  domain.Vector(r.Vector),
		Model:   r.Model,
	}
}

func newCategoryRows(entries []domain.CategoryEntry, now time.Time) []CategoryRow {
	rows := make([]CategoryRow, len(entries))
	for i, e := range entries {
		rows[i] = CategoryRow{
			Dataset:   e.Dataset,
			Name:      e.Name,
			Model:     e.Model,
			Factor:    e.Factor,
			Vector:    []float64(e.Vector),
			UpdatedTS: now,
		}
	}
	return rows
}
