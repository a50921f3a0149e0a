package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

func (s *Store) ListCategories(ctx context.Context, dataset, model string) ([]domain.CategoryEntry, error) {
	var rows []CategoryModel
	err := s.db.WithContext(ctx).
		Where("dataset = ? AND model = ?", dataset, model).
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query: %w", err)
	}

	out := make([]domain.CategoryEntry, 0, len(rows))
	for _, r := range rows {
		var v domain.Vector
		if err := json.Unmarshal([]byte(r.Vector), &v); err != nil {
			return nil, fmt.Errorf("ListCategories: decode vector of %q: %w", r.Name, err)
		}
		out = append(out, domain.CategoryEntry{
			Dataset: r.Dataset,
			Name:    r.Name,
			Factor:  r.Factor,
			Vector:  v,
			Model:   r.Model,
		})
	}
	return out, nil
}

func (s *Store) SaveCategories(ctx context.Context, entries []domain.CategoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]CategoryModel, len(entries))
	for i, e := range entries {
		v, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("SaveCategories: encode vector of %q: %w", e.Name, err)
		}
		rows[i] = CategoryModel{
			Dataset:   e.Dataset,
			Name:      e.Name,
			Model:     e.Model,
			Factor:    e.Factor,
			Vector:    string(v),
			UpdatedAt: now,
		}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset"}, {Name: "name"}, {Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{"factor", "vector", "updated_at"}),
	}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("SaveCategories: upsert: %w", err)
	}
	return nil
}
