package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
)

// EmbeddingCache stores vectors keyed by embedding.CacheKey.
type EmbeddingCache struct {
	db *gorm.DB
}

var _ embedding.Cache = (*EmbeddingCache)(nil)

func NewEmbeddingCache(db *gorm.DB) *EmbeddingCache {
	return &EmbeddingCache{db: db}
}

func (c *EmbeddingCache) Get(ctx context.Context, key string) (domain.Vector, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("EmbeddingCache.Get: key is required")
	}

	var row EmbeddingCacheModel
	if err := c.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("EmbeddingCache.Get: query: %w", err)
	}

	var v domain.Vector
	if err := json.Unmarshal([]byte(row.Vector), &v); err != nil {
		return nil, false, fmt.Errorf("EmbeddingCache.Get: decode: %w", err)
	}
	return v, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, key string, v domain.Vector) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("EmbeddingCache.Set: key is required")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("EmbeddingCache.Set: encode: %w", err)
	}
	row := EmbeddingCacheModel{
		Key:       key,
		Vector:    string(data),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"vector":     row.Vector,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("EmbeddingCache.Set: upsert: %w", err)
	}
	return nil
}
