// Package sqlite is the local Store backend built on gorm and a pure Go SQLite driver.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// Open opens the database at dsn and migrates its schema.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	log := logger.Component(ctx, "sqlite")

	if err := ensureDirectory(dsn); err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: open %q: %w", dsn, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("sqlite.Open: migrate: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("Database opened")
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sqlite.Close: %w", err)
	}
	return sqlDB.Close()
}

func ensureDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || strings.Contains(candidate, ":memory:") {
		return nil
	}
	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
