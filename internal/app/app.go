// Package app wires configuration into a ready estimation engine. The CLI
// and the worker share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/config"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
	"github.com/dvloznov/grocery-carbon/internal/gcs"
	infraBQ "github.com/dvloznov/grocery-carbon/internal/infra/bigquery"
	"github.com/dvloznov/grocery-carbon/internal/infra/sqlite"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// Backend is everything the processes need from a store.
type Backend interface {
	estimate.Store
	estimate.TransactionLister
	catalogue.Repository

	UpsertMerchant(ctx context.Context, m *domain.Merchant) error
	UpsertTransaction(ctx context.Context, tx *domain.Transaction) error
	SaveReceipt(ctx context.Context, r *domain.Receipt) error
	DeleteReceipt(ctx context.Context, transactionID string) error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*infraBQ.BigQueryStore)(nil)
)

// App holds the process-wide resources.
type App struct {
	Config config.Config
	Store  Backend

	// Embeddings is nil when no embedding provider is configured.
	Embeddings *embedding.Handle

	cache   embedding.Cache
	storage gcs.StorageService
	closers []func() error
}

// Open connects the configured store and prepares the embedding handle.
// No provider call is made until a catalogue or the engine needs one.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Embedding.Provider) != "" {
		var opts []embedding.HandleOption
		if cfg.Embedding.Cache && a.cache != nil {
			opts = append(opts, embedding.WithCache(a.cache))
		}
		a.Embeddings = embedding.NewHandle(cfg.EmbeddingConfig(), opts...)
		a.closers = append(a.closers, a.Embeddings.Close)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	log := logger.Component(ctx, "app")
	sc := a.Config.Store

	switch strings.ToLower(sc.Driver) {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, sc.DSN)
		if err != nil {
			return fmt.Errorf("app.Open: %w", err)
		}
		a.Store = sqlite.NewStore(db)
		a.cache = sqlite.NewEmbeddingCache(db)
		a.closers = append(a.closers, func() error { return sqlite.Close(db) })
	case config.DriverBigQuery:
		bq, err := infraBQ.NewBigQueryStore(ctx, sc.Project, sc.Dataset)
		if err != nil {
			return fmt.Errorf("app.Open: %w", err)
		}
		a.Store = bq
		a.closers = append(a.closers, bq.Close)
	default:
		return fmt.Errorf("app.Open: unsupported store driver %q: %w", sc.Driver, domain.ErrConfiguration)
	}

	log.Debug().Str("driver", sc.Driver).Msg("Store ready")
	return nil
}

// Storage returns the Cloud Storage service, creating it on first use.
func (a *App) Storage(ctx context.Context) (gcs.StorageService, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	svc, err := gcs.NewGCSStorageService(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Storage: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	a.storage = svc
	a.closers = append(a.closers, svc.Close)
	return svc, nil
}

// SetStorage replaces the storage service, mainly for tests.
func (a *App) SetStorage(s gcs.StorageService) {
	a.storage = s
}

// Dataset loads a dataset from source, fetching gs:// sources through Storage.
func (a *App) Dataset(ctx context.Context, source string) (*catalogue.Dataset, error) {
	var storage gcs.StorageService
	if gcs.IsURI(source) {
		s, err := a.Storage(ctx)
		if err != nil {
			return nil, err
		}
		storage = s
	}
	return catalogue.LoadDataset(ctx, source, storage)
}

// Catalogue loads the dataset at source and returns its embedded
// catalogue, embedding and storing vectors the store does not yet hold.
func (a *App) Catalogue(ctx context.Context, source string) (*catalogue.Catalogue, error) {
	p, err := a.provider(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := a.Dataset(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("app.Catalogue: %w", err)
	}
	cat, err := catalogue.Bootstrap(ctx, a.Store, p, a.Embeddings.Instruction(), ds)
	if err != nil {
		return nil, fmt.Errorf("app.Catalogue: %w", err)
	}
	return cat, nil
}

// Matcher returns a matcher over the configured provider.
func (a *App) Matcher(ctx context.Context) (catalogue.Matcher, error) {
	p, err := a.provider(ctx)
	if err != nil {
		return catalogue.Matcher{}, err
	}
	return catalogue.Matcher{Provider: p, Instruction: a.Embeddings.Instruction()}, nil
}

// provider builds the shared provider so its model is known before
// catalogue lookups.
func (a *App) provider(ctx context.Context) (embedding.Provider, error) {
	if a.Embeddings == nil {
		return nil, fmt.Errorf("app: embedding.provider is not configured: %w", domain.ErrConfiguration)
	}
	if _, err := a.Embeddings.Get(ctx); err != nil {
		return nil, fmt.Errorf("app: embedding provider: %w", err)
	}
	return a.Embeddings, nil
}

// Engine builds the estimation engine for the configured methods. Receipt
// tiers bootstrap their catalogues first.
func (a *App) Engine(ctx context.Context) (*estimate.Engine, error) {
	cfg := a.Config
	methods := cfg.EnabledMethods()

	policy, err := estimate.ParseMergePolicy(cfg.Merge.Policy)
	if err != nil {
		return nil, fmt.Errorf("app.Engine: %w", err)
	}

	opts := estimate.Options{
		Store:       a.Store,
		Methods:     methods,
		MergePolicy: policy,
		MinScore:    cfg.Catalogue.MinScore,
	}
	if methods.Item || methods.Category {
		opts.Provider, err = a.provider(ctx)
		if err != nil {
			return nil, fmt.Errorf("app.Engine: %w", err)
		}
		opts.Instruction = a.Embeddings.Instruction()
	}
	if methods.Item {
		if opts.Items, err = a.Catalogue(ctx, cfg.Catalogue.Items); err != nil {
			return nil, fmt.Errorf("app.Engine: items: %w", err)
		}
	}
	if methods.Category {
		if opts.Categories, err = a.Catalogue(ctx, cfg.Catalogue.Categories); err != nil {
			return nil, fmt.Errorf("app.Engine: categories: %w", err)
		}
	}

	e, err := estimate.New(opts)
	if err != nil {
		return nil, fmt.Errorf("app.Engine: %w", err)
	}

	log := logger.Component(ctx, "app")
	log.Info().
		Strs("methods", methodStrings(e.Methods())).
		Str("merge_policy", string(policy)).
		Msg("Estimation engine ready")
	return e, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Retryable reports whether a failed estimate may succeed if run again.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrNotEstimable),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConfiguration):
		return false
	}
	return true
}

func methodStrings(ms []domain.Method) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
