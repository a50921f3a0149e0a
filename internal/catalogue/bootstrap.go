package catalogue

import (
	"context"
	"fmt"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// Repository persists embedded category entries keyed by (dataset, model,
// name). The model key is an embedding.SpaceKey.
type Repository interface {
	// ListCategories returns stored entries for a dataset and model key.
	ListCategories(ctx context.Context, dataset, model string) ([]domain.CategoryEntry, error)

	// SaveCategories upserts entries.
	SaveCategories(ctx context.Context, entries []domain.CategoryEntry) error
}

// Bootstrap returns the catalogue for ds. Stored vectors are reused when the
// repository holds every entry for the provider's vector space (model,
// dimension and document prefix) with an unchanged factor and the expected
// length; otherwise every name is embedded once and saved.
func Bootstrap(ctx context.Context, repo Repository, p embedding.Provider, in embedding.Instruction, ds *Dataset) (*Catalogue, error) {
	space := embedding.SpaceKey(p.Model(), p.Dimension(), in.Document)
	log := logger.Component(ctx, "catalogue").With().
		Str("dataset", ds.Name).
		Str("space", space).
		Logger()

	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("Bootstrap: %w", err)
	}

	stored, err := repo.ListCategories(ctx, ds.Name, space)
	if err != nil {
		return nil, fmt.Errorf("Bootstrap: list stored categories: %w", err)
	}
	if entries, ok := reuse(ds, stored, p.Dimension()); ok {
		log.Debug().Int("entries", len(entries)).Msg("Using stored category vectors")
		return New(ds.Name, ds.Unit, p.Model(), entries)
	}

	log.Info().Int("entries", len(ds.Entries)).Msg("Embedding category dataset")

	texts := make([]string, len(ds.Entries))
	for i, e := range ds.Entries {
		texts[i] = in.ForDocument(e.Name)
	}
	vectors, err := p.EmbedBatch(ctx, texts[0], texts[1:]...)
	if err != nil {
		return nil, fmt.Errorf("Bootstrap: embed %s: %w", ds.Name, err)
	}

	entries := make([]domain.CategoryEntry, len(ds.Entries))
	for i, e := range ds.Entries {
		entries[i] = domain.CategoryEntry{
			Dataset: ds.Name,
			Name:    e.Name,
			Factor:  e.Factor,
			Vector:  vectors[i],
			Model:   space,
		}
	}

	cat, err := New(ds.Name, ds.Unit, p.Model(), entries)
	if err != nil {
		return nil, fmt.Errorf("Bootstrap: %w", err)
	}
	if err := repo.SaveCategories(ctx, entries); err != nil {
		return nil, fmt.Errorf("Bootstrap: save categories: %w", err)
	}

	log.Info().Int("dimension", cat.Dimension()).Msg("Category vectors stored")
	return cat, nil
}

// reuse orders stored entries by the dataset. It fails if any entry is
// missing, its factor changed or its vector is not dim long. A zero dim
// accepts any non-empty vector.
func reuse(ds *Dataset, stored []domain.CategoryEntry, dim int) ([]domain.CategoryEntry, bool) {
	if len(stored) < len(ds.Entries) {
		return nil, false
	}
	byName := make(map[string]domain.CategoryEntry, len(stored))
	for _, e := range stored {
		byName[normalizeName(e.Name)] = e
	}

	out := make([]domain.CategoryEntry, len(ds.Entries))
	for i, d := range ds.Entries {
		e, ok := byName[normalizeName(d.Name)]
		if !ok || e.Factor != d.Factor || len(e.Vector) == 0 {
			return nil, false
		}
		if dim > 0 && len(e.Vector) != dim {
			return nil, false
		}
		e.Name = d.Name
		out[i] = e
	}
	return out, true
}
