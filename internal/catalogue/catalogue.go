// Package catalogue holds emission-factor categories and their embeddings.
//
// A Catalogue is built once at startup by Bootstrap and never changes
// afterwards, so it can be shared freely between goroutines.
package catalogue

import (
	"context"
	"fmt"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
	"github.com/dvloznov/grocery-carbon/internal/similarity"
)

// Catalogue is an immutable, ordered set of embedded categories.
type Catalogue struct {
	name    string
	unit    domain.Unit
	model   string
	entries []domain.CategoryEntry
	labeled []similarity.Labeled
	index   map[string]int
}

// New builds a catalogue from entries in load order. All vectors must
// share one dimension.
func New(name string, unit domain.Unit, model string, entries []domain.CategoryEntry) (*Catalogue, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalogue.New: %s has no entries: %w", name, domain.ErrInvalidInput)
	}

	c := &Catalogue{
		name:    name,
		unit:    unit,
		model:   model,
		entries: make([]domain.CategoryEntry, len(entries)),
		labeled: make([]similarity.Labeled, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	dim := len(entries[0].Vector)
	for i, e := range entries {
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return nil, fmt.Errorf("catalogue.New: %s entry %q has dimension %d, want %d: %w",
				name, e.Name, len(e.Vector), dim, domain.ErrInvalidInput)
		}
		key := normalizeName(e.Name)
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("catalogue.New: %s has duplicate entry %q: %w", name, e.Name, domain.ErrInvalidInput)
		}
		e.Vector = append(domain.Vector(nil), e.Vector...)
		c.entries[i] = e
		c.labeled[i] = similarity.Labeled{Label: e.Name, Vector: e.Vector}
		c.index[key] = i
	}
	return c, nil
}

// Name returns the dataset name.
func (c *Catalogue) Name() string { return c.name }

// Unit returns what the factors are expressed per.
func (c *Catalogue) Unit() domain.Unit { return c.unit }

// Model returns the embedding model the vectors came from.
func (c *Catalogue) Model() string { return c.model }

// Len returns the number of entries.
func (c *Catalogue) Len() int { return len(c.entries) }

// Dimension returns the vector length shared by every entry.
func (c *Catalogue) Dimension() int { return len(c.entries[0].Vector) }

// All returns a copy of the entries in load order.
func (c *Catalogue) All() []domain.CategoryEntry {
	out := make([]domain.CategoryEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get looks an entry up by name, ignoring case and spacing.
func (c *Catalogue) Get(name string) (domain.CategoryEntry, bool) {
	i, ok := c.index[normalizeName(name)]
	if !ok {
		return domain.CategoryEntry{}, false
	}
	return c.entries[i], true
}

// Nearest returns the entry most similar to v. Ties go to the earlier entry.
func (c *Catalogue) Nearest(v domain.Vector) (domain.CategoryEntry, float64, error) {
	m, err := similarity.BestMatch(v, c.labeled)
	if err != nil {
		return domain.CategoryEntry{}, 0, fmt.Errorf("Catalogue.Nearest: %s: %w", c.name, err)
	}
	return c.entries[c.index[normalizeName(m.Label)]], m.Score, nil
}

// Scores returns the similarity of v to every entry in load order.
func (c *Catalogue) Scores(v domain.Vector) ([]similarity.Match, error) {
	return similarity.Scores(v, c.labeled)
}

// Matcher embeds free text and finds its nearest catalogue entry.
type Matcher struct {
	Provider    embedding.Provider
	Instruction embedding.Instruction
}

// Match embeds text as a query and returns the nearest entry of c.
func (m Matcher) Match(ctx context.Context, c *Catalogue, text string) (domain.CategoryEntry, float64, error) {
	if m.Provider.Model() != "" && c.model != "" && m.Provider.Model() != c.model {
		return domain.CategoryEntry{}, 0, fmt.Errorf("Matcher.Match: provider model %q does not match catalogue model %q: %w",
			m.Provider.Model(), c.model, domain.ErrConfiguration)
	}
	v, err := m.Provider.Embed(ctx, m.Instruction.ForQuery(text))
	if err != nil {
		return domain.CategoryEntry{}, 0, fmt.Errorf("Matcher.Match: embed %q: %w", text, err)
	}
	return c.Nearest(v)
}
