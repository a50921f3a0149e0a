package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// Factory builds a provider from a normalized config.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Factory{
		KindGemini: NewGeminiProvider,
		KindOpenAI: NewOpenAIProvider,
		KindOllama: NewOllamaProvider,
		KindHash: func(_ context.Context, cfg Config) (Provider, error) {
			return NewHashProvider(cfg.Dimension), nil
		},
	}
)

// Register adds or replaces the factory for kind.
func Register(kind Kind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// Kinds lists registered provider kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds the provider selected by cfg.Provider. A missing or unknown
// selection is a configuration error.
func New(ctx context.Context, cfg Config) (Provider, error) {
	cfg = cfg.Normalized()
	if cfg.Provider == "" {
		return nil, fmt.Errorf("embedding.New: no provider selected: %w", domain.ErrConfiguration)
	}

	registryMu.RLock()
	f, ok := registry[cfg.Provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("embedding.New: unknown provider %q (want one of %v): %w",
			cfg.Provider, Kinds(), domain.ErrConfiguration)
	}

	p, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding.New: building %s provider: %w", cfg.Provider, err)
	}
	return p, nil
}
