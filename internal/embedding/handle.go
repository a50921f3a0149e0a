package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// Handle owns the process-wide provider. The provider is built on first
// use, exactly once; every later call shares it. Close tears it down.
type Handle struct {
	cfg   Config
	cache Cache

	once     sync.Once
	provider Provider
	err      error

	mu     sync.Mutex
	closed bool
}

// HandleOption customizes a Handle.
type HandleOption func(*Handle)

// WithCache memoizes vectors in c.
func WithCache(c Cache) HandleOption {
	return func(h *Handle) { h.cache = c }
}

// NewHandle returns a handle for cfg. No provider is built until Get or a
// Provider method is called.
func NewHandle(cfg Config, opts ...HandleOption) *Handle {
	h := &Handle{cfg: cfg.Normalized()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get builds the provider on first call and returns the shared instance.
// The build ignores the caller's cancellation. A failed build is remembered
// and returned on every call.
func (h *Handle) Get(ctx context.Context) (Provider, error) {
	h.once.Do(func() {
		p, err := New(context.WithoutCancel(ctx), h.cfg)
		if err != nil {
			h.err = err
			return
		}
		if h.cache != nil {
			p = NewCached(p, h.cache)
		}
		h.mu.Lock()
		h.provider = p
		h.mu.Unlock()
	})

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("embedding.Handle: closed: %w", domain.ErrUpstreamUnavailable)
	}
	return h.provider, h.err
}

// Instruction returns the configured query and document prefixes.
func (h *Handle) Instruction() Instruction {
	return h.cfg.Instruction()
}

func (h *Handle) Embed(ctx context.Context, text string) (domain.Vector, error) {
	p, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, text)
}

func (h *Handle) EmbedBatch(ctx context.Context, primary string, others ...string) ([]domain.Vector, error) {
	p, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.EmbedBatch(ctx, primary, others...)
}

// Dimension reports the provider's dimension, or the configured one
// before the provider is built.
func (h *Handle) Dimension() int {
	if p := h.built(); p != nil {
		return p.Dimension()
	}
	return h.cfg.Dimension
}

// Model reports the configured model.
func (h *Handle) Model() string {
	if p := h.built(); p != nil {
		return p.Model()
	}
	return h.cfg.Model
}

// Close releases the provider if it was built. Further calls fail.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if p := h.built(); p != nil {
		return p.Close()
	}
	return nil
}

// built returns the provider if construction has finished, nil otherwise.
func (h *Handle) built() Provider {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.provider
}

var _ Provider = (*Handle)(nil)
