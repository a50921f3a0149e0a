package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// Cache stores vectors by key. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Vector, bool, error)
	Set(ctx context.Context, key string, v domain.Vector) error
}

// Cached memoizes a provider's vectors. Cache failures are logged and
// otherwise ignored; the wrapped provider stays the source of truth.
type Cached struct {
	Provider
	cache Cache
}

// NewCached wraps p with cache.
func NewCached(p Provider, cache Cache) *Cached {
	return &Cached{Provider: p, cache: cache}
}

// CacheKey derives the cache key for text embedded by model at dim. Callers
// pass text with any instruction prefix already applied.
func CacheKey(model string, dim int, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + strconv.Itoa(dim) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// SpaceKey names the vector space a stored catalogue lives in: the model,
// its output dimension and the document prefix its entries were embedded
// with. Vectors from different spaces are not comparable.
func SpaceKey(model string, dim int, documentPrefix string) string {
	key := model + "@" + strconv.Itoa(dim)
	if documentPrefix != "" {
		sum := sha256.Sum256([]byte(documentPrefix))
		key += "#" + hex.EncodeToString(sum[:4])
	}
	return key
}

func (c *Cached) Embed(ctx context.Context, text string) (domain.Vector, error) {
	vs, err := c.EmbedBatch(ctx, text)
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (c *Cached) EmbedBatch(ctx context.Context, primary string, others ...string) ([]domain.Vector, error) {
	texts := append([]string{primary}, others...)
	if err := validateTexts(texts...); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).With().Str("component", "embedding_cache").Logger()
	model, dim := c.Provider.Model(), c.Provider.Dimension()

	out := make([]domain.Vector, len(texts))
	var missing []int
	for i, t := range texts {
		v, ok, err := c.cache.Get(ctx, CacheKey(model, dim, t))
		if err != nil {
			log.Warn().Err(err).Msg("cache read failed")
		}
		if ok && err == nil {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	toEmbed := make([]string, len(missing))
	for j, i := range missing {
		toEmbed[j] = texts[i]
	}
	fresh, err := c.Provider.EmbedBatch(ctx, toEmbed[0], toEmbed[1:]...)
	if err != nil {
		return nil, err
	}

	for j, i := range missing {
		out[i] = fresh[j]
		if err := c.cache.Set(ctx, CacheKey(model, dim, texts[i]), fresh[j]); err != nil {
			log.Warn().Err(err).Msg("cache write failed")
		}
	}
	return out, nil
}
