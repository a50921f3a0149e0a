package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

const hashModel = "hash-v1"

// HashProvider is an offline, deterministic embedder. Word tokens and
// character trigrams are hashed into signed buckets and L2 normalized, so
// texts sharing words or word stems score close together. It carries no
// semantics beyond lexical overlap.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a hash embedder of the given dimension.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = KnownModels[hashModel]
	}
	return &HashProvider{dim: dim}
}

func (p *HashProvider) Embed(ctx context.Context, text string) (domain.Vector, error) {
	if err := validateTexts(text); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

func (p *HashProvider) EmbedBatch(ctx context.Context, primary string, others ...string) ([]domain.Vector, error) {
	texts := append([]string{primary}, others...)
	if err := validateTexts(texts...); err != nil {
		return nil, err
	}
	out := make([]domain.Vector, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) Dimension() int { return p.dim }

func (p *HashProvider) Model() string { return hashModel }

func (p *HashProvider) Close() error { return nil }

func (p *HashProvider) vector(text string) domain.Vector {
	v := make(domain.Vector, p.dim)
	for _, word := range tokenize(text) {
		p.add(v, "w:"+word, 1)
		padded := "^" + word + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			p.add(v, "t:"+string(runes[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}

func (p *HashProvider) add(v domain.Vector, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
