// Package embedding turns item and category names into vectors.
//
// A Provider is expensive to build and safe for concurrent use once built.
// Build it once per process through New or a Handle and pass it to the
// components that need it.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// Provider converts text into fixed-length vectors. Output is deterministic
// for a fixed model version.
type Provider interface {
	// Embed returns the vector for a single non-empty text.
	Embed(ctx context.Context, text string) (domain.Vector, error)

	// EmbedBatch embeds primary followed by others, returning vectors in
	// the same order.
	EmbedBatch(ctx context.Context, primary string, others ...string) ([]domain.Vector, error)

	// Dimension returns the vector length, or 0 if not yet known.
	Dimension() int

	// Model identifies the model version; vectors from different models
	// must never be compared.
	Model() string

	// Close releases clients held by the provider.
	Close() error
}

// Kind selects a provider implementation.
type Kind string

const (
	KindGemini Kind = "gemini"
	KindOpenAI Kind = "openai"
	KindOllama Kind = "ollama"
	KindHash   Kind = "hash"
)

// Gemini backends.
const (
	BackendGeminiAPI = "gemini-api"
	BackendVertexAI  = "vertex"
)

// Config carries provider selection and settings. Providers ignore fields
// they do not use.
type Config struct {
	Provider  Kind
	Model     string
	Dimension int
	BatchSize int

	APIKey  string
	BaseURL string

	// Gemini only.
	Backend  string
	Project  string
	Location string

	QueryPrefix    string
	DocumentPrefix string
}

// DefaultBatchSize bounds texts per upstream request.
const DefaultBatchSize = 100

// KnownModels maps model names to their native output dimension.
var KnownModels = map[string]int{
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"hash-v1":                256,
}

// defaultModels are used when Config.Model is empty.
var defaultModels = map[Kind]string{
	KindGemini: "text-embedding-004",
	KindOpenAI: "text-embedding-3-small",
	KindOllama: "nomic-embed-text",
	KindHash:   "hash-v1",
}

// Normalized fills defaults for the selected provider.
func (c Config) Normalized() Config {
	c.Provider = Kind(strings.ToLower(strings.TrimSpace(string(c.Provider))))
	if c.Model == "" {
		c.Model = defaultModels[c.Provider]
	}
	if c.Dimension <= 0 {
		c.Dimension = KnownModels[c.Model]
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Instruction returns the prefixes configured for queries and documents.
func (c Config) Instruction() Instruction {
	return Instruction{Query: c.QueryPrefix, Document: c.DocumentPrefix}
}

// Instruction holds the prefixes instruction-tuned models expect in front
// of query and document texts.
type Instruction struct {
	Query    string
	Document string
}

// ForQuery prefixes a text that is being looked up.
func (i Instruction) ForQuery(text string) string {
	return i.Query + text
}

// ForDocument prefixes a text that is being indexed.
func (i Instruction) ForDocument(text string) string {
	return i.Document + text
}

// validateTexts rejects blank inputs before any upstream call is made.
func validateTexts(texts ...string) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("text %d is empty: %w", i, domain.ErrInvalidInput)
		}
	}
	return nil
}

// chunk splits texts into groups of at most size.
func chunk(texts []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	if len(texts) > 0 {
		out = append(out, texts)
	}
	return out
}
