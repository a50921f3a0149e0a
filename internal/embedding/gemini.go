package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// semanticSimilarity is the Gemini task type for symmetric text comparison.
const semanticSimilarity = "SEMANTIC_SIMILARITY"

// GeminiProvider embeds text with a Gemini embedding model, through either
// the Gemini API or Vertex AI.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dim       int
	batchSize int
}

// NewGeminiProvider creates a Gemini-backed provider. With an empty
// Backend, the Gemini API is used when an API key is set and Vertex AI
// otherwise.
func NewGeminiProvider(ctx context.Context, cfg Config) (Provider, error) {
	cc := &genai.ClientConfig{
		APIKey:   cfg.APIKey,
		Project:  cfg.Project,
		Location: cfg.Location,
	}
	switch cfg.Backend {
	case BackendGeminiAPI:
		cc.Backend = genai.BackendGeminiAPI
	case BackendVertexAI:
		cc.Backend = genai.BackendVertexAI
	case "":
		if cfg.APIKey != "" {
			cc.Backend = genai.BackendGeminiAPI
		} else {
			cc.Backend = genai.BackendVertexAI
		}
	default:
		return nil, fmt.Errorf("NewGeminiProvider: unknown backend %q: %w", cfg.Backend, domain.ErrConfiguration)
	}
	if cc.Backend == genai.BackendGeminiAPI && cc.APIKey == "" {
		return nil, fmt.Errorf("NewGeminiProvider: gemini-api backend needs an API key: %w", domain.ErrConfiguration)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiProvider: create genai client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		dim:       cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) (domain.Vector, error) {
	vs, err := p.EmbedBatch(ctx, text)
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, primary string, others ...string) ([]domain.Vector, error) {
	texts := append([]string{primary}, others...)
	if err := validateTexts(texts...); err != nil {
		return nil, err
	}

	cfg := &genai.EmbedContentConfig{TaskType: semanticSimilarity}
	if p.dim > 0 {
		dim := int32(p.dim)
		cfg.OutputDimensionality = &dim
	}

	out := make([]domain.Vector, 0, len(texts))
	for _, group := range chunk(texts, p.batchSize) {
		contents := make([]*genai.Content, len(group))
		for i, t := range group {
			contents[i] = genai.NewContentFromText(t, genai.RoleUser)
		}

		resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("GeminiProvider.EmbedBatch: embed content: %w: %w", domain.ErrUpstreamUnavailable, err)
		}
		if len(resp.Embeddings) != len(group) {
			return nil, fmt.Errorf("GeminiProvider.EmbedBatch: got %d embeddings for %d texts: %w",
				len(resp.Embeddings), len(group), domain.ErrUpstreamUnavailable)
		}

		for _, e := range resp.Embeddings {
			v := make(domain.Vector, len(e.Values))
			for i, x := range e.Values {
				v[i] = float64(x)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *GeminiProvider) Dimension() int { return p.dim }

func (p *GeminiProvider) Model() string { return p.model }

// Close is a no-op; the genai client holds no closable resources.
func (p *GeminiProvider) Close() error { return nil }
