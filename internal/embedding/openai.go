package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// DefaultOllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama.
const DefaultOllamaBaseURL = "http://localhost:11434/v1/"

// OpenAIProvider embeds text through the OpenAI embeddings API or any
// server speaking the same protocol.
type OpenAIProvider struct {
	client        openai.Client
	model         string
	dim           atomic.Int64
	batchSize     int
	sendDimension bool
}

// NewOpenAIProvider creates a provider for the hosted OpenAI API.
func NewOpenAIProvider(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewOpenAIProvider: api key is required: %w", domain.ErrConfiguration)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return newOpenAICompatible(cfg, true, opts...), nil
}

// NewOllamaProvider creates a provider for a local Ollama server. Ollama
// ignores the dimension parameter, so it is never sent.
func NewOllamaProvider(ctx context.Context, cfg Config) (Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	return newOpenAICompatible(cfg, false,
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	), nil
}

func newOpenAICompatible(cfg Config, sendDimension bool, opts ...option.RequestOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client:        openai.NewClient(opts...),
		model:         cfg.Model,
		batchSize:     cfg.BatchSize,
		sendDimension: sendDimension,
	}
	p.dim.Store(int64(cfg.Dimension))
	return p
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) (domain.Vector, error) {
	vs, err := p.EmbedBatch(ctx, text)
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, primary string, others ...string) ([]domain.Vector, error) {
	texts := append([]string{primary}, others...)
	if err := validateTexts(texts...); err != nil {
		return nil, err
	}

	out := make([]domain.Vector, 0, len(texts))
	for _, group := range chunk(texts, p.batchSize) {
		params := openai.EmbeddingNewParams{
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: group},
			Model:          openai.EmbeddingModel(p.model),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		}
		if dim := p.dim.Load(); p.sendDimension && dim > 0 {
			params.Dimensions = openai.Int(dim)
		}

		resp, err := p.client.Embeddings.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("OpenAIProvider.EmbedBatch: create embeddings: %w: %w", domain.ErrUpstreamUnavailable, err)
		}
		if len(resp.Data) != len(group) {
			return nil, fmt.Errorf("OpenAIProvider.EmbedBatch: got %d embeddings for %d texts: %w",
				len(resp.Data), len(group), domain.ErrUpstreamUnavailable)
		}

		vs := make([]domain.Vector, len(group))
		for _, e := range resp.Data {
			if e.Index < 0 || int(e.Index) >= len(vs) {
				return nil, fmt.Errorf("OpenAIProvider.EmbedBatch: index %d out of range: %w", e.Index, domain.ErrUpstreamUnavailable)
			}
			vs[e.Index] = domain.Vector(e.Embedding)
		}
		if len(vs[0]) > 0 {
			p.dim.CompareAndSwap(0, int64(len(vs[0])))
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (p *OpenAIProvider) Dimension() int { return int(p.dim.Load()) }

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Close() error { return nil }
