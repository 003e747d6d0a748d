package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// openAIProvider wraps the langchaingo OpenAI embedder.
type openAIProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

func newOpenAIProvider(opts Options) (*openAIProvider, error) {
	llm, err := openai.New(
		openai.WithToken(opts.APIKey),
		openai.WithEmbeddingModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}

	return &openAIProvider{
		embedder:  embedder,
		model:     opts.Model,
		dimension: opts.Dimension,
	}, nil
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := validateInput(text); err != nil {
		return nil, err
	}

	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, classifyErr("openai embed", err)
	}
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("openai returned %d dimensions, expected %d", len(vec), p.dimension)
	}
	return vec, nil
}

func (p *openAIProvider) Dimension() int { return p.dimension }
func (p *openAIProvider) Name() string   { return "openai/" + p.model }
