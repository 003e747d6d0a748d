package embedding

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// geminiProvider calls the Gemini embedding API directly.
type geminiProvider struct {
	apiKey    string
	model     string
	dimension int
}

func newGeminiProvider(opts Options) (*geminiProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini embedding provider requires an api key")
	}
	model := opts.Model
	if model == "" {
		model = "text-embedding-004"
	}
	return &geminiProvider{
		apiKey:    strings.TrimSpace(opts.APIKey),
		model:     model,
		dimension: opts.Dimension,
	}, nil
}

func (p *geminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := validateInput(text); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, classifyErr("gemini embed", err)
	}

	resp, err := client.Models.EmbedContent(
		ctx,
		p.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"},
	)
	if err != nil {
		return nil, classifyErr("gemini embed", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embedding values")
	}

	vec := resp.Embeddings[0].Values
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("gemini returned %d dimensions, expected %d", len(vec), p.dimension)
	}
	return vec, nil
}

func (p *geminiProvider) Dimension() int { return p.dimension }
func (p *geminiProvider) Name() string   { return "gemini/" + p.model }
