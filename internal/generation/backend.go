package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// RawResponse is the unparsed output of one backend attempt.
type RawResponse struct {
	Content    string
	TokenCount int
}

// Backend is a single generation model in the ordered failover list.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*RawResponse, error)
	CostPer1KTokensUSD() float64
}

// LangchainBackend adapts a langchaingo model to the Backend interface.
type LangchainBackend struct {
	name string
	llm  llms.Model
	cost float64
}

func NewLangchainBackend(name string, llm llms.Model, costPer1KTokensUSD float64) *LangchainBackend {
	return &LangchainBackend{name: name, llm: llm, cost: costPer1KTokensUSD}
}

// NewOpenAIBackend builds a langchaingo-backed OpenAI backend for the given
// model identifier.
func NewOpenAIBackend(model, apiKey string, costPer1KTokensUSD float64) (*LangchainBackend, error) {
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model %s: %w", model, err)
	}
	return NewLangchainBackend(model, llm, costPer1KTokensUSD), nil
}

func (b *LangchainBackend) Name() string                { return b.name }
func (b *LangchainBackend) CostPer1KTokensUSD() float64 { return b.cost }

func (b *LangchainBackend) Generate(ctx context.Context, prompt string) (*RawResponse, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, b.llm, prompt)
	if err != nil {
		return nil, err
	}
	return &RawResponse{
		Content:    response,
		TokenCount: EstimateTokens(prompt) + EstimateTokens(response),
	}, nil
}

// EstimateTokens approximates the token count of content; roughly four
// characters per token for code and English text.
func EstimateTokens(content string) int {
	return len(content) / 4
}

// costUSD converts a token count to dollars for a backend.
func costUSD(b Backend, tokens int) float64 {
	return float64(tokens) / 1000.0 * b.CostPer1KTokensUSD()
}

// latencyMs is a small helper used when recording metrics.
func latencyMs(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
