// Package embedding converts normalized review text into fixed-dimension
// vectors. Providers have no persistence side effects; transient upstream
// failures surface as retryable errors and are retried by the caller with
// bounded exponential backoff.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/internal/retry"
)

// Provider converts normalized text into a fixed-dimension vector.
type Provider interface {
	// Embed requires non-empty normalized text and returns a vector of
	// Dimension() length.
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// Options configures provider construction.
type Options struct {
	Provider          string
	APIKey            string
	Model             string
	Dimension         int
	RequestsPerSecond float64
}

// NewProvider creates a provider for the configured backend and wraps it
// with client-side rate limiting.
func NewProvider(opts Options) (Provider, error) {
	var p Provider
	var err error

	switch opts.Provider {
	case "openai":
		p, err = newOpenAIProvider(opts)
	case "gemini":
		p, err = newGeminiProvider(opts)
	case "hashing":
		p = NewHashingProvider(opts.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	if opts.RequestsPerSecond > 0 {
		p = &rateLimited{
			inner:   p,
			limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		}
	}
	return p, nil
}

// rateLimited throttles calls to the upstream embedding API.
type rateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

func (r *rateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

func (r *rateLimited) Dimension() int { return r.inner.Dimension() }
func (r *rateLimited) Name() string   { return r.inner.Name() }

// validateInput rejects input a provider must never be called with.
func validateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return reviewerr.Fatal("embed", fmt.Errorf("empty input text"))
	}
	return nil
}

// classifyErr maps an upstream failure into the retryable/fatal taxonomy.
// Rate limits and 5xx responses are transient; everything else is permanent.
func classifyErr(op string, err error) error {
	if retry.IsRetryableError(err) {
		return reviewerr.Retryable(op, err)
	}
	return reviewerr.Fatal(op, err)
}
