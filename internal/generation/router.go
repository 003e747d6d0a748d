// Package generation dispatches review prompts to an ordered list of model
// backends under timeout, concurrency-cap, and budget control.
package generation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/semreview/internal/ledger"
	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/internal/retry"
)

// Options configures the router.
type Options struct {
	ModelTimeout         time.Duration // per-backend call timeout
	OrgConcurrencyCap    int
	QueueDepthMultiplier int
}

// Request is one generation attempt on behalf of an organization.
type Request struct {
	OrgID  int64
	Prompt string
}

// Result is a successful generation.
type Result struct {
	Content    string
	TokenCount int
	LatencyMs  int64
	Model      string
	Confidence float64
	CostUSD    float64
}

// Router tries backends in order, failing over immediately on timeout or
// transient error. The budget pre-check against the ledger is advisory: it
// runs before any call is issued but tolerates races under high concurrency.
type Router struct {
	backends []Backend
	gate     *admissionGate
	ledger   ledger.Ledger
	opts     Options
}

func NewRouter(backends []Backend, led ledger.Ledger, opts Options) *Router {
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 3000 * time.Millisecond
	}
	if opts.OrgConcurrencyCap <= 0 {
		opts.OrgConcurrencyCap = 10
	}
	if opts.QueueDepthMultiplier <= 0 {
		opts.QueueDepthMultiplier = 2
	}
	return &Router{
		backends: backends,
		gate:     newAdmissionGate(opts.OrgConcurrencyCap, opts.QueueDepthMultiplier),
		ledger:   led,
		opts:     opts,
	}
}

// Generate runs the failover chain for one request. Returned errors are
// ErrBudgetExceeded (zero cost incurred), ErrThrottled (admission queue
// full), the caller's context error, or *GenerationFailed carrying each
// model's failure reason.
func (r *Router) Generate(ctx context.Context, req Request) (*Result, error) {
	remaining, err := r.ledger.BudgetRemaining(ctx, req.OrgID)
	if err != nil {
		// A broken ledger must not silently disable billing controls
		return nil, err
	}
	if remaining.Exhausted() {
		log.Info().Int64("org_id", req.OrgID).
			Float64("daily_remaining_usd", remaining.DailyUSD).
			Float64("monthly_remaining_usd", remaining.MonthlyUSD).
			Msg("generation rejected by budget pre-check")
		return nil, reviewerr.ErrBudgetExceeded
	}

	gate := r.gate.forOrg(req.OrgID)
	if err := gate.acquire(ctx); err != nil {
		return nil, err
	}
	defer gate.release()

	failures := make([]reviewerr.ModelFailure, 0, len(r.backends))
	for _, backend := range r.backends {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.ModelTimeout)
		raw, err := backend.Generate(attemptCtx, req.Prompt)
		cancel()

		if err != nil {
			reason := failureReason(attemptCtx, err)
			failures = append(failures, reviewerr.ModelFailure{Model: backend.Name(), Reason: reason})
			log.Warn().Str("model", backend.Name()).Str("reason", reason).
				Dur("elapsed", time.Since(start)).Msg("backend attempt failed, trying next model")
			continue
		}

		content, confidence := parseModelOutput(raw.Content)
		return &Result{
			Content:    content,
			TokenCount: raw.TokenCount,
			LatencyMs:  latencyMs(start),
			Model:      backend.Name(),
			Confidence: confidence,
			CostUSD:    costUSD(backend, raw.TokenCount),
		}, nil
	}

	return nil, &reviewerr.GenerationFailed{Failures: failures}
}

// failureReason distinguishes per-attempt timeouts from upstream errors.
// The parent context expiring is surfaced by the caller loop instead.
func failureReason(attemptCtx context.Context, err error) string {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	if retry.IsRetryableError(err) {
		return "transient: " + err.Error()
	}
	return err.Error()
}
