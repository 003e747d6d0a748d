package generation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semreview/internal/ledger"
	"github.com/semreview/internal/reviewerr"
)

// fakeBackend scripts one backend's behavior for router tests.
type fakeBackend struct {
	name    string
	content string
	tokens  int
	err     error
	delay   time.Duration
	block   chan struct{} // when set, Generate blocks until closed or ctx done
	calls   atomic.Int64
}

func (f *fakeBackend) Name() string                { return f.name }
func (f *fakeBackend) CostPer1KTokensUSD() float64 { return 1.0 }

func (f *fakeBackend) Generate(ctx context.Context, _ string) (*RawResponse, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &RawResponse{Content: f.content, TokenCount: f.tokens}, nil
}

func testLedger() *ledger.MemoryLedger {
	return ledger.NewMemoryLedger(ledger.Budgets{DailyUSD: 100, MonthlyUSD: 1000})
}

func TestRouterFirstBackendSucceeds(t *testing.T) {
	primary := &fakeBackend{name: "gpt-4o", content: "looks good", tokens: 100}
	fallback := &fakeBackend{name: "gpt-4o-mini", content: "fallback", tokens: 100}
	r := NewRouter([]Backend{primary, fallback}, testLedger(), Options{})

	result, err := r.Generate(context.Background(), Request{OrgID: 1, Prompt: "review this"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Equal(t, "looks good", result.Content)
	assert.Equal(t, 100, result.TokenCount)
	assert.InDelta(t, 0.1, result.CostUSD, 1e-9)
	assert.Equal(t, int64(0), fallback.calls.Load(), "fallback must not be called when primary succeeds")
}

func TestRouterFailsOverOnError(t *testing.T) {
	primary := &fakeBackend{name: "gpt-4o", err: errors.New("rate limit exceeded")}
	fallback := &fakeBackend{name: "gpt-4o-mini", content: "fallback wins", tokens: 50}
	r := NewRouter([]Backend{primary, fallback}, testLedger(), Options{})

	result, err := r.Generate(context.Background(), Request{OrgID: 1, Prompt: "review"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.Equal(t, "fallback wins", result.Content)
}

func TestRouterFailsOverOnTimeout(t *testing.T) {
	// Primary hangs past its per-call timeout, fallback answers quickly
	primary := &fakeBackend{name: "slow", delay: time.Second}
	fallback := &fakeBackend{name: "fast", content: "done", tokens: 10, delay: 20 * time.Millisecond}
	r := NewRouter([]Backend{primary, fallback}, testLedger(), Options{ModelTimeout: 80 * time.Millisecond})

	start := time.Now()
	result, err := r.Generate(context.Background(), Request{OrgID: 1, Prompt: "review"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "fast", result.Model)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond, "primary must consume its full timeout first")
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRouterAllBackendsFail(t *testing.T) {
	a := &fakeBackend{name: "model-a", err: errors.New("503 service unavailable")}
	b := &fakeBackend{name: "model-b", err: errors.New("connection refused")}
	r := NewRouter([]Backend{a, b}, testLedger(), Options{})

	_, err := r.Generate(context.Background(), Request{OrgID: 1, Prompt: "review"})
	require.Error(t, err)

	var gf *reviewerr.GenerationFailed
	require.True(t, errors.As(err, &gf))
	require.Len(t, gf.Failures, 2)
	assert.Equal(t, "model-a", gf.Failures[0].Model)
	assert.Equal(t, "model-b", gf.Failures[1].Model)
}

func TestRouterBudgetExceededBeforeAnyCall(t *testing.T) {
	led := ledger.NewMemoryLedger(ledger.Budgets{DailyUSD: 1, MonthlyUSD: 10})
	require.NoError(t, led.Increment(context.Background(), 1, 1000, 1.0))

	backend := &fakeBackend{name: "gpt-4o", content: "never"}
	r := NewRouter([]Backend{backend}, led, Options{})

	_, err := r.Generate(context.Background(), Request{OrgID: 1, Prompt: "review"})
	require.ErrorIs(t, err, reviewerr.ErrBudgetExceeded)
	assert.Equal(t, int64(0), backend.calls.Load(), "no model call may be attempted past the budget ceiling")
}

func TestRouterThrottlesWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	backend := &fakeBackend{name: "gpt-4o", content: "ok", tokens: 1, block: block}
	r := NewRouter([]Backend{backend}, testLedger(), Options{
		ModelTimeout:         time.Second,
		OrgConcurrencyCap:    1,
		QueueDepthMultiplier: 1,
	})

	ctx := context.Background()
	// First request holds the only inflight slot
	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Generate(ctx, Request{OrgID: 1, Prompt: "a"})
		firstDone <- err
	}()

	// Second request fills the queue
	secondDone := make(chan error, 1)
	time.Sleep(50 * time.Millisecond)
	go func() {
		_, err := r.Generate(ctx, Request{OrgID: 1, Prompt: "b"})
		secondDone <- err
	}()

	// Third request finds cap and queue exhausted
	time.Sleep(50 * time.Millisecond)
	_, err := r.Generate(ctx, Request{OrgID: 1, Prompt: "c"})
	require.ErrorIs(t, err, reviewerr.ErrThrottled)

	close(block)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
}

func TestRouterIsolatesOrgGates(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	blocked := &fakeBackend{name: "shared", content: "ok", block: block}

	r := NewRouter([]Backend{blocked}, testLedger(), Options{
		ModelTimeout:         time.Second,
		OrgConcurrencyCap:    1,
		QueueDepthMultiplier: 1,
	})

	// Saturate org 1 completely
	for i := 0; i < 2; i++ {
		go r.Generate(context.Background(), Request{OrgID: 1, Prompt: fmt.Sprintf("%d", i)})
	}
	time.Sleep(50 * time.Millisecond)
	_, err := r.Generate(context.Background(), Request{OrgID: 1, Prompt: "x"})
	require.ErrorIs(t, err, reviewerr.ErrThrottled)

	// Org 2 is unaffected, aside from sharing the blocked backend: its gate
	// admits the call, which then waits on the backend until ctx expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Generate(ctx, Request{OrgID: 2, Prompt: "y"})
	assert.NotErrorIs(t, err, reviewerr.ErrThrottled)
}

func TestParseModelOutput(t *testing.T) {
	t.Run("valid structured payload", func(t *testing.T) {
		content, confidence := parseModelOutput(`{"content": "use strict equality", "confidence": 0.9}`)
		assert.Equal(t, "use strict equality", content)
		assert.Equal(t, 0.9, confidence)
	})

	t.Run("fenced payload", func(t *testing.T) {
		content, confidence := parseModelOutput("```json\n{\"content\": \"ok\", \"confidence\": 0.7}\n```")
		assert.Equal(t, "ok", content)
		assert.Equal(t, 0.7, confidence)
	})

	t.Run("repairable payload", func(t *testing.T) {
		content, _ := parseModelOutput(`{"content": "trailing comma",}`)
		assert.Equal(t, "trailing comma", content)
	})

	t.Run("plaintext falls back to heuristic", func(t *testing.T) {
		content, confidence := parseModelOutput("This change is correct and safe to merge.")
		assert.Equal(t, "This change is correct and safe to merge.", content)
		assert.Greater(t, confidence, 0.5)
	})

	t.Run("out-of-range confidence replaced", func(t *testing.T) {
		_, confidence := parseModelOutput(`{"content": "definitely fine", "confidence": 3.5}`)
		assert.LessOrEqual(t, confidence, 1.0)
		assert.GreaterOrEqual(t, confidence, 0.0)
	})
}

func TestHedgeConfidence(t *testing.T) {
	assertive := HedgeConfidence("This is a bug. The loop index is off by one. Fix the bound.")
	hedged := HedgeConfidence("This might be a bug, it seems the index could be off, perhaps check it.")
	assert.Greater(t, assertive, hedged, "hedged text must score lower")
	assert.Equal(t, 0.0, HedgeConfidence(""))
}
