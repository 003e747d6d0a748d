package generation

import (
	"context"
	"sync"

	"github.com/semreview/internal/reviewerr"
)

// admissionGate bounds inflight generation calls per organization. Excess
// requests queue up to a bounded depth and are rejected with Throttled once
// the queue is full: rejecting fast bounds tail latency instead of letting
// an unbounded queue absorb load.
type admissionGate struct {
	mu         sync.Mutex
	orgs       map[int64]*orgGate
	cap        int
	queueDepth int
}

type orgGate struct {
	slots      chan struct{}
	mu         sync.Mutex
	waiting    int
	maxWaiting int
}

func newAdmissionGate(cap, queueDepthMultiplier int) *admissionGate {
	return &admissionGate{
		orgs:       make(map[int64]*orgGate),
		cap:        cap,
		queueDepth: cap * queueDepthMultiplier,
	}
}

func (g *admissionGate) forOrg(orgID int64) *orgGate {
	g.mu.Lock()
	defer g.mu.Unlock()
	og, ok := g.orgs[orgID]
	if !ok {
		og = &orgGate{
			slots:      make(chan struct{}, g.cap),
			maxWaiting: g.queueDepth,
		}
		g.orgs[orgID] = og
	}
	return og
}

// acquire claims an inflight slot or queues for one. Returns ErrThrottled
// when the queue is at depth, or the context error if the caller's deadline
// expires while queued.
func (g *orgGate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	default:
	}

	g.mu.Lock()
	if g.waiting >= g.maxWaiting {
		g.mu.Unlock()
		return reviewerr.ErrThrottled
	}
	g.waiting++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *orgGate) release() {
	<-g.slots
}
