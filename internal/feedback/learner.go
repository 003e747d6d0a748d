// Package feedback folds accept/reject signals back into embedding trust
// scores. Application is asynchronous and best-effort: a failed adjustment
// is logged and dropped, never surfaced to the submitter.
package feedback

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/semreview/internal/logging"
	"github.com/semreview/internal/vectorstore"
)

const (
	// AcceptDelta and RejectDelta are asymmetric so a single rejection
	// outweighs a single acceptance.
	AcceptDelta = 0.05
	RejectDelta = -0.10

	TrustFloor   = 0.1
	TrustCeiling = 2.0
)

var log = logging.Component("feedback")

// Event is one feedback signal awaiting application.
type Event struct {
	MessageID uuid.UUID
	Accepted  bool
}

// Learner applies feedback events to the vector store on a background
// worker. Enqueue never blocks the caller: when the buffer is full the
// event is dropped.
type Learner struct {
	store  vectorstore.Store
	events chan Event
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewLearner(store vectorstore.Store, buffer int) *Learner {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Learner{
		store:  store,
		events: make(chan Event, buffer),
		cancel: cancel,
	}
	l.wg.Add(1)
	go l.run(ctx)
	return l
}

// Enqueue submits a feedback event for asynchronous application.
func (l *Learner) Enqueue(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Warn().Str("message_id", ev.MessageID.String()).
			Msg("feedback buffer full, dropping event")
	}
}

// Close drains pending events and stops the worker.
func (l *Learner) Close() {
	close(l.events)
	l.wg.Wait()
	l.cancel()
}

func (l *Learner) run(ctx context.Context) {
	defer l.wg.Done()
	for ev := range l.events {
		l.apply(ctx, ev)
	}
}

func (l *Learner) apply(ctx context.Context, ev Event) {
	delta := AcceptDelta
	if !ev.Accepted {
		delta = RejectDelta
	}
	err := l.store.AdjustTrust(ctx, ev.MessageID, delta, TrustFloor, TrustCeiling)
	if err != nil {
		log.Warn().Err(err).Str("message_id", ev.MessageID.String()).
			Msg("trust adjustment failed, dropping feedback event")
		return
	}
	log.Debug().Str("message_id", ev.MessageID.String()).Bool("accepted", ev.Accepted).
		Float64("delta", delta).Msg("trust score adjusted")
}
