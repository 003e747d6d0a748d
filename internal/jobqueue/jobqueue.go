// Package jobqueue provides River-backed durable jobs for work the request
// path treats as best-effort: applying feedback to trust scores and
// retrying embedding persistence after a transient store failure.
//
// Tunable parameters live in queue_config.go.
package jobqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/semreview/internal/feedback"
	"github.com/semreview/internal/logging"
	"github.com/semreview/internal/vectorstore"
	"github.com/semreview/pkg/models"
)

var log = logging.Component("jobqueue")

// FeedbackApplyArgs carries one accept/reject signal to the trust updater.
type FeedbackApplyArgs struct {
	MessageID uuid.UUID `json:"message_id"`
	Accepted  bool      `json:"accepted"`
}

func (FeedbackApplyArgs) Kind() string { return "feedback_apply" }

// FeedbackApplyWorker shifts the trust score of the embedding behind a
// reviewed message.
type FeedbackApplyWorker struct {
	river.WorkerDefaults[FeedbackApplyArgs]
	vectors vectorstore.Store
}

func (w *FeedbackApplyWorker) Work(ctx context.Context, job *river.Job[FeedbackApplyArgs]) error {
	delta := feedback.AcceptDelta
	if !job.Args.Accepted {
		delta = feedback.RejectDelta
	}
	err := w.vectors.AdjustTrust(ctx, job.Args.MessageID, delta, feedback.TrustFloor, feedback.TrustCeiling)
	if err != nil {
		return fmt.Errorf("adjust trust for message %s: %w", job.Args.MessageID, err)
	}
	log.Debug().Str("message_id", job.Args.MessageID.String()).
		Bool("accepted", job.Args.Accepted).Msg("trust adjusted from durable queue")
	return nil
}

// EmbeddingStoreArgs retries persisting a vector that failed to store on
// the request path.
type EmbeddingStoreArgs struct {
	MessageID   uuid.UUID                `json:"message_id"`
	ProjectID   string                   `json:"project_id"`
	Vector      []float32                `json:"vector"`
	ContentHash string                   `json:"content_hash"`
	Metadata    models.EmbeddingMetadata `json:"metadata"`
	Threshold   float64                  `json:"threshold"`
}

func (EmbeddingStoreArgs) Kind() string { return "embedding_store" }

type EmbeddingStoreWorker struct {
	river.WorkerDefaults[EmbeddingStoreArgs]
	vectors vectorstore.Store
}

func (w *EmbeddingStoreWorker) Work(ctx context.Context, job *river.Job[EmbeddingStoreArgs]) error {
	_, err := w.vectors.Upsert(ctx, &models.Embedding{
		MessageID:           job.Args.MessageID,
		ProjectID:           job.Args.ProjectID,
		Vector:              job.Args.Vector,
		ContentHash:         job.Args.ContentHash,
		Metadata:            job.Args.Metadata,
		SimilarityThreshold: job.Args.Threshold,
		UsageCount:          1,
		TrustScore:          models.DefaultTrustScore,
	})
	if err != nil {
		return fmt.Errorf("store embedding for message %s: %w", job.Args.MessageID, err)
	}
	return nil
}

// JobQueue manages the River client and its workers.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue wires the workers onto an existing pgx pool.
func NewJobQueue(pool *pgxpool.Pool, vectors vectorstore.Store) (*JobQueue, error) {
	config := DefaultQueueConfig()

	workers := river.NewWorkers()
	river.AddWorker(workers, &FeedbackApplyWorker{vectors: vectors})
	river.AddWorker(workers, &EmbeddingStoreWorker{vectors: vectors})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, config: config}, nil
}

func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// QueueFeedbackApply enqueues a durable trust adjustment.
func (jq *JobQueue) QueueFeedbackApply(ctx context.Context, messageID uuid.UUID, accepted bool) error {
	_, err := jq.client.Insert(ctx, FeedbackApplyArgs{MessageID: messageID, Accepted: accepted}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue feedback apply job: %w", err)
	}
	return nil
}

// QueueEmbeddingStore enqueues a durable retry of embedding persistence.
func (jq *JobQueue) QueueEmbeddingStore(ctx context.Context, emb *models.Embedding) error {
	_, err := jq.client.Insert(ctx, EmbeddingStoreArgs{
		MessageID:   emb.MessageID,
		ProjectID:   emb.ProjectID,
		Vector:      emb.Vector,
		ContentHash: emb.ContentHash,
		Metadata:    emb.Metadata,
		Threshold:   emb.SimilarityThreshold,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue embedding store job: %w", err)
	}
	return nil
}
