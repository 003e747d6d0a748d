// Package vectorstore persists embeddings with metadata and serves
// threshold-filtered k-NN queries over cosine similarity. The store is shared
// mutable state across all concurrent pipeline instances and provides its own
// atomicity: upserts are idempotent on (project, content_hash).
package vectorstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/semreview/pkg/models"
)

// ScoreTieBand is the similarity band within which two candidates are
// considered tied; ties are broken by usage_count, then last_used_at.
const ScoreTieBand = 0.001

// Candidate is one ranked query result: the cached message, its stored
// embedding, and the cosine similarity score in [-1,1].
type Candidate struct {
	Message   *models.ReviewMessage
	Embedding *models.Embedding
	Score     float64
}

// Filter restricts a query to a project partition and optional metadata.
type Filter struct {
	ProjectID string
	Language  string
	Tags      []string
}

// MessageLookup resolves the message a stored embedding belongs to.
type MessageLookup interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*models.ReviewMessage, error)
}

// Store is the pluggable vector persistence interface.
type Store interface {
	// Upsert stores the embedding, deduplicating on (project, content_hash).
	// Concurrent upserts of the same hash never create duplicates; the
	// winning row's id is returned either way.
	Upsert(ctx context.Context, emb *models.Embedding) (int64, error)

	// Query returns candidates with score >= threshold, ordered by
	// descending score; scores within ScoreTieBand are ordered by higher
	// usage_count, then most recent last_used_at.
	Query(ctx context.Context, vector []float32, filter Filter, threshold float64, limit int) ([]Candidate, error)

	// Touch increments usage_count and refreshes last_used_at. Called on
	// every served hit.
	Touch(ctx context.Context, id int64) error

	// FindByHash returns the stored embedding for a content hash, enabling
	// cost-free dedupe of the embedding call.
	FindByHash(ctx context.Context, projectID, contentHash string) (*models.Embedding, bool, error)

	// AdjustTrust shifts the trust score of the embedding owned by the given
	// message by delta, clamped to [floor, ceiling].
	AdjustTrust(ctx context.Context, messageID uuid.UUID, delta, floor, ceiling float64) error
}
