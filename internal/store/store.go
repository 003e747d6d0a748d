// Package store persists review requests and their messages. The vector
// side of a cached review lives in vectorstore; this package owns the
// relational records the API reads back.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/semreview/pkg/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for review requests and messages.
type Store interface {
	CreateRequest(ctx context.Context, req *models.ReviewRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.ReviewRequest, error)
	// UpdateRequestStatus moves a request through its lifecycle; terminal
	// states also stamp completed_at.
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.ReviewStatus) error
	// MarkCacheHit flags a request as served from cache, recording the
	// reused message and the candidate's similarity score.
	MarkCacheHit(ctx context.Context, id, messageID uuid.UUID, score float64) error

	CreateMessage(ctx context.Context, msg *models.ReviewMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.ReviewMessage, error)
	ListMessages(ctx context.Context, requestID uuid.UUID) ([]*models.ReviewMessage, error)
	// SetFeedback records the terminal accept/reject signal on a message.
	// Feedback is write-once; a second call overwrites the first.
	SetFeedback(ctx context.Context, messageID uuid.UUID, fb *models.MessageFeedback) error
}
