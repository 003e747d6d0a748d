package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semreview/pkg/models"
)

func newRequest() *models.ReviewRequest {
	return &models.ReviewRequest{
		ID:          uuid.New(),
		OrgID:       1,
		ProjectID:   "proj-a",
		ProfileID:   "default",
		DiffContent: "+x := 1",
		Language:    "go",
		Status:      models.StatusPending,
	}
}

func TestRequestLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := newRequest()

	require.NoError(t, s.CreateRequest(ctx, req))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateRequestStatus(ctx, req.ID, models.StatusInProgress))
	got, err = s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateRequestStatus(ctx, req.ID, models.StatusCompleted))
	got, err = s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, time.Now(), *got.CompletedAt, time.Second)
}

func TestMarkCacheHit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := newRequest()
	require.NoError(t, s.CreateRequest(ctx, req))

	served := uuid.New()
	require.NoError(t, s.MarkCacheHit(ctx, req.ID, served, 0.93))
	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.CacheHit)
	assert.Equal(t, 0.93, got.SimilarityScore)
	require.NotNil(t, got.ServedMessageID)
	assert.Equal(t, served, *got.ServedMessageID)

	assert.ErrorIs(t, s.MarkCacheHit(ctx, uuid.New(), served, 1.0), ErrNotFound)
}

func TestGetRequestNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetRequest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateRequestStatus(context.Background(), uuid.New(), models.StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesAndFeedback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := newRequest()
	require.NoError(t, s.CreateRequest(ctx, req))

	msg := &models.ReviewMessage{
		ID:        uuid.New(),
		RequestID: req.ID,
		Content:   "use errors.Is here",
		Type:      models.MessageTypeAI,
		Model:     "gpt-4o",
		Metrics:   models.GenerationMetrics{TokenCount: 42, LatencyMs: 120, Confidence: 0.9},
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "use errors.Is here", got.Content)
	assert.Nil(t, got.Feedback)

	require.NoError(t, s.SetFeedback(ctx, msg.ID, &models.MessageFeedback{Accepted: true, Helpful: true}))
	got, err = s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.True(t, got.Feedback.Accepted)

	listed, err := s.ListMessages(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, msg.ID, listed[0].ID)

	other, err := s.ListMessages(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSetFeedbackUnknownMessage(t *testing.T) {
	s := NewMemoryStore()
	err := s.SetFeedback(context.Background(), uuid.New(), &models.MessageFeedback{Accepted: false})
	assert.ErrorIs(t, err, ErrNotFound)
}
