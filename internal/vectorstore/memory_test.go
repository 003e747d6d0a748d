package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/pkg/models"
)

func newEmbedding(project, hash string, vec []float32) *models.Embedding {
	return &models.Embedding{
		MessageID:           uuid.New(),
		ProjectID:           project,
		Vector:              vec,
		ContentHash:         hash,
		Metadata:            models.EmbeddingMetadata{Language: "javascript"},
		SimilarityThreshold: 0.85,
		UsageCount:          1,
		TrustScore:          models.DefaultTrustScore,
	}
}

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	e1 := newEmbedding("proj", "hash-a", []float32{1, 0, 0})
	id1, err := s.Upsert(ctx, e1)
	require.NoError(t, err)

	e2 := newEmbedding("proj", "hash-a", []float32{1, 0, 0})
	id2, err := s.Upsert(ctx, e2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same (project, hash) must reuse the row")

	e3 := newEmbedding("other-proj", "hash-a", []float32{1, 0, 0})
	id3, err := s.Upsert(ctx, e3)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3, "hash uniqueness is per project partition")
}

func TestMemoryStoreUpsertRepointsMessage(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	old := newEmbedding("proj", "hash-a", []float32{1, 0, 0})
	id, err := s.Upsert(ctx, old)
	require.NoError(t, err)
	require.NoError(t, s.AdjustTrust(ctx, old.MessageID, -0.5, 0.1, 2.0))

	replacement := newEmbedding("proj", "hash-a", []float32{1, 0, 0})
	id2, err := s.Upsert(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, id, id2, "the row survives, only its owner changes")

	got, ok, err := s.FindByHash(ctx, "proj", "hash-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, replacement.MessageID, got.MessageID)
	assert.Equal(t, models.DefaultTrustScore, got.TrustScore, "replacing the message resets trust")

	// Feedback on the replacement lands on the row
	require.NoError(t, s.AdjustTrust(ctx, replacement.MessageID, 0.05, 0.1, 2.0))
	assert.InDelta(t, models.DefaultTrustScore+0.05, s.TrustScore(replacement.MessageID), 1e-9)
}

func TestMemoryStoreConcurrentUpserts(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	const n = 32
	type outcome struct {
		id  int64
		err error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := s.Upsert(ctx, newEmbedding("proj", "same-hash", []float32{0, 1, 0}))
			results <- outcome{id: id, err: err}
		}()
	}

	var first int64
	for i := 0; i < n; i++ {
		got := <-results
		require.NoError(t, got.err)
		if i == 0 {
			first = got.id
			continue
		}
		assert.Equal(t, first, got.id, "concurrent upserts of one hash must not create duplicates")
	}
}

func TestMemoryStoreQueryThresholdAndOrder(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	exact := newEmbedding("proj", "h1", []float32{1, 0, 0})
	_, err := s.Upsert(ctx, exact)
	require.NoError(t, err)

	near := newEmbedding("proj", "h2", []float32{0.9, 0.1, 0})
	_, err = s.Upsert(ctx, near)
	require.NoError(t, err)

	orthogonal := newEmbedding("proj", "h3", []float32{0, 0, 1})
	_, err = s.Upsert(ctx, orthogonal)
	require.NoError(t, err)

	got, err := s.Query(ctx, []float32{1, 0, 0}, Filter{ProjectID: "proj"}, 0.85, 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "orthogonal vector is below threshold")
	assert.Equal(t, "h1", got[0].Embedding.ContentHash)
	assert.Equal(t, "h2", got[1].Embedding.ContentHash)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestMemoryStoreQueryTieBreaks(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	// Two identical vectors: scores tie exactly, usage_count decides
	cold := newEmbedding("proj", "cold", []float32{1, 0, 0})
	cold.UsageCount = 1
	cold.LastUsedAt = time.Now().Add(-time.Hour)
	_, err := s.Upsert(ctx, cold)
	require.NoError(t, err)

	hot := newEmbedding("proj", "hot", []float32{1, 0, 0})
	hot.UsageCount = 10
	hot.LastUsedAt = time.Now().Add(-2 * time.Hour)
	_, err = s.Upsert(ctx, hot)
	require.NoError(t, err)

	got, err := s.Query(ctx, []float32{1, 0, 0}, Filter{ProjectID: "proj"}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hot", got[0].Embedding.ContentHash, "higher usage_count wins a tie")

	t.Run("recency breaks equal usage", func(t *testing.T) {
		s2 := NewMemoryStore(nil)
		older := newEmbedding("proj", "older", []float32{1, 0, 0})
		older.UsageCount = 5
		older.LastUsedAt = time.Now().Add(-time.Hour)
		_, err := s2.Upsert(ctx, older)
		require.NoError(t, err)

		newer := newEmbedding("proj", "newer", []float32{1, 0, 0})
		newer.UsageCount = 5
		newer.LastUsedAt = time.Now()
		_, err = s2.Upsert(ctx, newer)
		require.NoError(t, err)

		got, err := s2.Query(ctx, []float32{1, 0, 0}, Filter{ProjectID: "proj"}, 0.5, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "newer", got[0].Embedding.ContentHash)
	})
}

func TestMemoryStoreLanguageFilter(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	js := newEmbedding("proj", "js", []float32{1, 0, 0})
	js.Metadata.Language = "javascript"
	_, err := s.Upsert(ctx, js)
	require.NoError(t, err)

	py := newEmbedding("proj", "py", []float32{1, 0, 0})
	py.Metadata.Language = "python"
	_, err = s.Upsert(ctx, py)
	require.NoError(t, err)

	got, err := s.Query(ctx, []float32{1, 0, 0}, Filter{ProjectID: "proj", Language: "python"}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "py", got[0].Embedding.ContentHash)
}

func TestMemoryStoreTouch(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	emb := newEmbedding("proj", "h", []float32{1, 0, 0})
	id, err := s.Upsert(ctx, emb)
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, id))
	assert.Equal(t, int64(2), s.UsageCount(id))
}

func TestMemoryStoreAdjustTrustClamps(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	emb := newEmbedding("proj", "h", []float32{1, 0, 0})
	_, err := s.Upsert(ctx, emb)
	require.NoError(t, err)

	require.NoError(t, s.AdjustTrust(ctx, emb.MessageID, 5.0, 0.1, 2.0))
	assert.Equal(t, 2.0, s.TrustScore(emb.MessageID), "trust is capped at the ceiling")

	require.NoError(t, s.AdjustTrust(ctx, emb.MessageID, -5.0, 0.1, 2.0))
	assert.Equal(t, 0.1, s.TrustScore(emb.MessageID), "trust never drops below the floor")
}

func TestMemoryStoreUnavailable(t *testing.T) {
	s := NewMemoryStore(nil)
	s.SetUnavailable(true)

	_, err := s.Query(context.Background(), []float32{1}, Filter{ProjectID: "proj"}, 0.5, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reviewerr.ErrUnavailable))
}
