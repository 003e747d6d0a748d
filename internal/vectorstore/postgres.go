package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/pkg/models"
)

// PostgresStore persists embeddings in a pgvector column. Idempotency is
// enforced by a unique constraint on (project_id, content_hash).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Upsert(ctx context.Context, emb *models.Embedding) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO embeddings (message_id, project_id, embedding, content_hash, file_path, language, tags, similarity_threshold, usage_count, last_used_at, trust_score)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),$10)
        ON CONFLICT (project_id, content_hash) DO UPDATE SET
            message_id = EXCLUDED.message_id,
            embedding = EXCLUDED.embedding,
            file_path = EXCLUDED.file_path,
            language = EXCLUDED.language,
            tags = EXCLUDED.tags,
            similarity_threshold = EXCLUDED.similarity_threshold,
            trust_score = EXCLUDED.trust_score,
            last_used_at = now()
        RETURNING id
    `,
		emb.MessageID, emb.ProjectID, pgvector.NewVector(emb.Vector), emb.ContentHash,
		emb.Metadata.FilePath, emb.Metadata.Language, pq.Array(ensureSliceNotNil(emb.Metadata.Tags)),
		emb.SimilarityThreshold, emb.UsageCount, emb.TrustScore,
	).Scan(&id)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	emb.ID = id
	return id, nil
}

func (s *PostgresStore) Query(ctx context.Context, vector []float32, filter Filter, threshold float64, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `
        SELECT e.id, e.message_id, e.project_id, e.content_hash, e.file_path, e.language, e.tags,
               e.similarity_threshold, e.usage_count, e.last_used_at, e.trust_score,
               1 - (e.embedding <=> $1) AS score,
               m.id, m.request_id, m.content, m.type, coalesce(m.model,''), m.context,
               m.token_count, m.latency_ms, m.confidence, m.created_at
        FROM embeddings e
        JOIN review_messages m ON m.id = e.message_id
        WHERE e.project_id = $2
          AND 1 - (e.embedding <=> $1) >= $3
    `
	args := []interface{}{pgvector.NewVector(vector), filter.ProjectID, threshold}
	argCount := 3

	if filter.Language != "" {
		argCount++
		query += fmt.Sprintf(" AND e.language = $%d", argCount)
		args = append(args, filter.Language)
	}
	if len(filter.Tags) > 0 {
		argCount++
		query += fmt.Sprintf(" AND e.tags @> $%d", argCount)
		args = append(args, pq.Array(filter.Tags))
	}

	// Band scores before ordering so near-ties fall back to usage and recency
	argCount++
	query += fmt.Sprintf(`
        ORDER BY floor((1 - (e.embedding <=> $1)) / %f) DESC, e.usage_count DESC, e.last_used_at DESC
        LIMIT $%d`, ScoreTieBand, argCount)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	out := make([]Candidate, 0, limit)
	for rows.Next() {
		var c Candidate
		var emb models.Embedding
		var msg models.ReviewMessage
		var tags []string
		var msgType string
		var ctxJSON []byte
		if err := rows.Scan(
			&emb.ID, &emb.MessageID, &emb.ProjectID, &emb.ContentHash,
			&emb.Metadata.FilePath, &emb.Metadata.Language, pq.Array(&tags),
			&emb.SimilarityThreshold, &emb.UsageCount, &emb.LastUsedAt, &emb.TrustScore,
			&c.Score,
			&msg.ID, &msg.RequestID, &msg.Content, &msgType, &msg.Model, &ctxJSON,
			&msg.Metrics.TokenCount, &msg.Metrics.LatencyMs, &msg.Metrics.Confidence,
			&msg.CreatedAt,
		); err != nil {
			return nil, mapStoreErr(err)
		}
		emb.Metadata.Tags = tags
		msg.Type = models.MessageType(msgType)
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &msg.Context); err != nil {
				return nil, err
			}
		}
		c.Embedding = &emb
		c.Message = &msg
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

func (s *PostgresStore) Touch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE embeddings SET usage_count = usage_count + 1, last_used_at = now() WHERE id = $1
    `, id)
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, projectID, contentHash string) (*models.Embedding, bool, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, message_id, project_id, embedding, content_hash, file_path, language, tags,
               similarity_threshold, usage_count, last_used_at, trust_score
        FROM embeddings WHERE project_id = $1 AND content_hash = $2
    `, projectID, contentHash)

	var emb models.Embedding
	var vec pgvector.Vector
	var tags []string
	err := row.Scan(
		&emb.ID, &emb.MessageID, &emb.ProjectID, &vec, &emb.ContentHash,
		&emb.Metadata.FilePath, &emb.Metadata.Language, pq.Array(&tags),
		&emb.SimilarityThreshold, &emb.UsageCount, &emb.LastUsedAt, &emb.TrustScore,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, mapStoreErr(err)
	}
	emb.Vector = vec.Slice()
	emb.Metadata.Tags = tags
	return &emb, true, nil
}

func (s *PostgresStore) AdjustTrust(ctx context.Context, messageID uuid.UUID, delta, floor, ceiling float64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE embeddings
        SET trust_score = greatest($2, least($3, trust_score + $4))
        WHERE message_id = $1
    `, messageID, floor, ceiling, delta)
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// mapStoreErr folds transport-level failures into ErrUnavailable so callers
// can degrade to a cache miss instead of failing the request.
func mapStoreErr(err error) error {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection refused", "connection reset", "bad connection", "no such host", "broken pipe", "eof"} {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %v", reviewerr.ErrUnavailable, err)
		}
	}
	return err
}

func ensureSliceNotNil(slice []string) []string {
	if slice == nil {
		return []string{}
	}
	return slice
}
