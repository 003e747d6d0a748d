package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/semreview/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.ReviewRequest) error {
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO review_requests (id, org_id, project_id, profile_id, diff_content, file_path, language, status, priority, cache_hit)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at, updated_at
    `, req.ID, req.OrgID, req.ProjectID, req.ProfileID, req.DiffContent, req.FilePath, req.Language, string(req.Status), req.Priority, req.CacheHit,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return err
	}
	req.CreatedAt = createdAt
	req.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.ReviewRequest, error) {
	req := &models.ReviewRequest{}
	var status string
	var served uuid.NullUUID
	err := s.db.QueryRowContext(ctx, `
        SELECT id, org_id, project_id, profile_id, diff_content, coalesce(file_path,''), coalesce(language,''), status, priority, cache_hit, similarity_score, served_message_id, created_at, updated_at, completed_at
        FROM review_requests WHERE id=$1
    `, id).Scan(
		&req.ID, &req.OrgID, &req.ProjectID, &req.ProfileID, &req.DiffContent,
		&req.FilePath, &req.Language, &status, &req.Priority, &req.CacheHit,
		&req.SimilarityScore, &served, &req.CreatedAt, &req.UpdatedAt, &req.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	req.Status = models.ReviewStatus(status)
	if served.Valid {
		req.ServedMessageID = &served.UUID
	}
	return req, nil
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.ReviewStatus) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE review_requests
        SET status=$1, updated_at=now(),
            completed_at = CASE WHEN $1 IN ('completed','failed') THEN now() ELSE completed_at END
        WHERE id=$2
    `, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkCacheHit(ctx context.Context, id, messageID uuid.UUID, score float64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE review_requests SET cache_hit=true, similarity_score=$1, served_message_id=$2, updated_at=now() WHERE id=$3
    `, score, messageID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.ReviewMessage) error {
	ctxJSON, err := json.Marshal(msg.Context)
	if err != nil {
		return err
	}
	var fbJSON []byte
	if msg.Feedback != nil {
		fbJSON, err = json.Marshal(msg.Feedback)
		if err != nil {
			return err
		}
	}
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO review_messages (id, request_id, content, type, model, context, token_count, latency_ms, confidence, feedback)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at
    `, msg.ID, msg.RequestID, msg.Content, string(msg.Type), msg.Model, ctxJSON,
		msg.Metrics.TokenCount, msg.Metrics.LatencyMs, msg.Metrics.Confidence, fbJSON,
	).Scan(&createdAt)
	if err != nil {
		return err
	}
	msg.CreatedAt = createdAt
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.ReviewMessage, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, request_id, content, type, coalesce(model,''), context, token_count, latency_ms, confidence, feedback, created_at
        FROM review_messages WHERE id=$1
    `, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *PostgresStore) ListMessages(ctx context.Context, requestID uuid.UUID) ([]*models.ReviewMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, content, type, coalesce(model,''), context, token_count, latency_ms, confidence, feedback, created_at
        FROM review_messages WHERE request_id=$1 ORDER BY created_at ASC
    `, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.ReviewMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetFeedback(ctx context.Context, messageID uuid.UUID, fb *models.MessageFeedback) error {
	fbJSON, err := json.Marshal(fb)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE review_messages SET feedback=$1 WHERE id=$2`, fbJSON, messageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.ReviewMessage, error) {
	msg := &models.ReviewMessage{}
	var msgType string
	var ctxJSON, fbJSON []byte
	err := row.Scan(
		&msg.ID, &msg.RequestID, &msg.Content, &msgType, &msg.Model, &ctxJSON,
		&msg.Metrics.TokenCount, &msg.Metrics.LatencyMs, &msg.Metrics.Confidence,
		&fbJSON, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(msgType)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &msg.Context); err != nil {
			return nil, err
		}
	}
	if len(fbJSON) > 0 {
		fb := &models.MessageFeedback{}
		if err := json.Unmarshal(fbJSON, fb); err != nil {
			return nil, err
		}
		msg.Feedback = fb
	}
	return msg, nil
}
