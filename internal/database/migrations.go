package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion tracks the database schema version
const CurrentSchemaVersion = "1.0.0"

// schemaV1 is idempotent so startup can apply it unconditionally. The
// embedding column dimension is fixed at creation; changing the embedding
// model requires a manual migration.
const schemaV1 = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_requests (
    id UUID PRIMARY KEY,
    org_id BIGINT NOT NULL,
    project_id TEXT NOT NULL,
    profile_id TEXT NOT NULL DEFAULT '',
    diff_content TEXT NOT NULL,
    file_path TEXT,
    language TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    priority INT NOT NULL DEFAULT 0,
    cache_hit BOOLEAN NOT NULL DEFAULT false,
    similarity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    served_message_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_review_requests_org ON review_requests(org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_review_requests_project ON review_requests(project_id);

CREATE TABLE IF NOT EXISTS review_messages (
    id UUID PRIMARY KEY,
    request_id UUID NOT NULL REFERENCES review_requests(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    type TEXT NOT NULL,
    model TEXT,
    context JSONB,
    token_count INT NOT NULL DEFAULT 0,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    feedback JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_review_messages_request ON review_messages(request_id, created_at);

CREATE TABLE IF NOT EXISTS embeddings (
    id BIGSERIAL PRIMARY KEY,
    message_id UUID NOT NULL REFERENCES review_messages(id) ON DELETE CASCADE,
    project_id TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    content_hash TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    tags TEXT[] NOT NULL DEFAULT '{}',
    similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.85,
    usage_count BIGINT NOT NULL DEFAULT 0,
    last_used_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    trust_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    UNIQUE (project_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_project ON embeddings(project_id);

CREATE TABLE IF NOT EXISTS usage_budgets (
    org_id BIGINT PRIMARY KEY,
    daily_tokens BIGINT NOT NULL DEFAULT 0,
    monthly_tokens BIGINT NOT NULL DEFAULT 0,
    daily_spent_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    monthly_spent_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    inflight_calls BIGINT NOT NULL DEFAULT 0,
    day TEXT NOT NULL DEFAULT '',
    month TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. embeddingDimension fixes the vector column
// width and must match the configured embedding provider.
func Migrate(ctx context.Context, db *sql.DB, embeddingDimension int) error {
	if embeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", embeddingDimension)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(schemaV1, embeddingDimension)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`,
		CurrentSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
