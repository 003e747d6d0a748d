package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus represents the lifecycle state of a review request
type ReviewStatus string

const (
	StatusPending    ReviewStatus = "pending"
	StatusInProgress ReviewStatus = "in_progress"
	StatusCompleted  ReviewStatus = "completed"
	StatusFailed     ReviewStatus = "failed"
)

// MessageType distinguishes the origin of a review message
type MessageType string

const (
	MessageTypeHuman  MessageType = "human"
	MessageTypeAI     MessageType = "ai"
	MessageTypeSystem MessageType = "system"
)

// ReviewRequest is a single inbound code-review submission. DiffContent is
// immutable once created; Status (and CompletedAt on completion) are the only
// fields mutated afterwards.
type ReviewRequest struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	OrgID       int64        `json:"org_id" db:"org_id"`
	ProjectID   string       `json:"project_id" db:"project_id"`
	ProfileID   string       `json:"profile_id" db:"profile_id"`
	DiffContent string       `json:"diff_content" db:"diff_content"`
	FilePath    string       `json:"file_path,omitempty" db:"file_path"`
	Language    string       `json:"language,omitempty" db:"language"`
	Status      ReviewStatus `json:"status" db:"status"`
	Priority    int          `json:"priority" db:"priority"`
	CacheHit    bool         `json:"cache_hit" db:"cache_hit"`
	// SimilarityScore and ServedMessageID are set on cache hits only.
	// ServedMessageID points at the reviewer message the hit reused, which
	// may belong to an earlier request.
	SimilarityScore float64    `json:"similarity_score,omitempty" db:"similarity_score"`
	ServedMessageID *uuid.UUID `json:"served_message_id,omitempty" db:"served_message_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// MessageContext carries the code location a message refers to
type MessageContext struct {
	FilePath  string `json:"file_path,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
	Language  string `json:"language,omitempty"`
}

// GenerationMetrics captures per-generation accounting
type GenerationMetrics struct {
	TokenCount int     `json:"token_count"`
	LatencyMs  int64   `json:"latency_ms"`
	Confidence float64 `json:"confidence"` // in [0,1]
}

// MessageFeedback holds the terminal accept/reject signal for a message.
// Feedback is the only mutation a message receives after creation.
type MessageFeedback struct {
	Accepted bool   `json:"accepted"`
	Helpful  bool   `json:"helpful"`
	Comment  string `json:"comment,omitempty"`
}

// ReviewMessage is a single generation or retrieval event belonging to a
// ReviewRequest.
type ReviewMessage struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	RequestID uuid.UUID         `json:"request_id" db:"request_id"`
	Content   string            `json:"content" db:"content"`
	Type      MessageType       `json:"type" db:"type"`
	Model     string            `json:"model,omitempty" db:"model"`
	Context   MessageContext    `json:"context"`
	Metrics   GenerationMetrics `json:"metrics"`
	Feedback  *MessageFeedback  `json:"feedback,omitempty"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// EmbeddingMetadata is the filterable metadata stored beside a vector
type EmbeddingMetadata struct {
	FilePath string   `json:"file_path,omitempty"`
	Language string   `json:"language,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// DefaultTrustScore is the trust weight assigned to a new embedding before
// any feedback has been observed.
const DefaultTrustScore = 1.0

// Embedding is the stored vector for a ReviewMessage (1:1). ContentHash is
// the dedupe key over normalized text and is unique per project partition.
type Embedding struct {
	ID                  int64             `json:"id" db:"id"`
	MessageID           uuid.UUID         `json:"message_id" db:"message_id"`
	ProjectID           string            `json:"project_id" db:"project_id"`
	Vector              []float32         `json:"-" db:"embedding"`
	ContentHash         string            `json:"content_hash" db:"content_hash"`
	Metadata            EmbeddingMetadata `json:"metadata"`
	SimilarityThreshold float64           `json:"similarity_threshold" db:"similarity_threshold"`
	UsageCount          int64             `json:"usage_count" db:"usage_count"`
	LastUsedAt          time.Time         `json:"last_used_at" db:"last_used_at"`
	TrustScore          float64           `json:"trust_score" db:"trust_score"`
}

// UsageBudget holds per-organization spend and inflight counters. Mutated
// atomically by the ledger before/after each paid call.
type UsageBudget struct {
	OrgID           int64     `json:"org_id" db:"org_id"`
	DailyTokens     int64     `json:"daily_tokens" db:"daily_tokens"`
	MonthlyTokens   int64     `json:"monthly_tokens" db:"monthly_tokens"`
	DailySpentUSD   float64   `json:"daily_spent_usd" db:"daily_spent_usd"`
	MonthlySpentUSD float64   `json:"monthly_spent_usd" db:"monthly_spent_usd"`
	InflightCalls   int64     `json:"inflight_calls" db:"inflight_calls"`
	Day             string    `json:"day" db:"day"`     // YYYY-MM-DD
	Month           string    `json:"month" db:"month"` // YYYY-MM
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
