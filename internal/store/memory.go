package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semreview/pkg/models"
)

// MemoryStore is an in-process Store used by tests and keyless development.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*models.ReviewRequest
	messages map[uuid.UUID]*models.ReviewMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[uuid.UUID]*models.ReviewRequest),
		messages: make(map[uuid.UUID]*models.ReviewMessage),
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, req *models.ReviewRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id uuid.UUID) (*models.ReviewRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) UpdateRequestStatus(_ context.Context, id uuid.UUID, status models.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	req.Status = status
	req.UpdatedAt = now
	if status == models.StatusCompleted || status == models.StatusFailed {
		req.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) MarkCacheHit(_ context.Context, id, messageID uuid.UUID, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.CacheHit = true
	req.SimilarityScore = score
	served := messageID
	req.ServedMessageID = &served
	req.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.ReviewMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.CreatedAt = time.Now()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*models.ReviewMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, requestID uuid.UUID) ([]*models.ReviewMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ReviewMessage, 0)
	for _, msg := range s.messages {
		if msg.RequestID == requestID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetFeedback(_ context.Context, messageID uuid.UUID, fb *models.MessageFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	cp := *fb
	msg.Feedback = &cp
	return nil
}
