package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/pkg/models"
)

// MemoryStore is an in-process Store used by tests and single-node
// development. The same mutex-guarded map serves as the compare-and-swap that
// the unique constraint provides in Postgres.
type MemoryStore struct {
	mu          sync.Mutex
	nextID      int64
	byKey       map[string]*models.Embedding // project \x00 hash
	byID        map[int64]*models.Embedding
	lookup      MessageLookup
	unavailable bool
}

func NewMemoryStore(lookup MessageLookup) *MemoryStore {
	return &MemoryStore{
		byKey:  make(map[string]*models.Embedding),
		byID:   make(map[int64]*models.Embedding),
		lookup: lookup,
	}
}

// SetUnavailable makes every operation fail with ErrUnavailable, simulating
// an unreachable store.
func (s *MemoryStore) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *MemoryStore) checkUp() error {
	if s.unavailable {
		return fmt.Errorf("%w: simulated outage", reviewerr.ErrUnavailable)
	}
	return nil
}

func key(projectID, hash string) string { return projectID + "\x00" + hash }

func (s *MemoryStore) Upsert(_ context.Context, emb *models.Embedding) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return 0, err
	}

	k := key(emb.ProjectID, emb.ContentHash)
	if existing, ok := s.byKey[k]; ok {
		// Regeneration over a known hash re-points the row at the new
		// message and resets its trust; usage history stays.
		existing.MessageID = emb.MessageID
		existing.Vector = append([]float32(nil), emb.Vector...)
		existing.Metadata = emb.Metadata
		existing.Metadata.Tags = append([]string(nil), emb.Metadata.Tags...)
		existing.SimilarityThreshold = emb.SimilarityThreshold
		existing.TrustScore = emb.TrustScore
		existing.LastUsedAt = time.Now()
		emb.ID = existing.ID
		return existing.ID, nil
	}

	s.nextID++
	stored := *emb
	stored.ID = s.nextID
	stored.Vector = append([]float32(nil), emb.Vector...)
	stored.Metadata.Tags = append([]string(nil), emb.Metadata.Tags...)
	if stored.LastUsedAt.IsZero() {
		stored.LastUsedAt = time.Now()
	}
	s.byKey[k] = &stored
	s.byID[stored.ID] = &stored
	emb.ID = stored.ID
	return stored.ID, nil
}

func (s *MemoryStore) Query(ctx context.Context, vector []float32, filter Filter, threshold float64, limit int) ([]Candidate, error) {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	type scored struct {
		emb   *models.Embedding
		score float64
	}
	var matched []scored
	for _, emb := range s.byID {
		if emb.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Language != "" && emb.Metadata.Language != filter.Language {
			continue
		}
		if !hasAllTags(emb.Metadata.Tags, filter.Tags) {
			continue
		}
		score := cosineSimilarity(vector, emb.Vector)
		if score >= threshold {
			cp := *emb
			matched = append(matched, scored{emb: &cp, score: score})
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		bi := math.Floor(matched[i].score / ScoreTieBand)
		bj := math.Floor(matched[j].score / ScoreTieBand)
		if bi != bj {
			return bi > bj
		}
		if matched[i].emb.UsageCount != matched[j].emb.UsageCount {
			return matched[i].emb.UsageCount > matched[j].emb.UsageCount
		}
		return matched[i].emb.LastUsedAt.After(matched[j].emb.LastUsedAt)
	})

	if limit <= 0 {
		limit = 5
	}
	if limit > len(matched) {
		limit = len(matched)
	}

	out := make([]Candidate, 0, limit)
	for _, m := range matched[:limit] {
		var msg *models.ReviewMessage
		if s.lookup != nil {
			var err error
			msg, err = s.lookup.GetMessage(ctx, m.emb.MessageID)
			if err != nil {
				continue
			}
		}
		out = append(out, Candidate{Message: msg, Embedding: m.emb, Score: m.score})
	}
	return out, nil
}

func (s *MemoryStore) Touch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return err
	}
	emb, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("embedding %d not found", id)
	}
	emb.UsageCount++
	emb.LastUsedAt = time.Now()
	return nil
}

func (s *MemoryStore) FindByHash(_ context.Context, projectID, contentHash string) (*models.Embedding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return nil, false, err
	}
	emb, ok := s.byKey[key(projectID, contentHash)]
	if !ok {
		return nil, false, nil
	}
	cp := *emb
	cp.Vector = append([]float32(nil), emb.Vector...)
	return &cp, true, nil
}

func (s *MemoryStore) AdjustTrust(_ context.Context, messageID uuid.UUID, delta, floor, ceiling float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return err
	}
	for _, emb := range s.byID {
		if emb.MessageID == messageID {
			emb.TrustScore = math.Max(floor, math.Min(ceiling, emb.TrustScore+delta))
			return nil
		}
	}
	return fmt.Errorf("no embedding for message %s", messageID)
}

// UsageCount reports the stored usage counter for tests.
func (s *MemoryStore) UsageCount(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if emb, ok := s.byID[id]; ok {
		return emb.UsageCount
	}
	return 0
}

// TrustScore reports the stored trust score for tests.
func (s *MemoryStore) TrustScore(messageID uuid.UUID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range s.byID {
		if emb.MessageID == messageID {
			return emb.TrustScore
		}
	}
	return 0
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}
