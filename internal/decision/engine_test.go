package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/semreview/internal/vectorstore"
	"github.com/semreview/pkg/models"
)

func candidate(score, trust float64, language, filePath string) vectorstore.Candidate {
	return vectorstore.Candidate{
		Embedding: &models.Embedding{
			TrustScore: trust,
			Metadata:   models.EmbeddingMetadata{Language: language, FilePath: filePath},
		},
		Message: &models.ReviewMessage{},
		Score:   score,
	}
}

func TestDecide(t *testing.T) {
	engine := NewEngine()
	policy := Policy{Threshold: 0.85, Language: "javascript"}

	tests := []struct {
		name       string
		candidates []vectorstore.Candidate
		policy     Policy
		wantHit    bool
	}{
		{
			name:       "no candidates is a miss",
			candidates: nil,
			policy:     policy,
			wantHit:    false,
		},
		{
			name:       "score above threshold hits",
			candidates: []vectorstore.Candidate{candidate(0.9, 1.0, "javascript", "")},
			policy:     policy,
			wantHit:    true,
		},
		{
			name:       "score below threshold misses",
			candidates: []vectorstore.Candidate{candidate(0.8, 1.0, "javascript", "")},
			policy:     policy,
			wantHit:    false,
		},
		{
			name:       "low trust drags a passing score under",
			candidates: []vectorstore.Candidate{candidate(0.9, 0.5, "javascript", "")},
			policy:     policy,
			wantHit:    false,
		},
		{
			name:       "high trust lifts a borderline score over",
			candidates: []vectorstore.Candidate{candidate(0.8, 1.2, "javascript", "")},
			policy:     policy,
			wantHit:    true,
		},
		{
			name:       "language mismatch is a miss regardless of score",
			candidates: []vectorstore.Candidate{candidate(1.0, 1.0, "python", "")},
			policy:     policy,
			wantHit:    false,
		},
		{
			name:       "path namespace mismatch is a miss",
			candidates: []vectorstore.Candidate{candidate(1.0, 1.0, "javascript", "lib/util.js")},
			policy:     Policy{Threshold: 0.85, Language: "javascript", PathNamespace: "src/"},
			wantHit:    false,
		},
		{
			name:       "path namespace prefix match hits",
			candidates: []vectorstore.Candidate{candidate(1.0, 1.0, "javascript", "src/util.js")},
			policy:     Policy{Threshold: 0.85, Language: "javascript", PathNamespace: "src/"},
			wantHit:    true,
		},
		{
			name: "only the top candidate counts",
			candidates: []vectorstore.Candidate{
				candidate(0.86, 0.5, "javascript", ""), // top, fails on trust
				candidate(0.85, 1.5, "javascript", ""), // would pass but is not top
			},
			policy:  policy,
			wantHit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Decide(tt.candidates, tt.policy)
			assert.Equal(t, tt.wantHit, got.Hit)
			if tt.wantHit {
				assert.NotNil(t, got.Candidate)
				assert.GreaterOrEqual(t, got.WeightedScore, tt.policy.Threshold)
			}
		})
	}
}

func TestDecideExactMatchScores(t *testing.T) {
	engine := NewEngine()
	got := engine.Decide(
		[]vectorstore.Candidate{candidate(1.0, 1.0, "javascript", "")},
		Policy{Threshold: 0.85, Language: "javascript"},
	)
	assert.True(t, got.Hit)
	assert.Equal(t, 1.0, got.Score)
	assert.Equal(t, 1.0, got.WeightedScore)
}
