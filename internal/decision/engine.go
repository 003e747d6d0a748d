// Package decision implements the cache hit/miss policy. It is pure: no
// I/O, no clocks, no state beyond its inputs.
package decision

import (
	"strings"

	"github.com/semreview/internal/vectorstore"
)

// Policy parameterizes a single decision.
type Policy struct {
	// Threshold is the minimum trust-weighted similarity for a hit.
	Threshold float64
	// Language must match the candidate exactly; no cross-language credit.
	Language string
	// PathNamespace, when set, requires the candidate's file path to live
	// under this prefix.
	PathNamespace string
}

// Decision is the outcome of evaluating ranked candidates.
type Decision struct {
	Hit       bool
	Candidate *vectorstore.Candidate
	// Score is the raw cosine similarity of the accepted candidate.
	Score float64
	// WeightedScore is Score multiplied by the candidate's trust score,
	// the value actually compared against the threshold.
	WeightedScore float64
}

// Engine decides whether ranked candidates contain an acceptable hit.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Decide accepts the top candidate only: a lower-ranked candidate passing
// where the best failed would mean serving a less similar review.
func (e *Engine) Decide(candidates []vectorstore.Candidate, policy Policy) Decision {
	if len(candidates) == 0 {
		return Decision{}
	}

	top := candidates[0]
	weighted := top.Score * top.Embedding.TrustScore
	if weighted < policy.Threshold {
		return Decision{}
	}
	if policy.Language != "" && top.Embedding.Metadata.Language != policy.Language {
		return Decision{}
	}
	if policy.PathNamespace != "" && !strings.HasPrefix(top.Embedding.Metadata.FilePath, policy.PathNamespace) {
		return Decision{}
	}

	return Decision{
		Hit:           true,
		Candidate:     &top,
		Score:         top.Score,
		WeightedScore: weighted,
	}
}
