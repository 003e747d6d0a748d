package generation

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// structuredReview is the JSON payload backends are prompted to return.
type structuredReview struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// parseModelOutput extracts review content and a confidence score from raw
// model output. Models are asked for JSON but do not reliably produce it:
// malformed JSON goes through the repair library, and anything still
// unparseable is treated as plaintext review content with heuristic
// confidence.
func parseModelOutput(raw string) (content string, confidence float64) {
	candidate := stripCodeFences(raw)

	var sr structuredReview
	if err := json.Unmarshal([]byte(candidate), &sr); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &sr) != nil {
			return raw, HedgeConfidence(raw)
		}
	}

	if sr.Content == "" {
		return raw, HedgeConfidence(raw)
	}
	if sr.Confidence != nil && *sr.Confidence >= 0 && *sr.Confidence <= 1 {
		return sr.Content, *sr.Confidence
	}
	return sr.Content, HedgeConfidence(sr.Content)
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
