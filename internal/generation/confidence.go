package generation

import "strings"

// hedgeWords are phrases that signal the model is unsure of its answer.
var hedgeWords = []string{
	"might", "may", "maybe", "possibly", "perhaps", "unclear", "uncertain",
	"unsure", "seems", "appears", "likely", "probably", "could be",
	"not sure", "i think", "i believe", "hard to say",
}

// hedgeDensityWeight scales how quickly hedge density erodes confidence; at
// this weight a hedge every tenth word drives confidence to zero.
const hedgeDensityWeight = 10.0

// HedgeConfidence estimates a confidence score in [0,1] from the density of
// hedge words in the content: normalized inverse hedge-word density. Used
// when the model does not report its own confidence. The heuristic is
// deliberately simple and substitutable.
func HedgeConfidence(content string) float64 {
	lower := strings.ToLower(content)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}

	hedges := 0
	for _, h := range hedgeWords {
		hedges += strings.Count(lower, h)
	}

	density := float64(hedges) / float64(len(words))
	confidence := 1.0 - density*hedgeDensityWeight
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
