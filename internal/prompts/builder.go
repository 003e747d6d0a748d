package prompts

import (
	"fmt"
	"strings"

	"github.com/semreview/internal/vectorstore"
)

const (
	reviewInstructions = `You are an expert code reviewer. Review the code change below and respond
with a JSON object of the form {"content": "<your review>", "confidence": <0..1>}.
Focus on correctness, security, and maintainability. Be specific and concise.`

	contextHeader = "# Similar Past Reviews\n\nEarlier reviews of related code, for context. Do not repeat them verbatim.\n"
	changeHeader  = "# Code Change\n"
)

// maxContextSnippets caps how many retrieved reviews are folded into the
// prompt; beyond this the marginal context is not worth the token spend.
const maxContextSnippets = 3

// Builder assembles generation prompts from the diff under review and
// near-miss candidates retrieved from the vector store.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// BuildReviewPrompt renders the full prompt for one review request. The
// retrieved candidates are ones that scored below the cache threshold but
// are still topically close enough to ground the model.
func (b *Builder) BuildReviewPrompt(diff, filePath, language string, retrieved []vectorstore.Candidate) string {
	var sb strings.Builder
	sb.WriteString(reviewInstructions)
	sb.WriteString("\n\n")

	if len(retrieved) > 0 {
		sb.WriteString(contextHeader)
		sb.WriteString("\n")
		for i, cand := range retrieved {
			if i >= maxContextSnippets {
				break
			}
			if cand.Message == nil || cand.Message.Content == "" {
				continue
			}
			sb.WriteString(fmt.Sprintf("## Past review %d (similarity %.2f)\n\n", i+1, cand.Score))
			sb.WriteString(cand.Message.Content)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString(changeHeader)
	sb.WriteString("\n")
	if filePath != "" {
		sb.WriteString(fmt.Sprintf("File: %s\n", filePath))
	}
	if language != "" {
		sb.WriteString(fmt.Sprintf("Language: %s\n", language))
	}
	sb.WriteString("\n```diff\n")
	sb.WriteString(strings.TrimRight(diff, "\n"))
	sb.WriteString("\n```\n")

	return sb.String()
}
