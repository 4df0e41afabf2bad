package reasoning

import (
	"strings"
	"testing"

	"decisiondesk-backend/models"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptLayout(t *testing.T) {
	in := newInput(bobInsight, "Which employees exceeded limits?", literal("Leave Policy: max 10 days/year"))

	p := BuildPrompt(in, 0)

	for _, want := range []string{
		"QUESTION:\nWhich employees exceeded limits?",
		"COMPUTED_INSIGHTS (structured):",
		"leave_days_avg = 8.5",
		"Policy 1 [literal, relevance 0.50]:\nLeave Policy: max 10 days/year",
		"ASSESSED_CONFIDENCE:\nConfidence: moderate",
		"SUMMARY OF FINDINGS:",
		"POLICY ALIGNMENT:",
		"RECOMMENDED ACTIONS:",
		"LIMITATIONS / CONFIDENCE:",
	} {
		assert.Contains(t, p, want)
	}
}

func TestBuildPromptTruncatesPolicies(t *testing.T) {
	long := strings.Repeat("a", 60)
	in := newInput("", "", []models.PolicyEvidence{
		{Text: long, Source: models.PolicyLiteral},
		{Text: long, Source: models.PolicyLiteral},
		{Text: long, Source: models.PolicyLiteral},
	})

	p := BuildPrompt(in, 100)

	assert.Contains(t, p, "[policy text truncated at 100 characters]")
	assert.Contains(t, p, "[1 further policy omitted")
	assert.NotContains(t, p, "Policy 3 [")
}

func TestBuildPromptWithoutInputs(t *testing.T) {
	p := BuildPrompt(newInput("", "", nil), 0)

	assert.Contains(t, p, "(no question provided)")
	assert.Contains(t, p, "COMPUTED_INSIGHTS (raw):\n(none provided)")
	assert.Contains(t, p, "(no policy documents were provided or retrieved)")
}
