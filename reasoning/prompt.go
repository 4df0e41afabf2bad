package reasoning

import (
	"fmt"
	"strings"

	"decisiondesk-backend/models"
)

// DefaultMaxPolicyChars caps the policy text placed into a prompt
const DefaultMaxPolicyChars = 8000

// Input is everything the engine reasons over for one request
type Input struct {
	Question   string
	Insight    models.InsightRecord
	Policies   []models.PolicyEvidence
	Assessment models.ConfidenceAssessment
}

// policyLabel returns the label a policy is cited by in prompts and reports
func policyLabel(p models.PolicyEvidence, i int) string {
	if p.Label != "" {
		return p.Label
	}
	return fmt.Sprintf("Policy %d", i+1)
}

// BuildPrompt renders the fixed-shape instruction sent to a generative
// backend. Policy text beyond maxPolicyChars is cut with a notice.
func BuildPrompt(in Input, maxPolicyChars int) string {
	if maxPolicyChars <= 0 {
		maxPolicyChars = DefaultMaxPolicyChars
	}

	var b strings.Builder
	b.WriteString("DECISION SUPPORT REQUEST\n")
	b.WriteString("Answer only from the material below. If the material does not support a statement, say so.\n\n")

	b.WriteString("QUESTION:\n")
	if q := strings.TrimSpace(in.Question); q != "" {
		b.WriteString(q)
	} else {
		b.WriteString("(no question provided)")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "COMPUTED_INSIGHTS (%s):\n", insightKind(in.Insight))
	if text := in.Insight.CanonicalText(); text != "" {
		b.WriteString(text)
	} else {
		b.WriteString("(none provided)")
	}
	b.WriteString("\n\n")

	b.WriteString("POLICIES:\n")
	if len(in.Policies) == 0 {
		b.WriteString("(no policy documents were provided or retrieved)\n")
	}
	used := 0
	for i, p := range in.Policies {
		text := strings.TrimSpace(p.Text)
		remaining := maxPolicyChars - used
		if remaining <= 0 {
			fmt.Fprintf(&b, "[%d further polic%s omitted: policy text limit of %d characters reached]\n",
				len(in.Policies)-i, pluralY(len(in.Policies)-i), maxPolicyChars)
			break
		}
		fmt.Fprintf(&b, "%s [%s, relevance %.2f]:\n", policyLabel(p, i), p.Source, p.Relevance)
		if len(text) > remaining {
			b.WriteString(truncateUTF8(text, remaining))
			fmt.Fprintf(&b, "\n[policy text truncated at %d characters]\n", maxPolicyChars)
			used = maxPolicyChars
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
		used += len(text)
	}
	b.WriteString("\n")

	b.WriteString("ASSESSED_CONFIDENCE:\n")
	b.WriteString(in.Assessment.String())
	b.WriteString("\n\n")

	b.WriteString(`INSTRUCTIONS:
Respond with exactly these four sections, each header on its own line:
SUMMARY OF FINDINGS:
POLICY ALIGNMENT:
RECOMMENDED ACTIONS:
LIMITATIONS / CONFIDENCE:
- Summarize the insights without adding figures that are not in COMPUTED_INSIGHTS.
- Cite policies by their label (for example "Policy 1"). If no policy applies, write "No relevant policy found".
- Qualify every recommended action as subject to validation.
- State which information is missing and how that limits the answer.
`)
	return b.String()
}

func insightKind(r models.InsightRecord) string {
	if r.IsStructured() {
		return string(models.InsightStructured)
	}
	return string(models.InsightRaw)
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
