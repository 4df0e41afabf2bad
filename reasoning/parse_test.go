package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wellFormed = `Here is the analysis.

SUMMARY OF FINDINGS:
Average leave is 8.5 days. Bob took 10 days.

POLICY ALIGNMENT:
Policy 1 caps leave at 10 days per year.

RECOMMENDED ACTIONS:
1. Review Bob's leave balance (subject to validation).

LIMITATIONS / CONFIDENCE:
Trends and comparisons were not provided.`

func TestParseSectionsPlainHeaders(t *testing.T) {
	s, err := ParseSections(wellFormed)

	require.NoError(t, err)
	assert.Equal(t, "Average leave is 8.5 days. Bob took 10 days.", s.Summary)
	assert.Equal(t, "Policy 1 caps leave at 10 days per year.", s.PolicyAlignment)
	assert.Equal(t, "1. Review Bob's leave balance (subject to validation).", s.RecommendedActions)
	assert.Equal(t, "Trends and comparisons were not provided.", s.LimitationsConfidence)
}

func TestParseSectionsMarkdownHeaders(t *testing.T) {
	text := "## 1. Summary of Findings\nfindings here\n\n**Policy Alignment:** aligned text\n\n### Recommendations\n- act\n\n**Limitations and Confidence**\nlimited"

	s, err := ParseSections(text)

	require.NoError(t, err)
	assert.Equal(t, "findings here", s.Summary)
	assert.Equal(t, "aligned text", s.PolicyAlignment)
	assert.Equal(t, "- act", s.RecommendedActions)
	assert.Equal(t, "limited", s.LimitationsConfidence)
}

func TestParseSectionsJSON(t *testing.T) {
	s, err := ParseSections(`{"summary": "a", "policy_alignment": "b", "recommended_actions": "c", "limitations": "d"}`)

	require.NoError(t, err)
	assert.Equal(t, "d", s.LimitationsConfidence)
}

func TestParseSectionsMissing(t *testing.T) {
	_, err := ParseSections("SUMMARY OF FINDINGS:\nonly a summary\nRECOMMENDED ACTIONS:\n")

	require.ErrorIs(t, err, ErrMalformedOutput)
	assert.Contains(t, err.Error(), "Policy Alignment")
	assert.Contains(t, err.Error(), "Recommended Actions")
	assert.Contains(t, err.Error(), "Limitations / Confidence")
}

func TestParseSectionsIgnoresOrdinaryLines(t *testing.T) {
	_, ok := func() (sectionID, bool) {
		id, _, ok := matchHeader("The summary shows rising overtime")
		return id, ok
	}()
	assert.False(t, ok)
}
