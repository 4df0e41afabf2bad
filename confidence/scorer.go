// Package confidence grades how far a decision report can be relied upon.
package confidence

import (
	"fmt"
	"strings"

	"decisiondesk-backend/models"
)

// Default thresholds
const (
	DefaultHighThreshold     = 0.75
	DefaultRelevantThreshold = 0.2
)

// Scorer assigns a ConfidenceAssessment from insight completeness and the
// relevance of the policies considered. The zero value uses the defaults.
type Scorer struct {
	// HighThreshold is the relevance a policy needs for high confidence
	HighThreshold float64
	// RelevantThreshold is the relevance below which a policy is ignored
	RelevantThreshold float64
}

// NewScorer returns a scorer with the given thresholds. Non-positive values
// fall back to the defaults.
func NewScorer(high, relevant float64) Scorer {
	return Scorer{HighThreshold: high, RelevantThreshold: relevant}
}

func (s Scorer) thresholds() (high, relevant float64) {
	high, relevant = s.HighThreshold, s.RelevantThreshold
	if high <= 0 {
		high = DefaultHighThreshold
	}
	if relevant <= 0 {
		relevant = DefaultRelevantThreshold
	}
	if relevant > high {
		relevant = high
	}
	return high, relevant
}

// Assess grades the inputs of a report:
//   - low when the insight is raw-only or no policy reaches RelevantThreshold
//   - high when every insight field is present and some policy reaches HighThreshold
//   - moderate otherwise
func (s Scorer) Assess(insight models.InsightRecord, policies []models.PolicyEvidence) models.ConfidenceAssessment {
	high, relevant := s.thresholds()

	relevantCount := 0
	best := 0.0
	for _, p := range policies {
		if p.Relevance >= relevant {
			relevantCount++
		}
		if p.Relevance > best {
			best = p.Relevance
		}
	}

	missing := insight.MissingFields()
	a := models.ConfidenceAssessment{MissingFields: missing}

	var reasons []string
	switch {
	case !insight.IsStructured():
		a.Level = models.ConfidenceLow
		if insight.IsEmpty() {
			reasons = append(reasons, "no computed insights were provided")
		} else {
			reasons = append(reasons, "insights are unstructured text only")
		}
		if relevantCount == 0 {
			reasons = append(reasons, "no relevant policy was found")
		}
	case relevantCount == 0:
		a.Level = models.ConfidenceLow
		reasons = append(reasons, "no relevant policy was found")
	case len(missing) == 0 && best >= high:
		a.Level = models.ConfidenceHigh
		reasons = append(reasons, "all insight fields are present",
			fmt.Sprintf("a policy matches with relevance %.2f", best))
	default:
		a.Level = models.ConfidenceModerate
		if len(missing) > 0 {
			reasons = append(reasons, "some insight fields are missing")
		}
		if best < high {
			reasons = append(reasons, fmt.Sprintf("best policy relevance %.2f is below %.2f", best, high))
		}
	}
	if relevantCount > 0 {
		reasons = append(reasons, fmt.Sprintf("%d relevant polic%s considered", relevantCount, plural(relevantCount)))
	}

	a.Rationale = strings.Join(reasons, "; ")
	return a
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
