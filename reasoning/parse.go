package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"decisiondesk-backend/models"
)

// ErrMalformedOutput is returned when generated text lacks a report section
var ErrMalformedOutput = errors.New("generated output is missing report sections")

type sectionID int

const (
	secNone sectionID = iota
	secSummary
	secAlignment
	secActions
	secLimitations
)

type jsonSections struct {
	Summary               string `json:"summary"`
	SummaryOfFindings     string `json:"summary_of_findings"`
	PolicyAlignment       string `json:"policy_alignment"`
	RecommendedActions    string `json:"recommended_actions"`
	LimitationsConfidence string `json:"limitations_confidence"`
	Limitations           string `json:"limitations"`
}

// ParseSections splits generated text into the four report sections. It
// accepts headed plain text or markdown, and a JSON object keyed by section.
func ParseSections(text string) (models.ReportSections, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		if s, ok := parseJSONSections(trimmed); ok {
			return s, nil
		}
	}

	var parts [5]strings.Builder
	current := secNone
	for _, line := range strings.Split(trimmed, "\n") {
		if id, rest, ok := matchHeader(line); ok {
			current = id
			if rest != "" {
				appendLine(&parts[current], rest)
			}
			continue
		}
		if current != secNone {
			appendLine(&parts[current], line)
		}
	}

	s := models.ReportSections{
		Summary:               strings.TrimSpace(parts[secSummary].String()),
		PolicyAlignment:       strings.TrimSpace(parts[secAlignment].String()),
		RecommendedActions:    strings.TrimSpace(parts[secActions].String()),
		LimitationsConfidence: strings.TrimSpace(parts[secLimitations].String()),
	}
	if missing := s.Missing(); len(missing) > 0 {
		return s, fmt.Errorf("%w: %s", ErrMalformedOutput, strings.Join(missing, ", "))
	}
	return s, nil
}

func parseJSONSections(text string) (models.ReportSections, bool) {
	var js jsonSections
	if err := json.Unmarshal([]byte(text), &js); err != nil {
		return models.ReportSections{}, false
	}
	s := models.ReportSections{
		Summary:               firstNonEmpty(js.Summary, js.SummaryOfFindings),
		PolicyAlignment:       strings.TrimSpace(js.PolicyAlignment),
		RecommendedActions:    strings.TrimSpace(js.RecommendedActions),
		LimitationsConfidence: firstNonEmpty(js.LimitationsConfidence, js.Limitations),
	}
	return s, s.Complete()
}

// matchHeader recognises a section header line such as "## 2. Policy
// Alignment", "**Recommended Actions:**" or "SUMMARY OF FINDINGS: text".
func matchHeader(line string) (sectionID, string, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#*_0123456789.) \t")
	label, rest := s, ""
	if i := strings.Index(s, ":"); i >= 0 {
		label, rest = s[:i], s[i+1:]
	}
	label = strings.ToLower(strings.Trim(label, "*_ \t"))
	rest = strings.TrimSpace(strings.TrimLeft(rest, "*_ \t"))

	switch {
	case label == "summary" || label == "summary of findings" || label == "findings":
		return secSummary, rest, true
	case label == "policy alignment" || label == "alignment":
		return secAlignment, rest, true
	case label == "recommended actions" || label == "recommendations" || label == "actions":
		return secActions, rest, true
	case label == "confidence" || strings.HasPrefix(label, "limitations"):
		return secLimitations, rest, true
	}
	return secNone, "", false
}

func appendLine(b *strings.Builder, line string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimRight(line, " \t\r"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
