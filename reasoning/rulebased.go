package reasoning

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"decisiondesk-backend/lexical"
	"decisiondesk-backend/models"
)

// MinSharedTokens is how many distinct terms a policy must share with the
// insights to count as aligned in rule-based synthesis
const MinSharedTokens = 2

// approachRatio flags averages at or above this share of a policy limit
const approachRatio = 0.8

const validationNote = "(subject to validation)"

var (
	limitPattern = regexp.MustCompile(`(?i)\b(maximum|max|limit(?:ed)?(?:\s+(?:of|to))?|up\s+to|no\s+more\s+than|not\s+(?:to\s+)?exceed|at\s+most|cap(?:ped)?(?:\s+at)?)\s*:?\s*(\d+(?:\.\d+)?)\s*(%|[a-z]+)?`)
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

type policyLimit struct {
	label  string
	value  float64
	unit   string
	tokens map[string]struct{}
}

type alignedPolicy struct {
	index  int
	label  string
	policy models.PolicyEvidence
	shared []string
}

// Synthesize builds a report from the inputs alone. It is deterministic and
// never fails: equal inputs always produce equal sections.
func Synthesize(in Input) models.ReportSections {
	insightTokens := lexical.Tokens(in.Insight.ContentText())

	var aligned []alignedPolicy
	var unaligned []string
	for i, p := range in.Policies {
		label := policyLabel(p, i)
		shared := lexical.Shared(insightTokens, lexical.Tokens(p.Text))
		if len(shared) >= MinSharedTokens {
			aligned = append(aligned, alignedPolicy{index: i, label: label, policy: p, shared: shared})
		} else {
			unaligned = append(unaligned, label)
		}
	}

	return models.ReportSections{
		Summary:               synthesizeSummary(in),
		PolicyAlignment:       synthesizeAlignment(in, aligned, unaligned),
		RecommendedActions:    synthesizeActions(in, aligned),
		LimitationsConfidence: synthesizeLimitations(in),
	}
}

func synthesizeSummary(in Input) string {
	var b strings.Builder
	if q := strings.TrimSpace(in.Question); q != "" {
		fmt.Fprintf(&b, "Question: %s\n\n", q)
	}

	switch {
	case in.Insight.IsStructured():
		s := in.Insight.Structured
		b.WriteString("Computed insights (restated as provided):\n")
		if s.Has(models.FieldTrends) {
			fmt.Fprintf(&b, "Trends: %s\n", strings.TrimSpace(s.Trends))
		}
		if s.Has(models.FieldAverages) {
			b.WriteString("Averages:\n")
			for _, k := range sortedKeys(s.Averages) {
				fmt.Fprintf(&b, "- %s = %s\n", k, models.FormatNumber(s.Averages[k]))
			}
		}
		if s.Has(models.FieldAnomalies) {
			b.WriteString("Anomalies:\n")
			for _, a := range s.Anomalies {
				fmt.Fprintf(&b, "- %s\n", a)
			}
		}
		if s.Has(models.FieldComparisons) {
			b.WriteString("Comparisons:\n")
			for _, k := range sortedKeys(s.Comparisons) {
				fmt.Fprintf(&b, "- %s: %s\n", k, s.Comparisons[k])
			}
		}
		if missing := s.MissingFields(); len(missing) > 0 {
			fmt.Fprintf(&b, "Not provided: %s.\n", strings.Join(missing, ", "))
		}
	case in.Insight.IsEmpty():
		b.WriteString("No computed insights were provided, so there are no findings to summarize.\n")
	default:
		b.WriteString("Computed insights (unstructured text, restated verbatim):\n")
		b.WriteString(strings.TrimSpace(in.Insight.RawText))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func synthesizeAlignment(in Input, aligned []alignedPolicy, unaligned []string) string {
	if len(in.Policies) == 0 {
		return "No relevant policy found: no policy documents were provided or retrieved."
	}
	if len(aligned) == 0 {
		return fmt.Sprintf("No relevant policy found. None of the %d polic%s considered shares at least %d terms with the insights.",
			len(in.Policies), pluralY(len(in.Policies)), MinSharedTokens)
	}

	var b strings.Builder
	for _, a := range aligned {
		fmt.Fprintf(&b, "%s (%s): %q shares %d term(s) with the insights: %s.\n",
			a.label, describeSource(a.policy), excerpt(a.policy.Text, 120), len(a.shared), strings.Join(a.shared, ", "))
	}
	if len(unaligned) > 0 {
		fmt.Fprintf(&b, "Not aligned (fewer than %d shared terms): %s.\n", MinSharedTokens, strings.Join(unaligned, ", "))
	}
	return strings.TrimSpace(b.String())
}

func synthesizeActions(in Input, aligned []alignedPolicy) string {
	var actions []string

	if in.Insight.IsEmpty() {
		actions = append(actions, "No specific action can be recommended because no computed insights were provided. Supply structured insights (trends, averages, anomalies, comparisons) and resubmit "+validationNote+".")
		return numbered(actions)
	}
	if !in.Insight.IsStructured() {
		actions = append(actions, "Convert the raw insight text into structured fields (trends, averages, anomalies, comparisons) so findings can be checked against policy limits "+validationNote+".")
		if len(aligned) > 0 {
			actions = append(actions, fmt.Sprintf("Review the insight text against %s before acting %s.", joinLabels(aligned), validationNote))
		}
		return numbered(actions)
	}

	s := in.Insight.Structured
	var limits []policyLimit
	for _, a := range aligned {
		limits = append(limits, parseLimits(a.label, a.policy.Text)...)
	}

	flagged := make(map[int]bool)
	for i, anomaly := range s.Anomalies {
		tokens := lexical.Tokens(anomaly)
		for _, lim := range limits {
			if !lim.relates(tokens) {
				continue
			}
			if v, ok := maxNumber(anomaly); ok && v >= lim.value {
				actions = append(actions, fmt.Sprintf("Review %q: it %s the limit of %s stated in %s. Confirm the figure and apply that policy's escalation steps %s.",
					anomaly, compareVerb(v, lim.value), lim.describe(), lim.label, validationNote))
				flagged[i] = true
				break
			}
		}
	}

	for _, name := range sortedKeys(s.Averages) {
		value := s.Averages[name]
		tokens := lexical.Tokens(strings.ReplaceAll(name, "_", " "))
		for _, lim := range limits {
			if !lim.relates(tokens) || lim.value <= 0 {
				continue
			}
			switch {
			case value >= lim.value:
				actions = append(actions, fmt.Sprintf("Address the average %s = %s: it %s the limit of %s stated in %s %s.",
					name, models.FormatNumber(value), compareVerb(value, lim.value), lim.describe(), lim.label, validationNote))
			case value >= lim.value*approachRatio:
				actions = append(actions, fmt.Sprintf("Monitor the average %s = %s: it is at %.0f%% of the limit of %s stated in %s %s.",
					name, models.FormatNumber(value), value/lim.value*100, lim.describe(), lim.label, validationNote))
			default:
				continue
			}
			break
		}
	}

	for i, anomaly := range s.Anomalies {
		if flagged[i] {
			continue
		}
		actions = append(actions, fmt.Sprintf("Investigate the anomaly %q and confirm it against the source data before acting %s.", anomaly, validationNote))
	}
	if s.Has(models.FieldTrends) {
		actions = append(actions, fmt.Sprintf("Track the trend %q over the next reporting period to confirm it persists %s.", strings.TrimSpace(s.Trends), validationNote))
	}
	if s.Has(models.FieldComparisons) {
		actions = append(actions, fmt.Sprintf("Review the comparisons (%s) for gaps that policy may need to address %s.",
			strings.Join(sortedKeys(s.Comparisons), ", "), validationNote))
	}
	if len(aligned) == 0 {
		actions = append(actions, "No policy supports a specific action; consult the policy owner before acting "+validationNote+".")
	}
	if len(actions) == 0 {
		actions = append(actions, "No action is indicated by the provided insights; re-run the analysis when new data is available "+validationNote+".")
	}
	return numbered(actions)
}

func synthesizeLimitations(in Input) string {
	var b strings.Builder
	b.WriteString(in.Assessment.String())
	b.WriteString("\nThis report was produced by rule-based synthesis from term overlap and numeric thresholds; it does not interpret policy intent.")
	if len(in.Insight.Issues) > 0 {
		b.WriteString("\nInput notes:")
		for _, issue := range in.Insight.Issues {
			b.WriteString("\n- ")
			b.WriteString(issue)
		}
	}
	return b.String()
}

// parseLimits extracts numeric limits such as "max 10 days" from policy text
func parseLimits(label, text string) []policyLimit {
	tokens := lexical.Tokens(text)
	var out []policyLimit
	for _, m := range limitPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		unit := strings.ToLower(m[3])
		if unit != "%" && len(lexical.Tokens(unit)) == 0 {
			unit = ""
		}
		out = append(out, policyLimit{label: label, value: v, unit: unit, tokens: tokens})
	}
	return out
}

// relates reports whether an observation is about the same quantity as the
// limit: it must mention the limit's unit and share a term with the policy.
func (l policyLimit) relates(observation map[string]struct{}) bool {
	if l.unit != "" && l.unit != "%" && !hasUnit(observation, l.unit) {
		return false
	}
	return len(lexical.Shared(observation, l.tokens)) > 0
}

func (l policyLimit) describe() string {
	if l.unit == "" {
		return models.FormatNumber(l.value)
	}
	if l.unit == "%" {
		return models.FormatNumber(l.value) + "%"
	}
	return models.FormatNumber(l.value) + " " + l.unit
}

func hasUnit(tokens map[string]struct{}, unit string) bool {
	singular := strings.TrimSuffix(unit, "s")
	for _, candidate := range []string{unit, singular, singular + "s"} {
		if _, ok := tokens[candidate]; ok {
			return true
		}
	}
	return false
}

func maxNumber(text string) (float64, bool) {
	found := false
	best := 0.0
	for _, m := range numberPattern.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

func compareVerb(value, limit float64) string {
	if value > limit {
		return "exceeds"
	}
	return "reaches"
}

func describeSource(p models.PolicyEvidence) string {
	if p.Source == models.PolicyRetrieved {
		if p.SourceDocument != "" {
			return fmt.Sprintf("retrieved from %s, relevance %.2f", p.SourceDocument, p.Relevance)
		}
		return fmt.Sprintf("retrieved, relevance %.2f", p.Relevance)
	}
	return "supplied with the request"
}

func joinLabels(aligned []alignedPolicy) string {
	labels := make([]string, 0, len(aligned))
	for _, a := range aligned {
		labels = append(labels, a.label)
	}
	return strings.Join(labels, ", ")
}

func numbered(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, l)
	}
	return b.String()
}

// excerpt returns the first line of text, whitespace-folded and cut to n runes
func excerpt(text string, n int) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Join(strings.Fields(line), " ")
	if utf8.RuneCountInString(line) <= n {
		return line
	}
	runes := []rune(line)
	return string(runes[:n]) + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
