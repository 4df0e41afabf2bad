// Package insight turns caller-supplied computed insights into a
// models.InsightRecord.
package insight

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"decisiondesk-backend/models"
)

// Normalize parses input as a structured insight payload and falls back to
// keeping it verbatim as raw text. It never fails; problems are recorded in
// the record's Issues.
func Normalize(input string) models.InsightRecord {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.InsightRecord{
			Kind:   models.InsightRaw,
			Issues: []string{"no computed insights were provided"},
		}
	}

	looksJSON := strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	if !looksJSON {
		return models.InsightRecord{Kind: models.InsightRaw, RawText: input}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return rawWithIssue(input, fmt.Sprintf("insight payload is not a JSON object (%v); kept as raw text", err))
	}

	structured, issues := fromPayload(payload)
	if structured.IsEmpty() {
		issues = append(issues, "insight payload has none of the expected fields (trends, averages, anomalies, comparisons); kept as raw text")
		rec := models.InsightRecord{Kind: models.InsightRaw, RawText: input, Issues: issues}
		return rec
	}

	rec := models.InsightRecord{Kind: models.InsightStructured, Structured: structured}
	if len(issues) > 0 {
		rec.Issues = issues
	}
	return rec
}

// NormalizeJSON normalizes an insight that arrived as a JSON value. A JSON
// string is treated as the insight text itself.
func NormalizeJSON(raw json.RawMessage) models.InsightRecord {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Normalize("")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal([]byte(trimmed), &text); err == nil {
			return Normalize(text)
		}
	}
	return Normalize(trimmed)
}

func rawWithIssue(input, issue string) models.InsightRecord {
	return models.InsightRecord{Kind: models.InsightRaw, RawText: input, Issues: []string{issue}}
}

func fromPayload(payload map[string]interface{}) (*models.StructuredInsight, []string) {
	s := &models.StructuredInsight{}
	var issues []string
	var ignored []string

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Field names match case-insensitively; the first spelling in sorted
	// order wins when several map to the same field.
	seen := make(map[string]string, len(keys))
	for _, key := range keys {
		value := payload[key]
		field := strings.ToLower(strings.TrimSpace(key))
		if first, dup := seen[field]; dup {
			issues = append(issues, fmt.Sprintf("duplicate insight field %q ignored; using %q", key, first))
			continue
		}
		if slices.Contains(models.InsightFields, field) {
			seen[field] = key
		}

		switch field {
		case models.FieldTrends:
			s.Trends = coerceTrends(value)
		case models.FieldAverages:
			avg, avgIssues := coerceAverages(value)
			s.Averages = avg
			issues = append(issues, avgIssues...)
		case models.FieldAnomalies:
			s.Anomalies = coerceList(value)
		case models.FieldComparisons:
			s.Comparisons = coerceComparisons(value)
		default:
			ignored = append(ignored, key)
		}
	}

	sort.Strings(issues)
	sort.Strings(ignored)
	for _, key := range ignored {
		issues = append(issues, fmt.Sprintf("ignored unrecognised insight field %q", key))
	}
	return s, issues
}

func coerceTrends(v interface{}) string {
	switch t := v.(type) {
	case []interface{}:
		return strings.Join(coerceList(t), "; ")
	default:
		return strings.TrimSpace(stringify(v))
	}
}

func coerceAverages(v interface{}) (map[string]float64, []string) {
	m, ok := v.(map[string]interface{})
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, []string{"averages must be an object of name to number; dropped"}
	}

	out := make(map[string]float64, len(m))
	var issues []string
	for name, raw := range m {
		switch n := raw.(type) {
		case float64:
			out[name] = n
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				issues = append(issues, fmt.Sprintf("average %q is not numeric; dropped", name))
				continue
			}
			out[name] = f
		default:
			issues = append(issues, fmt.Sprintf("average %q is not numeric; dropped", name))
		}
	}
	if len(out) == 0 {
		return nil, issues
	}
	return out, issues
}

func coerceList(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				out = append(out, s)
			}
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, k+": "+stringify(t[k]))
		}
	default:
		if s := strings.TrimSpace(stringify(t)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func coerceComparisons(v interface{}) map[string]string {
	out := make(map[string]string)
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				out[k] = s
			}
		}
	case []interface{}:
		width := len(strconv.Itoa(len(t)))
		for i, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				out[fmt.Sprintf("comparison_%0*d", width, i+1)] = s
			}
		}
	default:
		if s := strings.TrimSpace(stringify(t)); s != "" {
			out["comparison"] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stringify renders a decoded JSON value as text. Objects and arrays keep
// their compact JSON form, which encoding/json emits with sorted keys.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return models.FormatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
