package models

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// InsightKind discriminates the two shapes an InsightRecord can take
type InsightKind string

const (
	InsightStructured InsightKind = "structured"
	InsightRaw        InsightKind = "raw"
)

// Structured insight field names, in report order
const (
	FieldTrends      = "trends"
	FieldAverages    = "averages"
	FieldAnomalies   = "anomalies"
	FieldComparisons = "comparisons"
)

// InsightFields lists every structured field in report order.
var InsightFields = []string{FieldTrends, FieldAverages, FieldAnomalies, FieldComparisons}

// StructuredInsight holds the recognised fields of a computed insight payload
type StructuredInsight struct {
	Trends      string             `json:"trends,omitempty"`
	Averages    map[string]float64 `json:"averages,omitempty"`
	Anomalies   []string           `json:"anomalies,omitempty"`
	Comparisons map[string]string  `json:"comparisons,omitempty"`
}

// Has reports whether the named field carries a non-empty value.
func (s *StructuredInsight) Has(field string) bool {
	if s == nil {
		return false
	}
	switch field {
	case FieldTrends:
		return strings.TrimSpace(s.Trends) != ""
	case FieldAverages:
		return len(s.Averages) > 0
	case FieldAnomalies:
		return len(s.Anomalies) > 0
	case FieldComparisons:
		return len(s.Comparisons) > 0
	}
	return false
}

// MissingFields returns the absent fields in report order
func (s *StructuredInsight) MissingFields() []string {
	missing := make([]string, 0, len(InsightFields))
	for _, f := range InsightFields {
		if !s.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsEmpty reports whether no field is populated
func (s *StructuredInsight) IsEmpty() bool {
	return len(s.MissingFields()) == len(InsightFields)
}

// InsightRecord is the normalized form of a caller-supplied insight payload.
// Kind tells which of Structured or RawText is authoritative.
type InsightRecord struct {
	Kind       InsightKind        `json:"kind"`
	Structured *StructuredInsight `json:"structured,omitempty"`
	RawText    string             `json:"raw_text,omitempty"`
	Issues     []string           `json:"issues,omitempty"`
}

// IsStructured reports whether the record carries at least one structured field
func (r InsightRecord) IsStructured() bool {
	return r.Kind == InsightStructured && r.Structured != nil && !r.Structured.IsEmpty()
}

// IsEmpty reports whether the record carries no insight content at all
func (r InsightRecord) IsEmpty() bool {
	if r.IsStructured() {
		return false
	}
	return strings.TrimSpace(r.RawText) == ""
}

// MissingFields names the structured fields the record lacks. Raw records
// lack all of them.
func (r InsightRecord) MissingFields() []string {
	if !r.IsStructured() {
		return append([]string(nil), InsightFields...)
	}
	return r.Structured.MissingFields()
}

// CanonicalText renders the record deterministically. Map keys are sorted so
// two equal records always produce the same text.
func (r InsightRecord) CanonicalText() string {
	if !r.IsStructured() {
		return strings.TrimSpace(r.RawText)
	}
	s := r.Structured
	var b strings.Builder
	if s.Has(FieldTrends) {
		b.WriteString("trends: ")
		b.WriteString(strings.TrimSpace(s.Trends))
		b.WriteString("\n")
	}
	if s.Has(FieldAverages) {
		b.WriteString("averages:\n")
		for _, k := range sortedKeys(s.Averages) {
			b.WriteString("  ")
			b.WriteString(k)
			b.WriteString(" = ")
			b.WriteString(FormatNumber(s.Averages[k]))
			b.WriteString("\n")
		}
	}
	if s.Has(FieldAnomalies) {
		b.WriteString("anomalies:\n")
		for _, a := range s.Anomalies {
			b.WriteString("  - ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}
	if s.Has(FieldComparisons) {
		b.WriteString("comparisons:\n")
		for _, k := range sortedKeys(s.Comparisons) {
			b.WriteString("  ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(s.Comparisons[k])
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ContentText joins the record's names and values without field labels,
// for term matching.
func (r InsightRecord) ContentText() string {
	if !r.IsStructured() {
		return r.RawText
	}
	s := r.Structured
	parts := []string{s.Trends}
	for _, k := range sortedKeys(s.Averages) {
		parts = append(parts, k, FormatNumber(s.Averages[k]))
	}
	parts = append(parts, s.Anomalies...)
	for _, k := range sortedKeys(s.Comparisons) {
		parts = append(parts, k, s.Comparisons[k])
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy
func (r InsightRecord) Clone() InsightRecord {
	out := InsightRecord{Kind: r.Kind, RawText: r.RawText}
	if len(r.Issues) > 0 {
		out.Issues = append([]string(nil), r.Issues...)
	}
	if r.Structured != nil {
		s := &StructuredInsight{Trends: r.Structured.Trends}
		if r.Structured.Averages != nil {
			s.Averages = make(map[string]float64, len(r.Structured.Averages))
			for k, v := range r.Structured.Averages {
				s.Averages[k] = v
			}
		}
		if r.Structured.Anomalies != nil {
			s.Anomalies = append([]string(nil), r.Structured.Anomalies...)
		}
		if r.Structured.Comparisons != nil {
			s.Comparisons = make(map[string]string, len(r.Structured.Comparisons))
			for k, v := range r.Structured.Comparisons {
				s.Comparisons[k] = v
			}
		}
		out.Structured = s
	}
	return out
}

// Value implements driver.Valuer for JSONB
func (r InsightRecord) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *InsightRecord) Scan(value interface{}) error {
	return scanJSONB(value, r)
}

// FormatNumber renders a float without trailing zeros (8.5, 10, 0.25)
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
