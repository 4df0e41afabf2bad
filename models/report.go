package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
)

// Report section titles, in output order
const (
	SectionSummary            = "Summary of Findings"
	SectionPolicyAlignment    = "Policy Alignment"
	SectionRecommendedActions = "Recommended Actions"
	SectionLimitations        = "Limitations / Confidence"
)

// ReportSections is the four-part decision report
type ReportSections struct {
	Summary               string `json:"summary"`
	PolicyAlignment       string `json:"policy_alignment"`
	RecommendedActions    string `json:"recommended_actions"`
	LimitationsConfidence string `json:"limitations_confidence"`
}

// Section is a titled report section
type Section struct {
	Title string
	Body  string
}

// Ordered returns the sections with their titles in output order
func (s ReportSections) Ordered() []Section {
	return []Section{
		{Title: SectionSummary, Body: s.Summary},
		{Title: SectionPolicyAlignment, Body: s.PolicyAlignment},
		{Title: SectionRecommendedActions, Body: s.RecommendedActions},
		{Title: SectionLimitations, Body: s.LimitationsConfidence},
	}
}

// Missing returns the titles of empty sections
func (s ReportSections) Missing() []string {
	var missing []string
	for _, sec := range s.Ordered() {
		if strings.TrimSpace(sec.Body) == "" {
			missing = append(missing, sec.Title)
		}
	}
	return missing
}

// Complete reports whether all four sections are non-empty
func (s ReportSections) Complete() bool {
	return len(s.Missing()) == 0
}

// Value implements driver.Valuer for JSONB
func (s ReportSections) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *ReportSections) Scan(value interface{}) error {
	return scanJSONB(value, s)
}

// ConfidenceLevel grades how much a report can be relied upon
type ConfidenceLevel string

const (
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceModerate ConfidenceLevel = "moderate"
	ConfidenceHigh     ConfidenceLevel = "high"
)

// Rank orders levels so low < moderate < high
func (l ConfidenceLevel) Rank() int {
	switch l {
	case ConfidenceLow:
		return 0
	case ConfidenceModerate:
		return 1
	case ConfidenceHigh:
		return 2
	}
	return -1
}

// ConfidenceAssessment is the scorer's verdict on a report's inputs
type ConfidenceAssessment struct {
	Level         ConfidenceLevel `json:"level"`
	MissingFields []string        `json:"missing_fields"`
	Rationale     string          `json:"rationale"`
}

// String renders the assessment in the form embedded into report text
func (a ConfidenceAssessment) String() string {
	missing := "none"
	if len(a.MissingFields) > 0 {
		missing = strings.Join(a.MissingFields, ", ")
	}
	var b strings.Builder
	b.WriteString("Confidence: ")
	b.WriteString(string(a.Level))
	b.WriteString("\nMissing information: ")
	b.WriteString(missing)
	if a.Rationale != "" {
		b.WriteString("\nRationale: ")
		b.WriteString(a.Rationale)
	}
	return b.String()
}

// Value implements driver.Valuer for JSONB
func (a ConfidenceAssessment) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB
func (a *ConfidenceAssessment) Scan(value interface{}) error {
	return scanJSONB(value, a)
}

// EngineMode records which reasoning path produced a report
type EngineMode string

const (
	EngineGenerative EngineMode = "generative"
	EngineRuleBased  EngineMode = "rule-based"
)
