package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionRecord is one immutable entry of the audit ledger
type DecisionRecord struct {
	ID              uuid.UUID            `json:"id"`
	Timestamp       time.Time            `json:"timestamp"`
	CallerID        string               `json:"caller_id"`
	InputInsight    InsightRecord        `json:"input_insight"`
	InputPolicies   PolicySnapshots      `json:"input_policies"`
	Question        string               `json:"question"`
	OutputSections  ReportSections       `json:"output_sections"`
	Confidence      ConfidenceAssessment `json:"confidence"`
	EngineMode      EngineMode           `json:"engine_mode_used"`
	ServedFromCache bool                 `json:"served_from_cache"`
	FallbackReason  string               `json:"fallback_reason,omitempty"`
	DurationMS      int64                `json:"duration_ms"`
}

// Clone returns a deep copy so a stored record cannot be changed through
// slices or maps shared with the caller.
func (r DecisionRecord) Clone() DecisionRecord {
	out := r
	out.InputInsight = r.InputInsight.Clone()
	if r.InputPolicies != nil {
		out.InputPolicies = append(PolicySnapshots(nil), r.InputPolicies...)
	}
	if r.Confidence.MissingFields != nil {
		out.Confidence.MissingFields = append([]string(nil), r.Confidence.MissingFields...)
	}
	return out
}

// Degradation kinds. None of them fail a request.
const (
	DegradedInvalidInput         = "InvalidInput"
	DegradedRetrievalUnavailable = "RetrievalUnavailable"
	DegradedGenerativeBackend    = "GenerativeBackendFailure"
	DegradedAuditWrite           = "AuditWriteFailure"
)

// Degradation is a non-fatal condition encountered while producing a report
type Degradation struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CacheEntry is a memoized report keyed by its input fingerprint
type CacheEntry struct {
	Fingerprint string               `json:"fingerprint"`
	Sections    ReportSections       `json:"sections"`
	Confidence  ConfidenceAssessment `json:"confidence"`
	EngineMode  EngineMode           `json:"engine_mode"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}
