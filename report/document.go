// Package report renders finished decisions into exportable formats.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"decisiondesk-backend/models"

	"github.com/google/uuid"
)

// ErrUnsupportedFormat is returned for an unknown export format name
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Document is the exportable form of one decision
type Document struct {
	DecisionID      uuid.UUID                   `json:"decision_id"`
	Question        string                      `json:"question"`
	CallerID        string                      `json:"caller_id,omitempty"`
	GeneratedAt     time.Time                   `json:"generated_at"`
	EngineMode      models.EngineMode           `json:"engine_mode"`
	ServedFromCache bool                        `json:"served_from_cache"`
	FallbackReason  string                      `json:"fallback_reason,omitempty"`
	Sections        models.ReportSections       `json:"sections"`
	Confidence      models.ConfidenceAssessment `json:"confidence"`
	Policies        []models.PolicyEvidence     `json:"policies,omitempty"`
}

// FromRecord builds a Document from an audit record
func FromRecord(rec models.DecisionRecord) Document {
	rec = rec.Clone()
	return Document{
		DecisionID:      rec.ID,
		Question:        rec.Question,
		CallerID:        rec.CallerID,
		GeneratedAt:     rec.Timestamp.UTC(),
		EngineMode:      rec.EngineMode,
		ServedFromCache: rec.ServedFromCache,
		FallbackReason:  rec.FallbackReason,
		Sections:        rec.OutputSections,
		Confidence:      rec.Confidence,
		Policies:        rec.InputPolicies,
	}
}

// Format names an export rendering
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

// Formats lists every supported format
var Formats = []Format{FormatJSON, FormatText, FormatMarkdown, FormatPDF}

// ParseFormat resolves a format name or common alias
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q (use json, text, markdown or pdf)", ErrUnsupportedFormat, name)
}

// Extension returns the file extension for the format
func (f Format) Extension() string {
	switch f {
	case FormatText:
		return ".txt"
	case FormatMarkdown:
		return ".md"
	case FormatPDF:
		return ".pdf"
	default:
		return ".json"
	}
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Render produces the document in the requested format
func Render(doc Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return EncodeJSON(doc)
	case FormatText:
		return []byte(Text(doc)), nil
	case FormatMarkdown:
		return []byte(Markdown(doc)), nil
	case FormatPDF:
		return PDF(doc)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// EncodeJSON serializes doc losslessly
func EncodeJSON(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a document produced by EncodeJSON
func DecodeJSON(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return doc, nil
}

func engineLine(doc Document) string {
	line := string(doc.EngineMode)
	if doc.ServedFromCache {
		line += " (served from cache)"
	}
	if doc.FallbackReason != "" {
		line += "; fallback: " + doc.FallbackReason
	}
	return line
}

func bodyOrNA(body string) string {
	if strings.TrimSpace(body) == "" {
		return "N/A"
	}
	return body
}
