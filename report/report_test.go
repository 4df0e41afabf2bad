package report

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"decisiondesk-backend/models"
	"decisiondesk-backend/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		DecisionID:  uuid.MustParse("0190f3a2-7b1c-7cde-8f00-123456789abc"),
		Question:    "Which employees exceeded limits?",
		CallerID:    "hr-team",
		GeneratedAt: time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC),
		EngineMode:  models.EngineRuleBased,
		Sections: models.ReportSections{
			Summary:               "Anomalies: Bob has 12 leave days",
			PolicyAlignment:       "Policy 1 shares 3 terms with the insight.",
			RecommendedActions:    "1. Review Bob's leave (subject to validation)",
			LimitationsConfidence: "Confidence: moderate\nMissing information: comparisons, trends\nRationale: partial insight",
		},
		Confidence: models.ConfidenceAssessment{
			Level:         models.ConfidenceModerate,
			MissingFields: []string{"comparisons", "trends"},
			Rationale:     "partial insight",
		},
		Policies: []models.PolicyEvidence{{
			Label:     "Policy 1",
			Source:    models.PolicyLiteral,
			Text:      "Leave Policy: max 10 days/year",
			Relevance: 0.5,
		}},
	}
}

func TestJSONRoundTrip(t *testing.T) {
	doc := sampleDocument()

	data, err := EncodeJSON(doc)
	require.NoError(t, err)

	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)

	again, err := EncodeJSON(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestDecodeJSON_Invalid(t *testing.T) {
	_, err := DecodeJSON([]byte("{not json"))
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	out := Text(sampleDocument())

	assert.True(t, strings.HasPrefix(out, "DECISION REPORT\n"))
	assert.Contains(t, out, "Engine: rule-based\n")
	headers := []string{"SUMMARY OF FINDINGS", "POLICY ALIGNMENT", "RECOMMENDED ACTIONS", "LIMITATIONS / CONFIDENCE"}
	last := -1
	for _, h := range headers {
		idx := strings.Index(out, h)
		require.NotEqual(t, -1, idx, h)
		assert.Greater(t, idx, last, "sections must keep their order")
		last = idx
	}
	assert.Contains(t, out, "Confidence: moderate\nMissing information: comparisons, trends")
}

func TestText_EmptySectionAndCacheFlag(t *testing.T) {
	doc := sampleDocument()
	doc.Sections.PolicyAlignment = " "
	doc.ServedFromCache = true
	doc.FallbackReason = "call timed out"

	out := Text(doc)
	assert.Contains(t, out, "POLICY ALIGNMENT\n"+rule+"\n\nN/A\n")
	assert.Contains(t, out, "Engine: rule-based (served from cache); fallback: call timed out")
}

func TestMarkdown(t *testing.T) {
	out := Markdown(sampleDocument())

	assert.True(t, strings.HasPrefix(out, "# Decision Report\n"))
	assert.Contains(t, out, "## Summary of Findings\n\nAnomalies: Bob has 12 leave days")
	assert.Contains(t, out, "## Limitations / Confidence")
	assert.Contains(t, out, "- **Policy 1** (literal): Leave Policy: max 10 days/year")
}

func TestPDF(t *testing.T) {
	doc := sampleDocument()
	doc.Question = "Résumé review for Zoë?"

	data, err := PDF(doc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Greater(t, len(data), 500)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":         FormatJSON,
		"JSON":     FormatJSON,
		"txt":      FormatText,
		"text":     FormatText,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
		" pdf ":    FormatPDF,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFromRecord(t *testing.T) {
	rec := models.DecisionRecord{
		ID:              uuid.New(),
		Timestamp:       time.Date(2026, 1, 1, 8, 0, 0, 0, time.FixedZone("X", 3600)),
		CallerID:        "ops",
		Question:        "q",
		EngineMode:      models.EngineGenerative,
		ServedFromCache: true,
		OutputSections:  sampleDocument().Sections,
		Confidence:      sampleDocument().Confidence,
	}

	doc := FromRecord(rec)
	assert.Equal(t, rec.ID, doc.DecisionID)
	assert.Equal(t, time.UTC, doc.GeneratedAt.Location())
	assert.True(t, doc.ServedFromCache)
	assert.Equal(t, rec.OutputSections, doc.Sections)
}

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	exporter := NewExporter(store)
	doc := sampleDocument()

	for _, format := range Formats {
		exp, err := exporter.Export(ctx, doc, format)
		require.NoError(t, err, format)
		assert.Equal(t, storage.ExportKey(doc.DecisionID, format.Extension()), exp.Key)
		assert.Equal(t, format.ContentType(), exp.ContentType)

		rc, err := store.Open(ctx, exp.Key)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Len(t, data, exp.Size)
	}

	rc, err := store.Open(ctx, storage.ExportKey(doc.DecisionID, ".json"))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestExporter_UnsupportedFormat(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = NewExporter(store).Export(context.Background(), sampleDocument(), Format("docx"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
