package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// PDF renders the document as an A4 PDF using the core Arial font
func PDF(doc Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle("Decision Report "+doc.DecisionID.String(), true)
	pdf.SetCreator("decisiondesk", true)
	if !doc.GeneratedAt.IsZero() {
		pdf.SetCreationDate(doc.GeneratedAt)
	}
	pdf.AddPage()

	// core fonts are cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 14)
	pdf.MultiCell(0, 8, "Decision Report", "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 9)
	meta := []string{
		"Decision ID: " + doc.DecisionID.String(),
		"Generated: " + doc.GeneratedAt.UTC().Format(time.RFC3339),
		"Question: " + doc.Question,
		"Engine: " + engineLine(doc),
		"Confidence: " + string(doc.Confidence.Level),
	}
	for _, line := range meta {
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}

	for _, s := range doc.Sections.Ordered() {
		pdf.Ln(4)
		y := pdf.GetY()
		pdf.Line(15, y, 195, y)
		pdf.Ln(2)

		pdf.SetFont("Arial", "B", 12)
		pdf.MultiCell(0, 7, tr(s.Title), "", "L", false)
		pdf.SetFont("Arial", "", 9)
		for _, para := range strings.Split(bodyOrNA(s.Body), "\n") {
			pdf.MultiCell(0, 5, tr(para), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}
