package report

import (
	"strings"
	"time"
)

const rule = "============================================================"

// Text renders the plain section-labelled form
func Text(doc Document) string {
	var b strings.Builder
	b.WriteString("DECISION REPORT\n")
	b.WriteString("Decision ID: " + doc.DecisionID.String() + "\n")
	b.WriteString("Generated: " + doc.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("Question: " + doc.Question + "\n")
	b.WriteString("Engine: " + engineLine(doc) + "\n")
	b.WriteString("Confidence: " + string(doc.Confidence.Level) + "\n")

	for _, s := range doc.Sections.Ordered() {
		b.WriteString("\n" + rule + "\n")
		b.WriteString(strings.ToUpper(s.Title) + "\n")
		b.WriteString(rule + "\n\n")
		b.WriteString(bodyOrNA(s.Body) + "\n")
	}
	return b.String()
}

// Markdown renders the document as Markdown
func Markdown(doc Document) string {
	var b strings.Builder
	b.WriteString("# Decision Report\n\n")
	b.WriteString("**Decision ID:** " + doc.DecisionID.String() + "  \n")
	b.WriteString("**Generated:** " + doc.GeneratedAt.UTC().Format(time.RFC3339) + "  \n")
	b.WriteString("**Question:** " + doc.Question + "  \n")
	b.WriteString("**Engine:** " + engineLine(doc) + "  \n")
	b.WriteString("**Confidence:** " + string(doc.Confidence.Level) + "\n")

	for _, s := range doc.Sections.Ordered() {
		b.WriteString("\n---\n\n## " + s.Title + "\n\n")
		b.WriteString(bodyOrNA(s.Body) + "\n")
	}

	if len(doc.Policies) > 0 {
		b.WriteString("\n---\n\n## Policies Considered\n\n")
		for _, p := range doc.Policies {
			b.WriteString("- **" + p.Label + "** (" + string(p.Source))
			if p.SourceDocument != "" {
				b.WriteString(", " + p.SourceDocument)
			}
			b.WriteString("): " + excerpt(p.Text, 160) + "\n")
		}
	}
	return b.String()
}

func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
