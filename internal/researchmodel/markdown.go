package researchmodel

import (
	"fmt"
	"strings"
)

// ReportToMarkdown renders report deterministically: title, executive
// summary, sections, confidence assessment, numbered sources, word-count
// footer. It never panics — sections or sources with an empty heading/URL
// are rendered as best-effort rather than skipped outright, since the
// typed Report can't carry the "malformed JSON object" shapes a looser
// representation would need to guard against.
func ReportToMarkdown(r Report) string {
	var b strings.Builder

	title := r.Title
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if r.ExecutiveSummary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(r.ExecutiveSummary)
		b.WriteString("\n\n")
	}

	for _, s := range r.Sections {
		heading := s.Heading
		if heading == "" {
			heading = "Section"
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", heading, s.Content)
	}

	if r.ConfidenceAssessment != "" {
		b.WriteString("## Confidence Assessment\n\n")
		b.WriteString(r.ConfidenceAssessment)
		b.WriteString("\n\n")
	}

	if len(r.SourcesUsed) > 0 {
		b.WriteString("## Sources\n\n")
		for i, src := range r.SourcesUsed {
			title := src.Title
			if title == "" {
				title = src.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)", i+1, title, src.URL)
			if src.Reliability != "" {
				fmt.Fprintf(&b, " — reliability: %s", src.Reliability)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\n*Word count: %d*\n", r.WordCount)

	return b.String()
}
