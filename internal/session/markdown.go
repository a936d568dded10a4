package session

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// RenderMarkdown renders report in the deterministic order spec §6
// requires: title, executive summary, sections, confidence assessment,
// numbered sources, word-count footer.
func RenderMarkdown(report researchmodel.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", report.Title)
	if report.ExecutiveSummary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(report.ExecutiveSummary)
		b.WriteString("\n\n")
	}

	for _, section := range report.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", section.Heading, section.Content)
	}

	if report.ConfidenceAssessment != "" {
		b.WriteString("## Confidence Assessment\n\n")
		b.WriteString(report.ConfidenceAssessment)
		b.WriteString("\n\n")
	}

	if len(report.SourcesUsed) > 0 {
		b.WriteString("## Sources\n\n")
		for i, src := range report.SourcesUsed {
			fmt.Fprintf(&b, "%d. [%s](%s) — %s (%s)\n", i+1, displayTitle(src), src.URL, src.Domain, src.Reliability)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\n*%d words*\n", report.WordCount)
	return b.String()
}

func displayTitle(src researchmodel.ReportSource) string {
	if src.Title != "" {
		return src.Title
	}
	return src.URL
}
