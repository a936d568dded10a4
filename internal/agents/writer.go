package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/parser"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Writer composes the final cited report from the full research state. It
// must always return strict JSON semantics even when the LLM doesn't:
// parse failure triggers a repair pass, and repair failure triggers a
// raw-text synthesis fallback.
type Writer struct {
	LLM LLM
}

const writerSystemPrompt = `You write the final research report. Respond with strict JSON:
{"title": "...", "executive_summary": "...", "sections": [{"heading": "...", "content": "..."}],
"confidence_assessment": "..."}. Cite sources inline using markdown links in the form
[🔗 Title](URL) where URL is one of the source URLs from the findings. Respond with JSON only.`

const repairSystemPrompt = `The following text was supposed to be strict JSON matching a report
schema but failed to parse. Extract the same information and respond with ONLY valid JSON,
no commentary, no markdown fences.`

const repairTruncateChars = 12000

// Write produces the final Report for state.
func (w Writer) Write(ctx context.Context, state *researchmodel.ResearchState) researchmodel.Report {
	targetWords := researchmodel.ReportLengthWords(state.Options.ReportLength)

	planJSON, _ := json.Marshal(state.Plan)
	findingsJSON, _ := json.Marshal(state.Findings)
	userPrompt := fmt.Sprintf("Query: %s\nTarget length: ~%d words.\n\nPlan:\n%s\n\nFindings:\n%s",
		state.Query, targetWords, planJSON, findingsJSON)

	messages := []llmtransport.Message{
		{Role: "system", Content: writerSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	completion, err := w.LLM.ChatCompletion(ctx, messages, llmtransport.Options{
		ResponseFormat: llmtransport.ResponseFormatJSON,
	})

	var rawText string
	if err == nil {
		rawText = completion.Content
		if result := parser.Parse(rawText); result.Found() {
			return w.finalize(result, state)
		}
	}

	// Repair pass: a second call demanding strict JSON, seeded with the
	// first call's (truncated) output.
	truncated := rawText
	if len(truncated) > repairTruncateChars {
		truncated = truncated[:repairTruncateChars]
	}
	if truncated != "" {
		repairMessages := []llmtransport.Message{
			{Role: "system", Content: repairSystemPrompt},
			{Role: "user", Content: truncated},
		}
		repairCompletion, repairErr := w.LLM.ChatCompletion(ctx, repairMessages, llmtransport.Options{
			ResponseFormat: llmtransport.ResponseFormatJSON,
		})
		if repairErr == nil {
			if result := parser.Parse(repairCompletion.Content); result.Found() {
				return w.finalize(result, state)
			}
		}
	}

	// Final fallback: synthesize a minimal report from whatever raw text we have.
	return w.synthesizeFromRaw(rawText, state)
}

// finalize turns a parsed LLM response into a Report. It patches
// sources_used onto the raw JSON before decoding — forcing the
// authoritative, recomputed-from-findings value into the document rather
// than trusting whatever (possibly hallucinated) list the model produced
// — then decodes the whole document in one pass through encoding/json. If
// the model's JSON doesn't round-trip cleanly into researchmodel.Report
// (extra prose, wrong field types), it falls back to the original
// field-by-field gjson walk.
func (w Writer) finalize(result parser.Result, state *researchmodel.ResearchState) researchmodel.Report {
	patched, err := parser.SetField(result.Raw(), "sources_used", sourcesUsedFromFindings(state))
	if err != nil {
		patched = result.Raw()
	}

	var report researchmodel.Report
	if err := json.Unmarshal([]byte(patched), &report); err != nil {
		report = reportFromFields(result)
	}
	if report.Title == "" {
		report.Title = "Research Report: " + state.Query
	}
	return w.validateAndFinalize(report, state)
}

// reportFromFields rebuilds a Report field-by-field via gjson lookups;
// the fallback path when the model's JSON doesn't decode cleanly through
// encoding/json (extra prose, mismatched field types).
func reportFromFields(result parser.Result) researchmodel.Report {
	var sections []researchmodel.ReportSection
	for _, s := range result.Get("sections").Array() {
		sections = append(sections, researchmodel.ReportSection{
			Heading: s.Get("heading").String(),
			Content: s.Get("content").String(),
		})
	}
	return researchmodel.Report{
		Title:                result.Get("title").String(),
		ExecutiveSummary:     result.Get("executive_summary").String(),
		Sections:             sections,
		ConfidenceAssessment: result.Get("confidence_assessment").String(),
	}
}

// synthesizeFromRaw builds a minimal report when both the primary and
// repair calls failed to produce parseable JSON.
func (w Writer) synthesizeFromRaw(rawText string, state *researchmodel.ResearchState) researchmodel.Report {
	summary := rawText
	if len(summary) > 500 {
		summary = summary[:500]
	}
	report := researchmodel.Report{
		Title:                title(state.Query),
		ExecutiveSummary:     summary,
		Sections:             []researchmodel.ReportSection{{Heading: "Raw Output", Content: rawText}},
		ConfidenceAssessment: "Reduced confidence: the writer could not produce structured output and this report was synthesized from raw text.",
	}
	return w.validateAndFinalize(report, state)
}

func title(query string) string {
	return "Research Report: " + query
}

var (
	linkCitationRe    = regexp.MustCompile(`\[🔗 [^\]]*\]\(([^)]+)\)`)
	numericCitationRe = regexp.MustCompile(`\[(\d+)\]`)
)

// validateAndFinalize runs the citation validator over every section and
// the executive summary, then always recomputes sources_used from findings
// to guarantee the subset invariant.
func (w Writer) validateAndFinalize(report researchmodel.Report, state *researchmodel.ResearchState) researchmodel.Report {
	findingsByURL := state.FindingURLSet()

	var warnings []string
	report.ExecutiveSummary, warnings = validateCitations(report.ExecutiveSummary, findingsByURL, warnings)
	for i := range report.Sections {
		report.Sections[i].Content, warnings = validateCitations(report.Sections[i].Content, findingsByURL, warnings)
	}
	report.CitationValidationWarnings = warnings

	report.SourcesUsed = sourcesUsedFromFindings(state)
	report.WordCount = wordCount(report.ExecutiveSummary) + sectionsWordCount(report.Sections)

	return report
}

// validateCitations keeps markdown-link citations only if their URL is
// among findings, and converts numeric citations [N] to link form when N
// maps to a finding (1-indexed into the distinct finding URLs sorted by URL), else
// drops them and records a warning.
func validateCitations(content string, findingsByURL map[string]researchmodel.Finding, warnings []string) (string, []string) {
	content = linkCitationRe.ReplaceAllStringFunc(content, func(match string) string {
		sub := linkCitationRe.FindStringSubmatch(match)
		url := sub[1]
		if _, ok := findingsByURL[url]; ok {
			return match
		}
		return ""
	})

	orderedURLs := orderedFindingURLs(findingsByURL)
	content = numericCitationRe.ReplaceAllStringFunc(content, func(match string) string {
		sub := numericCitationRe.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > len(orderedURLs) {
			warnings = append(warnings, fmt.Sprintf("dropped numeric citation %s: no matching finding", match))
			return ""
		}
		url := orderedURLs[n-1]
		finding := findingsByURL[url]
		return fmt.Sprintf("[🔗 %s](%s)", finding.SourceInfo.Title, url)
	})

	return strings.TrimSpace(content), warnings
}

func orderedFindingURLs(findingsByURL map[string]researchmodel.Finding) []string {
	// Deterministic ordering is not guaranteed by map iteration; numeric
	// citations are a best-effort legacy path, so callers should prefer
	// markdown-link citations. We sort by URL for stability.
	urls := make([]string, 0, len(findingsByURL))
	for u := range findingsByURL {
		urls = append(urls, u)
	}
	for i := 1; i < len(urls); i++ {
		for j := i; j > 0 && urls[j-1] > urls[j]; j-- {
			urls[j-1], urls[j] = urls[j], urls[j-1]
		}
	}
	return urls
}

// sourcesUsedFromFindings recomputes sources_used from findings and the
// matching Source records in state, guaranteeing the subset invariant.
func sourcesUsedFromFindings(state *researchmodel.ResearchState) []researchmodel.ReportSource {
	byURL := make(map[string]researchmodel.Source, len(state.Sources))
	for _, s := range state.Sources {
		byURL[s.URL] = s
	}

	seen := map[string]bool{}
	var out []researchmodel.ReportSource
	for _, f := range state.Findings {
		if seen[f.SourceInfo.URL] {
			continue
		}
		seen[f.SourceInfo.URL] = true
		src, ok := byURL[f.SourceInfo.URL]
		if !ok {
			out = append(out, researchmodel.ReportSource{
				URL:         f.SourceInfo.URL,
				Title:       f.SourceInfo.Title,
				Reliability: f.SourceInfo.Reliability,
			})
			continue
		}
		out = append(out, researchmodel.ReportSource{
			ID:          src.ID,
			URL:         src.URL,
			Title:       src.Title,
			Domain:      src.Domain,
			Reliability: src.Reliability,
			Confidence:  src.Confidence,
		})
	}
	return out
}

func sectionsWordCount(sections []researchmodel.ReportSection) int {
	total := 0
	for _, s := range sections {
		total += wordCount(s.Content)
	}
	return total
}
