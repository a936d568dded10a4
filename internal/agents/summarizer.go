package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/parser"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Summarizer compresses one fetched source into a Finding. It never enables
// LLM reasoning.
type Summarizer struct {
	LLM LLM
}

const summarizerSystemPrompt = `You summarize source text for a research sub-question.
Respond with JSON: {"summary": "...", "key_facts": ["...", "..."]}. Extract only facts
directly relevant to the sub-question. Respond with JSON only, no commentary.`

var (
	htmlTagRe  = regexp.MustCompile(`<[^>]+>`)
	urlRe      = regexp.MustCompile(`https?://\S+`)
	whitespace = regexp.MustCompile(`\s+`)
)

const maxContentChars = 8000

// cleanContent collapses whitespace, strips HTML tags, and replaces raw
// URLs with a placeholder so they don't pollute the LLM's summary.
func cleanContent(raw string) string {
	cleaned := htmlTagRe.ReplaceAllString(raw, " ")
	cleaned = urlRe.ReplaceAllString(cleaned, "[link]")
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > maxContentChars {
		cleaned = cleaned[:maxContentChars]
	}
	return cleaned
}

// Summarize produces a Finding for one source against one sub-question.
func (s Summarizer) Summarize(ctx context.Context, sq researchmodel.SubQuestion, source researchmodel.Source, rawContent string) researchmodel.Finding {
	cleaned := cleanContent(rawContent)
	originalWords := wordCount(cleaned)

	userPrompt := fmt.Sprintf("Sub-question: %s\nSource: %s (%s)\n\nContent:\n%s",
		sq.Question, source.Title, source.URL, cleaned)

	messages := []llmtransport.Message{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	completion, err := s.LLM.ChatCompletion(ctx, messages, llmtransport.Options{
		EnableThinking: false,
		ResponseFormat: llmtransport.ResponseFormatJSON,
	})
	if err != nil {
		return DefaultFinding(sq, source, cleaned, originalWords)
	}

	result := parser.Parse(completion.Content)
	if !result.Found() {
		return DefaultFinding(sq, source, cleaned, originalWords)
	}

	summary := result.Get("summary").String()
	if summary == "" {
		return DefaultFinding(sq, source, cleaned, originalWords)
	}

	var keyFacts []string
	for _, kf := range result.Get("key_facts").Array() {
		if f := kf.String(); f != "" {
			keyFacts = append(keyFacts, f)
		}
	}

	summaryWords := wordCount(summary)
	return researchmodel.Finding{
		SubQuestionID: sq.ID,
		SourceInfo: researchmodel.SourceInfo{
			URL:         source.URL,
			Title:       source.Title,
			Reliability: source.Reliability,
		},
		Summary:          summary,
		KeyFacts:         keyFacts,
		RelevanceScore:   source.Confidence,
		CompressionRatio: compressionRatio(originalWords, summaryWords),
		WordCount:        researchmodel.WordCount{Original: originalWords, Summary: summaryWords},
	}
}

// DefaultFinding is the summarizer's typed default on parse failure: the
// first 300 characters of the cleaned content, with no key facts — which
// in turn triggers needs_finder_retry via the zero-key-facts rule.
func DefaultFinding(sq researchmodel.SubQuestion, source researchmodel.Source, cleaned string, originalWords int) researchmodel.Finding {
	summary := cleaned
	if len(summary) > 300 {
		summary = summary[:300]
	}
	summaryWords := wordCount(summary)
	return researchmodel.Finding{
		SubQuestionID: sq.ID,
		SourceInfo: researchmodel.SourceInfo{
			URL:         source.URL,
			Title:       source.Title,
			Reliability: source.Reliability,
		},
		Summary:          summary,
		KeyFacts:         nil,
		RelevanceScore:   source.Confidence,
		CompressionRatio: compressionRatio(originalWords, summaryWords),
		WordCount:        researchmodel.WordCount{Original: originalWords, Summary: summaryWords},
	}
}

func wordCount(s string) int {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	return len(strings.Fields(s))
}

func compressionRatio(original, summary int) float64 {
	if original == 0 {
		return 0
	}
	return float64(summary) / float64(original)
}
