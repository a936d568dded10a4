package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/parser"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Reviewer assesses whether plan coverage and finding depth are sufficient.
// It enables LLM reasoning.
type Reviewer struct {
	LLM LLM
}

const reviewerSystemPrompt = `You review research progress. Given the plan and findings so far,
decide whether there are coverage gaps. Respond with JSON:
{"has_gaps": bool, "gaps": ["..."], "recommendations": ["..."], "confidence": 0.0-1.0}.
Respond with JSON only, no commentary.`

// Review runs the reviewer over the current plan/findings.
func (r Reviewer) Review(ctx context.Context, plan []researchmodel.SubQuestion, findings []researchmodel.Finding, iteration, maxIterations int) researchmodel.GapReport {
	planJSON, _ := json.Marshal(plan)
	findingsJSON, _ := json.Marshal(findings)

	userPrompt := fmt.Sprintf("Iteration %d of %d.\n\nPlan:\n%s\n\nFindings:\n%s",
		iteration, maxIterations, planJSON, findingsJSON)

	messages := []llmtransport.Message{
		{Role: "system", Content: reviewerSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	completion, err := r.LLM.ChatCompletion(ctx, messages, llmtransport.Options{
		EnableThinking: true,
		ResponseFormat: llmtransport.ResponseFormatJSON,
	})
	if err != nil {
		return DefaultGapReport()
	}

	result := parser.Parse(completion.Content)
	if !result.Found() {
		return DefaultGapReport()
	}

	var gaps, recommendations []string
	for _, g := range result.Get("gaps").Array() {
		if s := g.String(); s != "" {
			gaps = append(gaps, s)
		}
	}
	for _, rec := range result.Get("recommendations").Array() {
		if s := rec.String(); s != "" {
			recommendations = append(recommendations, s)
		}
	}

	return researchmodel.GapReport{
		HasGaps:         result.Get("has_gaps").Bool(),
		Gaps:            gaps,
		Recommendations: recommendations,
		Confidence:      result.Get("confidence").Float(),
	}
}

// DefaultGapReport is the reviewer's typed default on parse failure: a
// conservative "treat as done" result, so a malformed review never traps
// the session in an infinite iteration loop.
func DefaultGapReport() researchmodel.GapReport {
	return researchmodel.GapReport{HasGaps: false, Confidence: 0}
}
