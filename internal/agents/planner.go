package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/parser"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Planner derives 3-7 atomic sub-questions from the user query.
type Planner struct {
	LLM LLM
}

const plannerSystemPrompt = `You are a research planner. Given a query, break it into 3 to 7
atomic sub-questions that together cover the topic. Respond with a JSON array of objects,
each with "id" (format "sq-NNN", zero-padded, starting at sq-001) and "question". Respond
with JSON only, no commentary.`

// Plan invokes the planner. On iteration > 1 with gap recommendations
// present, the query is augmented with the top-3 recommendations.
func (p Planner) Plan(ctx context.Context, query string, sessionMemory []string, recommendations []string) []researchmodel.SubQuestion {
	userPrompt := query
	if len(recommendations) > 0 {
		top := recommendations
		if len(top) > 3 {
			top = top[:3]
		}
		userPrompt = fmt.Sprintf("%s\n\nAddress these gaps from the previous iteration:\n- %s",
			query, strings.Join(top, "\n- "))
	}
	if len(sessionMemory) > 0 {
		userPrompt = fmt.Sprintf("%s\n\nContext from prior completed research:\n%s",
			userPrompt, strings.Join(sessionMemory, "\n---\n"))
	}

	messages := []llmtransport.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	completion, err := p.LLM.ChatCompletion(ctx, messages, llmtransport.Options{
		ResponseFormat: llmtransport.ResponseFormatJSON,
	})
	if err != nil {
		return DefaultSubQuestions(query)
	}

	result := parser.Parse(completion.Content)
	if !result.Found() {
		return DefaultSubQuestions(query)
	}

	// The root value may itself be the array, or it may be nested under a
	// key like "sub_questions"/"questions" if the model wrapped it.
	items := result.Array()
	if len(items) == 0 {
		items = result.Get("sub_questions").Array()
	}
	if len(items) == 0 {
		items = result.Get("questions").Array()
	}
	if len(items) == 0 {
		return DefaultSubQuestions(query)
	}

	out := make([]researchmodel.SubQuestion, 0, len(items))
	for i, item := range items {
		if i >= 7 {
			break
		}
		id := item.Get("id").String()
		if id == "" {
			id = fmt.Sprintf("sq-%03d", i+1)
		}
		question := item.Get("question").String()
		if question == "" {
			continue
		}
		out = append(out, researchmodel.SubQuestion{
			ID:       id,
			Question: question,
			Status:   researchmodel.SubQuestionPending,
		})
	}

	if len(out) == 0 {
		return DefaultSubQuestions(query)
	}
	return out
}

// DefaultSubQuestions is the planner's typed default: a single sub-question
// restating the raw query, so the graph always has something to pursue.
func DefaultSubQuestions(query string) []researchmodel.SubQuestion {
	return []researchmodel.SubQuestion{
		{ID: "sq-001", Question: query, Status: researchmodel.SubQuestionPending},
	}
}
