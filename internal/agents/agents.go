// Package agents implements the five prompt-driven pipeline stages:
// planner, source finder, summarizer, reviewer, and writer. Each is a pure
// function of (context, input state) to a typed output, built from a
// prompt template and one or more LLM calls, and each must never return an
// error for malformed LLM output — only a typed default.
package agents

import (
	"context"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
)

// LLM is the subset of llmtransport.Client every agent depends on.
type LLM interface {
	ChatCompletion(ctx context.Context, messages []llmtransport.Message, opts llmtransport.Options) (llmtransport.Completion, error)
}
