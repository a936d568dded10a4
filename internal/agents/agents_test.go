package agents

import (
	"context"
	"errors"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
)

// fakeLLM returns canned completions in order, or repeats the last one.
type fakeLLM struct {
	responses []llmtransport.Completion
	errs      []error
	calls     int
}

func (f *fakeLLM) ChatCompletion(ctx context.Context, messages []llmtransport.Message, opts llmtransport.Options) (llmtransport.Completion, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return llmtransport.Completion{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) == 0 {
		return llmtransport.Completion{}, errors.New("fakeLLM: no responses configured")
	}
	return f.responses[len(f.responses)-1], nil
}

func content(s string) llmtransport.Completion { return llmtransport.Completion{Content: s} }
