package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/internal/agents"
	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
	"github.com/kadirpekel/deepresearch/internal/websearch"
)

type fakeLLM struct {
	responses []llmtransport.Completion
	calls     int
}

func (f *fakeLLM) ChatCompletion(ctx context.Context, messages []llmtransport.Message, opts llmtransport.Options) (llmtransport.Completion, error) {
	i := f.calls
	f.calls++
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type fakeSearch struct{}

func (fakeSearch) Search(ctx context.Context, query string, limit int) ([]websearch.SearchResult, error) {
	return []websearch.SearchResult{
		{URL: "https://a.example.com/1", Title: "A1"},
		{URL: "https://a.example.com/2", Title: "A2"},
		{URL: "https://b.example.com/1", Title: "B1"},
	}, nil
}

// retrySearch returns a fresh batch of URLs on each call, simulating a
// finder retry turning up different sources than the first pass.
type retrySearch struct{ calls int }

func (s *retrySearch) Search(ctx context.Context, query string, limit int) ([]websearch.SearchResult, error) {
	s.calls++
	return []websearch.SearchResult{
		{URL: "https://batch" + string(rune('0'+s.calls)) + ".example.com/1", Title: "R1"},
	}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, rawURL string) websearch.FetchResult {
	return websearch.FetchResult{URL: rawURL, Title: "fetched", Content: "Some fetched content about the topic with real facts."}
}

func TestHappyPathEndToEnd(t *testing.T) {
	plannerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `[{"id":"sq-001","question":"What is quantum networking?"}]`},
	}}
	finderLLM := &fakeLLM{responses: []llmtransport.Completion{{Content: `["quantum networking basics"]`}}}
	summarizerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"summary":"Quantum networking links quantum devices.","key_facts":["uses entanglement","enables QKD"]}`},
	}}
	reviewerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"has_gaps":false,"gaps":[],"recommendations":[],"confidence":0.9}`},
	}}
	writerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"title":"Quantum Networking Landscape","executive_summary":"Overview [🔗 A1](https://a.example.com/1).","sections":[{"heading":"Findings","content":"Entanglement enables secure links."}],"confidence_assessment":"High confidence."}`},
	}}

	nodes := Nodes{
		Planner:    agents.Planner{LLM: plannerLLM},
		Finder:     agents.Finder{LLM: finderLLM, Search: fakeSearch{}},
		Summarizer: agents.Summarizer{LLM: summarizerLLM},
		Reviewer:   agents.Reviewer{LLM: reviewerLLM},
		Writer:     agents.Writer{LLM: writerLLM},
		Fetcher:    fakeFetcher{},
	}

	g := nodes.Build(nil)
	state := &researchmodel.ResearchState{
		Query:     "Quantum networking landscape",
		SessionID: "sess-happy",
		Options:   researchmodel.NewDefaultOptions(),
		StartedAt: time.Now(),
	}

	result, err := g.Run(context.Background(), state, 5*time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iteration)
	assert.NotEmpty(t, result.Plan)
	assert.NotEmpty(t, result.Findings)
	require.NotNil(t, result.FinalReport)
	assert.Greater(t, result.FinalReport.WordCount, 0)
	assert.NotEmpty(t, result.FinalReport.SourcesUsed)

	for _, src := range result.FinalReport.SourcesUsed {
		found := false
		for _, f := range result.Findings {
			if f.SourceInfo.URL == src.URL {
				found = true
			}
		}
		assert.True(t, found, "sources_used must be a subset of finding URLs")
	}
}

func TestIterationLoopRunsTwoPlannerInvocations(t *testing.T) {
	plannerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `[{"id":"sq-001","question":"First pass question"}]`},
		{Content: `[{"id":"sq-001","question":"Second pass question"}]`},
	}}
	finderLLM := &fakeLLM{responses: []llmtransport.Completion{{Content: `["q"]`}}}
	summarizerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"summary":"s","key_facts":["fact"]}`},
	}}
	reviewerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"has_gaps":true,"gaps":["missing depth"],"recommendations":["dig deeper"],"confidence":0.4}`},
		{Content: `{"has_gaps":false,"gaps":[],"recommendations":[],"confidence":0.9}`},
	}}
	writerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"title":"T","executive_summary":"E","sections":[],"confidence_assessment":"ok"}`},
	}}

	nodes := Nodes{
		Planner:    agents.Planner{LLM: plannerLLM},
		Finder:     agents.Finder{LLM: finderLLM, Search: fakeSearch{}},
		Summarizer: agents.Summarizer{LLM: summarizerLLM},
		Reviewer:   agents.Reviewer{LLM: reviewerLLM},
		Writer:     agents.Writer{LLM: writerLLM},
		Fetcher:    fakeFetcher{},
	}

	g := nodes.Build(nil)
	state := &researchmodel.ResearchState{
		Query:   "topic",
		Options: researchmodel.Options{MaxIterations: 2, MaxSources: 12, MaxSourcesPerQuestion: 4, SearchResultsPerQuery: 5, SourceDiversity: true, SummarizerSourceLimit: 6, ReportLength: researchmodel.ReportMedium},
	}

	result, err := g.Run(context.Background(), state, 5*time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, 2, plannerLLM.calls)
	assert.Equal(t, 2, result.Iteration)
	require.NotNil(t, result.FinalReport)
}

func TestFinderRetryLoopsOnZeroKeyFacts(t *testing.T) {
	plannerLLM := &fakeLLM{responses: []llmtransport.Completion{{Content: `[{"id":"sq-001","question":"q"}]`}}}
	finderLLM := &fakeLLM{responses: []llmtransport.Completion{{Content: `["q"]`}}}
	// First pass extracts no key facts at all, which triggers exactly one
	// finder retry; the retry turns up a new source and the second pass
	// extracts a real fact, ending the loop with finder_retry_count=1.
	summarizerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"summary":"s1","key_facts":[]}`},
		{Content: `{"summary":"s2","key_facts":["real fact"]}`},
	}}
	reviewerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"has_gaps":false,"gaps":[],"recommendations":[],"confidence":0.8}`},
	}}
	writerLLM := &fakeLLM{responses: []llmtransport.Completion{
		{Content: `{"title":"T","executive_summary":"E","sections":[],"confidence_assessment":"ok"}`},
	}}

	var events []researchmodel.EventType
	nodes := Nodes{
		Planner:    agents.Planner{LLM: plannerLLM},
		Finder:     agents.Finder{LLM: finderLLM, Search: &retrySearch{}},
		Summarizer: agents.Summarizer{LLM: summarizerLLM},
		Reviewer:   agents.Reviewer{LLM: reviewerLLM},
		Writer:     agents.Writer{LLM: writerLLM},
		Fetcher:    fakeFetcher{},
	}
	g := nodes.Build(nil)
	state := &researchmodel.ResearchState{
		Query:   "topic",
		Options: researchmodel.Options{MaxIterations: 3, MaxSources: 12, MaxSourcesPerQuestion: 4, SearchResultsPerQuery: 5, SourceDiversity: true, SummarizerSourceLimit: 6, ReportLength: researchmodel.ReportMedium},
	}

	result, err := g.Run(context.Background(), state, 5*time.Second, func(t researchmodel.EventType, msg string, f map[string]any) {
		events = append(events, t)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FinderRetryCount)
	assert.Contains(t, events, researchmodel.EventSummarizerRetry)
	assert.Contains(t, events, researchmodel.EventReviewerRunning)
}
