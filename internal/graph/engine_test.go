package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

func countingNode(name string, calls *[]string) NodeFunc {
	return func(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestRunFollowsUnconditionalEdges(t *testing.T) {
	var calls []string
	g := New()
	g.AddNode("a", countingNode("a", &calls))
	g.AddNode("b", countingNode("b", &calls))
	g.SetEntry("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)

	state := &researchmodel.ResearchState{}
	_, err := g.Run(context.Background(), state, time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestRunFollowsRouter(t *testing.T) {
	var calls []string
	g := New()
	g.AddNode("a", countingNode("a", &calls))
	g.AddNode("b", countingNode("b", &calls))
	g.AddNode("c", countingNode("c", &calls))
	g.SetEntry("a")
	g.AddRouter("a", func(state *researchmodel.ResearchState) string {
		return "go-c"
	}, map[string]string{"go-c": "c", "go-b": "b"})
	g.AddEdge("c", End)

	state := &researchmodel.ResearchState{}
	_, err := g.Run(context.Background(), state, time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, calls)
}

func TestRunNodeErrorSetsStatusError(t *testing.T) {
	g := New()
	g.AddNode("a", func(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
		return errors.New("boom")
	})
	g.SetEntry("a")
	g.AddEdge("a", End)

	var emitted []researchmodel.EventType
	state := &researchmodel.ResearchState{}
	_, err := g.Run(context.Background(), state, time.Second, func(t researchmodel.EventType, msg string, f map[string]any) {
		emitted = append(emitted, t)
	})
	require.Error(t, err)
	assert.Equal(t, researchmodel.StatusError, state.Status)
	assert.Equal(t, "boom", state.Error)
	assert.Contains(t, emitted, researchmodel.EventResearchError)
}

func TestRunTimeout(t *testing.T) {
	g := New()
	g.AddNode("a", func(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return nil
		}
	})
	g.SetEntry("a")
	g.AddEdge("a", End)

	state := &researchmodel.ResearchState{}
	_, err := g.Run(context.Background(), state, 10*time.Millisecond, NoopEmit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, researchmodel.StatusError, state.Status)
	assert.Contains(t, state.Error, "timed out after")
}

func TestRunCancellationMarksStopped(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := New()
	g.AddNode("a", func(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	g.SetEntry("a")
	g.AddEdge("a", End)

	state := &researchmodel.ResearchState{}
	_, err := g.Run(parent, state, time.Second, NoopEmit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, state.IsStopped)
	assert.NotEqual(t, researchmodel.StatusError, state.Status)
}

func TestRunCheckpointCalledAfterEachNode(t *testing.T) {
	var checkpoints int
	g := New()
	g.AddNode("a", countingNode("a", &[]string{}))
	g.AddNode("b", countingNode("b", &[]string{}))
	g.SetEntry("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)
	g.SetCheckpoint(func(ctx context.Context, state *researchmodel.ResearchState) error {
		checkpoints++
		return nil
	})

	_, err := g.Run(context.Background(), &researchmodel.ResearchState{}, time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, 2, checkpoints)
}

type spyMetrics struct {
	nodeRuns    map[string]int
	finderRetry int
}

func (s *spyMetrics) RecordNodeRun(node string, _ time.Duration) {
	if s.nodeRuns == nil {
		s.nodeRuns = map[string]int{}
	}
	s.nodeRuns[node]++
}

func (s *spyMetrics) RecordFinderRetry() { s.finderRetry++ }

func TestRunRecordsNodeMetrics(t *testing.T) {
	g := New()
	g.AddNode("a", countingNode("a", &[]string{}))
	g.AddNode("b", countingNode("b", &[]string{}))
	g.SetEntry("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)

	metrics := &spyMetrics{}
	g.SetMetrics(metrics)

	_, err := g.Run(context.Background(), &researchmodel.ResearchState{}, time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.nodeRuns["a"])
	assert.Equal(t, 1, metrics.nodeRuns["b"])
}

func TestRunRecordsFinderRetryMetric(t *testing.T) {
	g := New()
	g.AddNode("summarizer", countingNode("summarizer", &[]string{}))
	g.AddNode("finder", countingNode("finder", &[]string{}))
	g.SetEntry("summarizer")
	g.AddRouter("summarizer", func(state *researchmodel.ResearchState) string {
		if !state.NeedsFinderRetry {
			return LabelContinue
		}
		state.NeedsFinderRetry = false
		return LabelRetryFinder
	}, map[string]string{LabelRetryFinder: "finder", LabelContinue: End})
	g.AddEdge("finder", "summarizer")

	metrics := &spyMetrics{}
	g.SetMetrics(metrics)

	state := &researchmodel.ResearchState{NeedsFinderRetry: true}
	_, err := g.Run(context.Background(), state, time.Second, NoopEmit)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.finderRetry)
}

func TestRouterAFinderRetryCap(t *testing.T) {
	state := &researchmodel.ResearchState{NeedsFinderRetry: true, FinderRetryCount: 0}
	assert.Equal(t, LabelRetryFinder, RouterA(state))
	assert.Equal(t, 1, state.FinderRetryCount)

	state.FinderRetryCount = 1
	assert.Equal(t, LabelRetryFinder, RouterA(state))
	assert.Equal(t, 2, state.FinderRetryCount)

	// cap reached: no further retries even though needs_finder_retry is still set
	assert.Equal(t, LabelContinue, RouterA(state))
}

func TestRouterBMaxIterations(t *testing.T) {
	state := &researchmodel.ResearchState{
		Iteration: 3,
		Options:   researchmodel.Options{MaxIterations: 3},
		Gaps:      &researchmodel.GapReport{HasGaps: true},
	}
	assert.Equal(t, LabelWriter, RouterB(state))
}

func TestRouterBNoGaps(t *testing.T) {
	state := &researchmodel.ResearchState{
		Iteration: 1,
		Options:   researchmodel.Options{MaxIterations: 3},
		Gaps:      &researchmodel.GapReport{HasGaps: false},
	}
	assert.Equal(t, LabelWriter, RouterB(state))
}

func TestRouterBLoopsOnGaps(t *testing.T) {
	state := &researchmodel.ResearchState{
		Iteration: 1,
		Options:   researchmodel.Options{MaxIterations: 3},
		Gaps:      &researchmodel.GapReport{HasGaps: true},
	}
	assert.Equal(t, LabelContinue, RouterB(state))
}
