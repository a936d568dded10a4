// Package graph implements the small fixed-topology executor that
// sequences the five agent nodes and evaluates the two conditional
// routers, checkpointing state after every node. It is grounded on the
// teacher's workflow.ExecutionContext/BaseExecutor shape (shared mutable
// state, status tracking, sequential execution over a registry) with the
// dynamic DAG/autonomous dispatch trimmed down to one fixed topology,
// since the spec explicitly rules out a general workflow DSL.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/deepresearch/internal/obslog"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// End is the sentinel successor name that terminates a run.
const End = "__end__"

// EmitFunc is the event-emission hook installed by the Session Manager;
// every node calls it to report progress. Graph-level terminal events
// (research_error on exception or timeout) are emitted by the engine
// itself through the same hook.
type EmitFunc func(eventType researchmodel.EventType, message string, fields map[string]any)

// NoopEmit discards every event; useful in tests that don't assert on the
// event stream.
func NoopEmit(researchmodel.EventType, string, map[string]any) {}

// NodeFunc is one async graph node: a function from (context, state) that
// mutates state in place and returns an error only on an unrecoverable
// failure (agents themselves never return errors for malformed LLM output
// — only the typed defaults described in internal/parser and internal/agents).
type NodeFunc func(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error

// RouterFunc evaluates state after its source node ran and returns the
// label of the edge to follow.
type RouterFunc func(state *researchmodel.ResearchState) string

// Checkpointer persists a post-node snapshot of state, keyed by session id
// inside state itself. Run ignores checkpoint errors; they are not fatal — per
// spec §9, a checkpoint "can be inspected" but resumption is not required.
type Checkpointer func(ctx context.Context, state *researchmodel.ResearchState) error

// MetricsRecorder is the slice of obslog.Metrics the engine and its
// routers drive: per-node timing and the finder-retry loop counter.
type MetricsRecorder interface {
	RecordNodeRun(node string, d time.Duration)
	RecordFinderRetry()
}

// noopMetrics discards everything; the default until SetMetrics is called.
type noopMetrics struct{}

func (noopMetrics) RecordNodeRun(string, time.Duration) {}
func (noopMetrics) RecordFinderRetry()                  {}

// Graph is a node registry plus an outgoing-edge table (unconditional or
// router-dispatched) and an entry point.
type Graph struct {
	entry       string
	nodes       map[string]NodeFunc
	edges       map[string]string
	routers     map[string]RouterFunc
	routerEdges map[string]map[string]string
	checkpoint  Checkpointer
	metrics     MetricsRecorder
}

// New builds an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:       map[string]NodeFunc{},
		edges:       map[string]string{},
		routers:     map[string]RouterFunc{},
		routerEdges: map[string]map[string]string{},
		metrics:     noopMetrics{},
	}
}

// AddNode registers a node under name.
func (g *Graph) AddNode(name string, fn NodeFunc) { g.nodes[name] = fn }

// SetEntry designates the first node run.
func (g *Graph) SetEntry(name string) { g.entry = name }

// AddEdge adds an unconditional edge from -> to. to may be End.
func (g *Graph) AddEdge(from, to string) { g.edges[from] = to }

// AddRouter installs a conditional router for the node named from: after
// from runs, router(state) is evaluated and its return value looked up in
// labelToNode to determine the next node (or End).
func (g *Graph) AddRouter(from string, router RouterFunc, labelToNode map[string]string) {
	g.routers[from] = router
	g.routerEdges[from] = labelToNode
}

// SetCheckpoint installs the post-node persistence hook.
func (g *Graph) SetCheckpoint(fn Checkpointer) { g.checkpoint = fn }

// SetMetrics installs the metrics recorder driven by Run's per-node timing
// and by RouterA's retry branch.
func (g *Graph) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = noopMetrics{}
	}
	g.metrics = m
}

// Run executes the graph starting at the entry node, sequentially awaiting
// each node to completion, checking cancellation before every node and
// checkpointing state after every node. The whole run is bounded by
// timeout; on expiry the returned state carries status=error and
// error="timed out after Ns". A canceled parent context (session stop)
// is distinguished from the engine's own deadline: the caller can tell
// them apart via errors.Is(err, context.Canceled).
func (g *Graph) Run(ctx context.Context, state *researchmodel.ResearchState, timeout time.Duration, emit EmitFunc) (*researchmodel.ResearchState, error) {
	if emit == nil {
		emit = NoopEmit
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	current := g.entry
	for {
		if err := runCtx.Err(); err != nil {
			return g.terminal(state, err, timeout, emit), err
		}

		fn, ok := g.nodes[current]
		if !ok {
			err := fmt.Errorf("graph: unknown node %q", current)
			state.Status = researchmodel.StatusError
			state.Error = err.Error()
			emit(researchmodel.EventResearchError, err.Error(), nil)
			return state, err
		}

		nodeCtx, span := obslog.Tracer("deepresearch/graph").Start(runCtx, obslog.SpanGraphNode,
			trace.WithAttributes(attribute.String(obslog.AttrNodeName, current)),
		)
		nodeStart := time.Now()
		nodeErr := fn(nodeCtx, state, emit)
		g.metrics.RecordNodeRun(current, time.Since(nodeStart))
		if nodeErr != nil {
			span.RecordError(nodeErr)
			span.SetStatus(codes.Error, nodeErr.Error())
		}
		span.End()

		if nodeErr != nil {
			if ctxErr := runCtx.Err(); ctxErr != nil {
				return g.terminal(state, ctxErr, timeout, emit), ctxErr
			}
			state.Status = researchmodel.StatusError
			state.Error = nodeErr.Error()
			emit(researchmodel.EventResearchError, nodeErr.Error(), nil)
			return state, nodeErr
		}

		if g.checkpoint != nil {
			_ = g.checkpoint(runCtx, state) // checkpoint failure is non-fatal; state remains inspectable in memory
		}

		next, err := g.next(current, state)
		if err != nil {
			state.Status = researchmodel.StatusError
			state.Error = err.Error()
			emit(researchmodel.EventResearchError, err.Error(), nil)
			return state, err
		}
		if next == End {
			return state, nil
		}
		current = next
	}
}

func (g *Graph) next(current string, state *researchmodel.ResearchState) (string, error) {
	if router, ok := g.routers[current]; ok {
		label := router(state)
		if label == LabelRetryFinder {
			g.metrics.RecordFinderRetry()
		}
		next, ok := g.routerEdges[current][label]
		if !ok {
			return "", fmt.Errorf("graph: router at %q returned unknown label %q", current, label)
		}
		return next, nil
	}
	next, ok := g.edges[current]
	if !ok {
		return "", fmt.Errorf("graph: no outgoing edge from %q", current)
	}
	return next, nil
}

// terminal classifies a context error into the state's terminal shape. A
// self-imposed deadline becomes status=error with the documented message;
// an externally canceled context (the session's stop) is reported as-is
// and left for the Session Manager to translate into status=stopped —
// the engine does not know "stopped" as a status of its own.
func (g *Graph) terminal(state *researchmodel.ResearchState, err error, timeout time.Duration, emit EmitFunc) *researchmodel.ResearchState {
	if errors.Is(err, context.DeadlineExceeded) {
		state.Status = researchmodel.StatusError
		state.Error = fmt.Sprintf("timed out after %ds", int(timeout.Seconds()))
		emit(researchmodel.EventResearchError, state.Error, nil)
		return state
	}
	// context.Canceled: the caller's stop signal. Mark is_stopped so the
	// Session Manager's classification (is_stopped=true -> stopped
	// snapshot + research_stopped) has what it needs without re-deriving
	// it from the error value.
	state.IsStopped = true
	return state
}
