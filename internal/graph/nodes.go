package graph

import (
	"context"
	"time"

	"github.com/kadirpekel/deepresearch/internal/agents"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
	"github.com/kadirpekel/deepresearch/internal/websearch"
)

// Nodes bundles the five agents and their external collaborators into the
// NodeFunc closures that Build wires into a Graph. Keeping the agents as
// plain fields (rather than a generic "agent registry") matches the
// spec's fixed topology: there is no dynamic node discovery to support.
type Nodes struct {
	Planner    agents.Planner
	Finder     agents.Finder
	Summarizer agents.Summarizer
	Reviewer   agents.Reviewer
	Writer     agents.Writer
	Fetcher    websearch.Fetcher
}

// Build wires a fresh Graph over n's agents, with the fixed topology:
//
//	planner -> finder -> summarizer -> (router A) -> reviewer -> (router B) -> writer -> END
//	                                    retry_finder -> finder         continue -> planner
func (n Nodes) Build(checkpoint Checkpointer) *Graph {
	g := New()
	g.AddNode(NodePlanner, n.plannerNode)
	g.AddNode(NodeFinder, n.finderNode)
	g.AddNode(NodeSummarizer, n.summarizerNode)
	g.AddNode(NodeReviewer, n.reviewerNode)
	g.AddNode(NodeWriter, n.writerNode)

	g.SetEntry(NodePlanner)
	g.AddEdge(NodePlanner, NodeFinder)
	g.AddEdge(NodeFinder, NodeSummarizer)
	g.AddRouter(NodeSummarizer, RouterA, map[string]string{
		LabelRetryFinder: NodeFinder,
		LabelContinue:    NodeReviewer,
	})
	g.AddRouter(NodeReviewer, RouterB, map[string]string{
		LabelContinue: NodePlanner,
		LabelWriter:   NodeWriter,
	})
	g.AddEdge(NodeWriter, End)
	g.SetCheckpoint(checkpoint)
	return g
}

func (n Nodes) plannerNode(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
	state.Iteration++
	emit(researchmodel.EventPlannerRunning, "planning sub-questions", map[string]any{"iteration": state.Iteration})

	var recommendations []string
	if state.Iteration > 1 && state.Gaps != nil {
		recommendations = state.Gaps.Recommendations
	}

	state.Plan = n.Planner.Plan(ctx, state.Query, state.SessionMemory, recommendations)
	for i := range state.Plan {
		state.Plan[i].Status = researchmodel.SubQuestionPending
	}

	emit(researchmodel.EventPlannerComplete, "plan ready", map[string]any{"sub_question_count": len(state.Plan)})
	return nil
}

func (n Nodes) finderNode(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
	emit(researchmodel.EventFinderRunning, "finding sources", nil)

	seen := make(map[string]bool, len(state.Sources))
	for _, s := range state.Sources {
		seen[s.URL] = true
	}

	for i := range state.Plan {
		sq := &state.Plan[i]
		// Pending sub-questions are searched for the first time; Researching
		// ones are revisited on a finder retry (Router A), since the retry
		// signal means the sources found so far yielded no usable facts.
		if sq.Status != researchmodel.SubQuestionPending && sq.Status != researchmodel.SubQuestionResearching {
			continue
		}
		if len(state.Sources) >= state.Options.MaxSources {
			break
		}

		found := n.Finder.FindSources(ctx, *sq, state.Options)
		for _, src := range found {
			if seen[src.URL] {
				continue
			}
			if len(state.Sources) >= state.Options.MaxSources {
				break
			}
			seen[src.URL] = true
			state.Sources = append(state.Sources, src)
			emit(researchmodel.EventFinderSource, src.Title, map[string]any{
				"sub_question_id": sq.ID, "url": src.URL, "domain": src.Domain,
			})
		}
		sq.Status = researchmodel.SubQuestionResearching
	}

	emit(researchmodel.EventFinderComplete, "source finding complete", map[string]any{"source_count": len(state.Sources)})
	return nil
}

func (n Nodes) summarizerNode(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
	isRetry := state.FinderRetryCount > 0
	if isRetry {
		emit(researchmodel.EventSummarizerRetry, "re-summarizing after finder retry", map[string]any{"retry_count": state.FinderRetryCount})
	} else {
		emit(researchmodel.EventSummarizerRunning, "summarizing sources", nil)
	}

	haveFinding := make(map[string]bool, len(state.Findings))
	for _, f := range state.Findings {
		haveFinding[f.SourceInfo.URL] = true
	}

	sqByID := make(map[string]*researchmodel.SubQuestion, len(state.Plan))
	for i := range state.Plan {
		sqByID[state.Plan[i].ID] = &state.Plan[i]
	}

	processed := 0
	anyKeyFacts := false
	for i := range state.Sources {
		src := &state.Sources[i]
		if haveFinding[src.URL] {
			continue
		}
		if processed >= state.Options.SummarizerSourceLimit {
			break
		}
		processed++

		emit(researchmodel.EventSummarizerFetch, src.URL, map[string]any{"sub_question_id": src.SubQuestionID})
		result := n.Fetcher.Fetch(ctx, src.URL)
		if !result.Failed {
			src.Content = result.Content
			if src.Title == "" {
				src.Title = result.Title
			}
		}

		sq := researchmodel.SubQuestion{ID: src.SubQuestionID}
		if existing, ok := sqByID[src.SubQuestionID]; ok {
			sq = *existing
		}

		finding := n.Summarizer.Summarize(ctx, sq, *src, src.Content)
		state.Findings = append(state.Findings, finding)
		// Only a finding with key facts resolves the sub-question; a
		// zero-fact finding leaves it Researching so a finder retry (Router
		// A) revisits it with a fresh search instead of treating it as done.
		if len(finding.KeyFacts) > 0 {
			anyKeyFacts = true
			if existing, ok := sqByID[src.SubQuestionID]; ok {
				existing.Status = researchmodel.SubQuestionCompleted
			}
		}
	}

	state.NeedsFinderRetry = processed > 0 && !anyKeyFacts

	emit(researchmodel.EventSummarizerComplete, "summarization complete", map[string]any{
		"finding_count": len(state.Findings), "needs_finder_retry": state.NeedsFinderRetry,
	})
	return nil
}

func (n Nodes) reviewerNode(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
	emit(researchmodel.EventReviewerRunning, "reviewing coverage", map[string]any{"iteration": state.Iteration})

	gaps := n.Reviewer.Review(ctx, state.Plan, state.Findings, state.Iteration, state.Options.MaxIterations)
	state.Gaps = &gaps

	emit(researchmodel.EventReviewerComplete, "review complete", map[string]any{
		"has_gaps": gaps.HasGaps, "confidence": gaps.Confidence,
	})
	return nil
}

func (n Nodes) writerNode(ctx context.Context, state *researchmodel.ResearchState, emit EmitFunc) error {
	emit(researchmodel.EventWriterRunning, "writing report", nil)

	report := n.Writer.Write(ctx, state)
	state.FinalReport = &report

	emit(researchmodel.EventWriterComplete, "report ready", map[string]any{
		"word_count": report.WordCount, "title": report.Title,
	})
	return nil
}

// MinTimeout is the Graph's documented floor for the per-run timeout
// (spec §4.5 "never below 60s"); internal/session clamps to it when
// deriving the timeout from settings.
const MinTimeout = 60 * time.Second
