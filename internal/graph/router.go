package graph

import "github.com/kadirpekel/deepresearch/internal/researchmodel"

// maxFinderRetries bounds Router A's finder-retry loop. Spec §9 Open
// Question 1 asks whether this should be exposed in RuntimeOptions; kept
// as an internal constant per the decision recorded in DESIGN.md — the
// spec's own invariant table hardcodes "finder_retry_count < 2".
const maxFinderRetries = 2

// Node and router-label names used to wire the fixed topology in
// Nodes.Build.
const (
	NodePlanner    = "planner"
	NodeFinder     = "finder"
	NodeSummarizer = "summarizer"
	NodeReviewer   = "reviewer"
	NodeWriter     = "writer"

	LabelRetryFinder = "retry_finder"
	LabelContinue    = "continue"
	LabelWriter      = "writer"
)

// RouterA runs after the summarizer. A summarizer that extracted zero key
// facts indicates poor sources, not a gap in the plan, so it loops the
// finder rather than the planner — up to maxFinderRetries times.
func RouterA(state *researchmodel.ResearchState) string {
	if state.NeedsFinderRetry && state.FinderRetryCount < maxFinderRetries {
		state.FinderRetryCount++
		return LabelRetryFinder
	}
	return LabelContinue
}

// RouterB runs after the reviewer. The iteration loop is bounded by
// max_iterations and short-circuits as soon as the reviewer reports no
// gaps.
func RouterB(state *researchmodel.ResearchState) string {
	if state.Iteration >= state.Options.MaxIterations {
		return LabelWriter
	}
	if state.Gaps == nil || !state.Gaps.HasGaps {
		return LabelWriter
	}
	return LabelContinue
}
