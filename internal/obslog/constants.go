package obslog

// Span and attribute names shared by every package that calls Tracer(...).
// Centralizing them here mirrors the teacher's pkg/observability/constants.go
// so span names stay consistent across the graph engine, the LLM transport,
// and the web-search collaborators instead of drifting per call site.
const (
	SpanResearchSession = "research.session"
	SpanGraphNode       = "research.graph_node"
	SpanLLMRequest      = "research.llm_request"
	SpanWebSearch       = "research.web_search"
	SpanWebFetch        = "research.web_fetch"

	AttrSessionID   = "session.id"
	AttrQuery       = "research.query"
	AttrNodeName    = "graph.node"
	AttrLLMModel    = "llm.model"
	AttrSearchQuery = "search.query"
	AttrFetchURL    = "fetch.url"
)
