// Package researchmodel defines the concrete, tagged record types threaded
// through the graph engine and persisted by the store. It replaces the
// loosely typed state dictionary of a dynamically-typed implementation with
// plain Go structs so every field has a fixed shape callers can rely on.
package researchmodel

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusStopped   SessionStatus = "stopped"
	StatusError     SessionStatus = "error"
)

// SubQuestionStatus tracks one sub-question's progress through the pipeline.
type SubQuestionStatus string

const (
	SubQuestionPending     SubQuestionStatus = "pending"
	SubQuestionResearching SubQuestionStatus = "researching"
	SubQuestionCompleted   SubQuestionStatus = "completed"
	SubQuestionFailed      SubQuestionStatus = "failed"
)

// Reliability is a categorical score derived from a source's domain.
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
	ReliabilityLow    Reliability = "low"
)

// ReportLength selects the writer's target word count.
type ReportLength string

const (
	ReportShort  ReportLength = "short"
	ReportMedium ReportLength = "medium"
	ReportLong   ReportLength = "long"
)

// Options are the per-session runtime knobs, all optional on the wire with
// defaults and bounds applied by Options.WithDefaults.
type Options struct {
	MaxIterations           int          `json:"max_iterations"`
	MaxSources              int          `json:"max_sources"`
	MaxSourcesPerQuestion   int          `json:"max_sources_per_question"`
	SearchResultsPerQuery   int          `json:"search_results_per_query"`
	SourceDiversity         bool         `json:"source_diversity"`
	ReportLength            ReportLength `json:"report_length"`
	IncludeSessionMemory    bool         `json:"include_session_memory"`
	SessionMemoryLimit      int          `json:"session_memory_limit"`
	SummarizerSourceLimit   int          `json:"summarizer_source_limit"`
}

// WithDefaults returns a copy of o with zero-valued fields filled in and
// out-of-bounds values clamped, per the documented defaults and bounds.
func (o Options) WithDefaults() Options {
	out := o
	if out.MaxIterations == 0 {
		out.MaxIterations = 3
	} else {
		out.MaxIterations = clampOrKeep(out.MaxIterations, 1, 10)
	}
	if out.MaxSources == 0 {
		out.MaxSources = 12
	} else {
		out.MaxSources = clampOrKeep(out.MaxSources, 3, 40)
	}
	if out.MaxSourcesPerQuestion == 0 {
		out.MaxSourcesPerQuestion = 4
	} else {
		out.MaxSourcesPerQuestion = clampOrKeep(out.MaxSourcesPerQuestion, 1, 12)
	}
	if out.SearchResultsPerQuery == 0 {
		out.SearchResultsPerQuery = 5
	} else {
		out.SearchResultsPerQuery = clampOrKeep(out.SearchResultsPerQuery, 1, 15)
	}
	if out.ReportLength == "" {
		out.ReportLength = ReportMedium
	}
	if out.SessionMemoryLimit == 0 {
		out.SessionMemoryLimit = 3
	} else {
		out.SessionMemoryLimit = clampOrKeep(out.SessionMemoryLimit, 0, 8)
	}
	if out.SummarizerSourceLimit == 0 {
		out.SummarizerSourceLimit = 6
	} else {
		out.SummarizerSourceLimit = clampOrKeep(out.SummarizerSourceLimit, 1, 20)
	}
	// SourceDiversity and IncludeSessionMemory default true; the zero value
	// of bool is false, so callers constructing Options{} explicitly get the
	// documented default only through NewDefaultOptions, not WithDefaults.
	return out
}

func clampOrKeep(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewDefaultOptions returns the documented defaults, including the
// bool-typed fields that default to true and therefore can't be
// distinguished from "unset" by WithDefaults alone.
func NewDefaultOptions() Options {
	return Options{
		MaxIterations:         3,
		MaxSources:            12,
		MaxSourcesPerQuestion: 4,
		SearchResultsPerQuery: 5,
		SourceDiversity:       true,
		ReportLength:          ReportMedium,
		IncludeSessionMemory:  true,
		SessionMemoryLimit:    3,
		SummarizerSourceLimit: 6,
	}
}

// ReportLengthWords maps a ReportLength to the writer's target word count.
func ReportLengthWords(l ReportLength) int {
	switch l {
	case ReportShort:
		return 900
	case ReportLong:
		return 2300
	default:
		return 1500
	}
}

// MaxReportWords is the hard cap regardless of ReportLength.
const MaxReportWords = 3000

// SubQuestion is one atomic question the planner derives from the query.
type SubQuestion struct {
	ID       string            `json:"id"`
	Question string            `json:"question"`
	Status   SubQuestionStatus `json:"status"`
}

// Source is one web result gathered for a sub-question.
type Source struct {
	ID             string      `json:"id"`
	URL            string      `json:"url"`
	Title          string      `json:"title"`
	Content        string      `json:"content,omitempty"`
	Domain         string      `json:"domain"`
	Confidence     float64     `json:"confidence"`
	Reliability    Reliability `json:"reliability"`
	Timestamp      time.Time   `json:"timestamp"`
	SubQuestionID  string      `json:"sub_question_id"`
}

// SourceInfo is the compact source reference embedded in a Finding.
type SourceInfo struct {
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Reliability Reliability `json:"reliability"`
}

// WordCount records the before/after word counts of a summarization.
type WordCount struct {
	Original int `json:"original"`
	Summary  int `json:"summary"`
}

// Finding is a compressed, attributed extract for one (source, sub-question) pair.
type Finding struct {
	SubQuestionID     string     `json:"sub_question_id"`
	SourceInfo        SourceInfo `json:"source_info"`
	Summary           string     `json:"summary"`
	KeyFacts          []string   `json:"key_facts"`
	RelevanceScore    float64    `json:"relevance_score"`
	CompressionRatio  float64    `json:"compression_ratio"`
	WordCount         WordCount  `json:"word_count"`
}

// GapReport is the reviewer's structured coverage assessment.
type GapReport struct {
	HasGaps         bool     `json:"has_gaps"`
	Gaps            []string `json:"gaps"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

// ReportSection is one body section of the final report.
type ReportSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// ReportSource is one entry in a Report's sources_used list.
type ReportSource struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Domain      string      `json:"domain"`
	Reliability Reliability `json:"reliability"`
	Confidence  float64     `json:"confidence"`
}

// Report is the writer's final, citation-validated output.
type Report struct {
	Title                       string          `json:"title"`
	ExecutiveSummary            string          `json:"executive_summary"`
	Sections                    []ReportSection `json:"sections"`
	SourcesUsed                 []ReportSource  `json:"sources_used"`
	ConfidenceAssessment        string          `json:"confidence_assessment"`
	WordCount                   int             `json:"word_count"`
	Error                       string          `json:"error,omitempty"`
	CitationValidationWarnings  []string        `json:"citation_validation_warnings,omitempty"`
}

// ResearchState is the single record threaded through the graph.
type ResearchState struct {
	Query             string        `json:"query"`
	SessionID         string        `json:"session_id"`
	Status            SessionStatus `json:"status"`
	Options           Options       `json:"options"`
	Plan              []SubQuestion `json:"plan"`
	Sources           []Source      `json:"sources"`
	Findings          []Finding     `json:"findings"`
	Gaps              *GapReport    `json:"gaps,omitempty"`
	Iteration         int           `json:"iteration"`
	NeedsFinderRetry  bool          `json:"needs_finder_retry"`
	FinderRetryCount  int           `json:"finder_retry_count"`
	SessionMemory     []string      `json:"session_memory,omitempty"`
	FinalReport       *Report       `json:"final_report,omitempty"`
	Error             string        `json:"error,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	IsStopped         bool          `json:"is_stopped"`
}

// FindingURLSet returns findings indexed by source URL, used by the writer
// to recompute sources_used and validate citations.
func (s *ResearchState) FindingURLSet() map[string]Finding {
	out := make(map[string]Finding, len(s.Findings))
	for _, f := range s.Findings {
		out[f.SourceInfo.URL] = f
	}
	return out
}

// Session is the externally visible, persisted session record.
type Session struct {
	SessionID   string        `json:"session_id"`
	Query       string        `json:"query"`
	Options     Options       `json:"options"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	IsStopped   bool          `json:"is_stopped"`
	State       *ResearchState `json:"state,omitempty"`
	FinalReport *Report       `json:"final_report,omitempty"`
	EventsCount int           `json:"events_count"`
}

// EventType is one of the closed set of stream event types.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventResearchStarted   EventType = "research_started"
	EventHeartbeat         EventType = "heartbeat"
	EventResearchCompleted EventType = "research_completed"
	EventResearchStopped   EventType = "research_stopped"
	EventResearchError     EventType = "research_error"
	EventDone              EventType = "done"

	EventPlannerRunning     EventType = "planner_running"
	EventPlannerComplete    EventType = "planner_complete"
	EventFinderRunning      EventType = "finder_running"
	EventFinderSource       EventType = "finder_source"
	EventFinderComplete     EventType = "finder_complete"
	EventSummarizerRunning  EventType = "summarizer_running"
	EventSummarizerFetch    EventType = "summarizer_fetch"
	EventSummarizerRetry    EventType = "summarizer_retry"
	EventSummarizerComplete EventType = "summarizer_complete"
	EventReviewerRunning    EventType = "reviewer_running"
	EventReviewerComplete   EventType = "reviewer_complete"
	EventWriterRunning      EventType = "writer_running"
	EventWriterComplete     EventType = "writer_complete"
)

// terminalEventTypes is the set of events that end a stream.
var terminalEventTypes = map[EventType]bool{
	EventResearchCompleted: true,
	EventResearchStopped:   true,
	EventResearchError:     true,
}

// IsTerminal reports whether t ends a session's event stream.
func (t EventType) IsTerminal() bool { return terminalEventTypes[t] }

// Event is one append-only, per-session monotonically indexed log entry.
type Event struct {
	Index     int            `json:"index"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ISOTimestamp formats t the way the wire contract requires: UTC, no zone suffix.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}

// DocumentType distinguishes the two persisted forms of a completed report.
type DocumentType string

const (
	DocumentJSON     DocumentType = "json"
	DocumentMarkdown DocumentType = "markdown"
)

// Document is a derived artifact persisted at session completion.
type Document struct {
	DocumentID string       `json:"document_id"`
	SessionID  string       `json:"session_id"`
	Type       DocumentType `json:"type"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"created_at"`
}
