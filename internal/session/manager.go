// Package session implements the Session Manager: the lifecycle and
// concurrency authority for research sessions. Grounded on
// pkg/runner/runner.go's per-session execution model (one task per active
// session, session service as the durable source of truth) and
// v2/server/executor.go's event-processing/terminal-event classification
// (adapted from A2A TaskState transitions to this spec's research_*
// events, and from its queue.Write per-event fan-out to this package's
// durable-log-backed emitter).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/deepresearch/internal/checkpoint"
	"github.com/kadirpekel/deepresearch/internal/graph"
	"github.com/kadirpekel/deepresearch/internal/obslog"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Store is the subset of *store.Store the Manager depends on.
type Store interface {
	UpsertSession(ctx context.Context, sess researchmodel.Session) error
	AppendEvent(ctx context.Context, sessionID string, event researchmodel.Event) (int, error)
	SaveFinalReport(ctx context.Context, sessionID string, report researchmodel.Report, markdownReport string, updatedAt time.Time) error
	GetSession(ctx context.Context, sessionID string) (researchmodel.Session, error)
	ListSessions(ctx context.Context, limit int) ([]researchmodel.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]researchmodel.Event, error)
	ListEventsAfter(ctx context.Context, sessionID string, afterIndex int) ([]researchmodel.Event, error)
	ListDocuments(ctx context.Context, sessionID string) ([]researchmodel.Document, error)
	GetDocument(ctx context.Context, documentID string) (researchmodel.Document, error)
	GetRecentCompletedReports(ctx context.Context, limit int, excludeSessionID string) ([]string, error)
}

// MetricsRecorder is the slice of obslog.Metrics the Manager drives.
type MetricsRecorder interface {
	RecordSessionStarted()
	RecordSessionFinished()
	RecordSessionEvent(eventType string)
	RecordNodeRun(node string, d time.Duration)
	RecordFinderRetry()
}

// NoopMetrics discards everything; used when the caller wires no recorder.
type NoopMetrics struct{}

func (NoopMetrics) RecordSessionStarted()               {}
func (NoopMetrics) RecordSessionFinished()              {}
func (NoopMetrics) RecordSessionEvent(string)            {}
func (NoopMetrics) RecordNodeRun(string, time.Duration) {}
func (NoopMetrics) RecordFinderRetry()                  {}

// ErrNotFound is returned by Status/Stream when the session id is unknown.
var ErrNotFound = errors.New("session: not found")

type runningSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the in-memory registry of active sessions and drives each
// one's execution task, event fan-out, and terminal-state classification.
type Manager struct {
	db              Store
	nodes           graph.Nodes
	metrics         MetricsRecorder
	logger          *slog.Logger
	maxResearchTime time.Duration

	mu      sync.Mutex
	running map[string]*runningSession
}

// New builds a Manager. maxResearchTime is the environment's configured
// research timeout (already clamped to graph.MinTimeout by internal/config).
func New(db Store, nodes graph.Nodes, metrics MetricsRecorder, logger *slog.Logger, maxResearchTime time.Duration) *Manager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxResearchTime < graph.MinTimeout {
		maxResearchTime = graph.MinTimeout
	}
	return &Manager{
		db:              db,
		nodes:           nodes,
		metrics:         metrics,
		logger:          logger,
		maxResearchTime: maxResearchTime,
		running:         map[string]*runningSession{},
	}
}

// Recover runs crash recovery: any session persisted with status=running
// is rehydrated as stopped. Call once at startup before serving traffic.
func (m *Manager) Recover(ctx context.Context) error {
	_, recovered, err := checkpoint.NewRecoveryManager(m.db).Recover(ctx)
	if err != nil {
		return fmt.Errorf("session: recovery: %w", err)
	}
	for _, sess := range recovered {
		m.logger.Warn("rehydrated running session as stopped", "session_id", sess.SessionID)
	}
	return nil
}

// Start validates the query, allocates a session, persists its initial
// snapshot, and spawns its execution task in the background — detached
// from ctx, since the session must outlive the HTTP request that started it.
func (m *Manager) Start(ctx context.Context, query string, opts researchmodel.Options) (researchmodel.Session, error) {
	if n := utf8.RuneCountInString(query); n < 3 || n > 2000 {
		return researchmodel.Session{}, fmt.Errorf("session: query must be 3-2000 characters, got %d", n)
	}
	opts = opts.WithDefaults()

	sessionID := uuid.NewString()
	now := time.Now().UTC()
	state := &researchmodel.ResearchState{
		Query:     query,
		SessionID: sessionID,
		Status:    researchmodel.StatusRunning,
		Options:   opts,
		StartedAt: now,
	}
	sess := researchmodel.Session{
		SessionID: sessionID,
		Query:     query,
		Options:   opts,
		Status:    researchmodel.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		State:     state,
	}
	if err := m.db.UpsertSession(ctx, sess); err != nil {
		return researchmodel.Session{}, fmt.Errorf("session: persist initial snapshot: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[sessionID] = rs
	m.mu.Unlock()

	m.metrics.RecordSessionStarted()
	go m.run(runCtx, rs, sessionID, state, opts)

	return sess, nil
}

// run is the execution wrapper: loads session memory, builds the timeout,
// installs the durable emitter, invokes the graph, and classifies the
// result into exactly one terminal persisted snapshot + event.
func (m *Manager) run(ctx context.Context, rs *runningSession, sessionID string, state *researchmodel.ResearchState, opts researchmodel.Options) {
	ctx, rootSpan := obslog.Tracer("deepresearch/session").Start(ctx, obslog.SpanResearchSession,
		trace.WithAttributes(
			attribute.String(obslog.AttrSessionID, sessionID),
			attribute.String(obslog.AttrQuery, state.Query),
		),
	)
	defer rootSpan.End()

	defer close(rs.done)
	defer func() {
		m.mu.Lock()
		delete(m.running, sessionID)
		m.mu.Unlock()
		m.metrics.RecordSessionFinished()
	}()

	if opts.IncludeSessionMemory && opts.SessionMemoryLimit > 0 {
		memory, err := m.db.GetRecentCompletedReports(context.Background(), opts.SessionMemoryLimit, sessionID)
		if err != nil {
			m.logger.Warn("loading session memory failed", "session_id", sessionID, "error", err)
		} else {
			state.SessionMemory = memory
		}
	}

	emit := m.makeEmitter(sessionID)
	defer func() {
		if r := recover(); r != nil {
			state.Error = fmt.Sprintf("panic: %v", r)
			m.persistSnapshot(context.Background(), sessionID, state, researchmodel.StatusError)
			emit(researchmodel.EventResearchError, state.Error, nil)
		}
	}()
	emit(researchmodel.EventResearchStarted, "research started", map[string]any{"query": state.Query})

	g := m.nodes.Build(m.checkpointFunc(sessionID))
	g.SetMetrics(m.metrics)
	result, runErr := g.Run(ctx, state, m.maxResearchTime, emit)
	if runErr != nil {
		rootSpan.RecordError(runErr)
		rootSpan.SetStatus(codes.Error, runErr.Error())
	}

	switch {
	case result.IsStopped:
		m.persistSnapshot(context.Background(), sessionID, result, researchmodel.StatusStopped)
		emit(researchmodel.EventResearchStopped, "research stopped", nil)
	case result.Status == researchmodel.StatusError || result.FinalReport == nil:
		m.persistSnapshot(context.Background(), sessionID, result, researchmodel.StatusError)
		if runErr == nil {
			emit(researchmodel.EventResearchError, "research failed: no report produced", nil)
		}
	default:
		m.persistSnapshot(context.Background(), sessionID, result, researchmodel.StatusCompleted)
		markdown := RenderMarkdown(*result.FinalReport)
		if err := m.db.SaveFinalReport(context.Background(), sessionID, *result.FinalReport, markdown, time.Now().UTC()); err != nil {
			m.logger.Error("saving final report failed", "session_id", sessionID, "error", err)
		}
		emit(researchmodel.EventResearchCompleted, "research completed", map[string]any{
			"title": result.FinalReport.Title, "word_count": result.FinalReport.WordCount,
		})
	}
}

func (m *Manager) persistSnapshot(ctx context.Context, sessionID string, state *researchmodel.ResearchState, status researchmodel.SessionStatus) {
	if err := m.checkpointFunc(sessionID)(ctx, withStatus(state, status)); err != nil {
		m.logger.Error("persisting snapshot failed", "session_id", sessionID, "error", err)
	}
}

func withStatus(state *researchmodel.ResearchState, status researchmodel.SessionStatus) *researchmodel.ResearchState {
	state.Status = status
	return state
}

// checkpointFunc builds the graph.Checkpointer the Manager installs on
// every run: it upserts the session row with the latest state snapshot,
// preserving events_count and created_at from the current row.
func (m *Manager) checkpointFunc(sessionID string) graph.Checkpointer {
	return func(ctx context.Context, state *researchmodel.ResearchState) error {
		current, err := m.db.GetSession(ctx, sessionID)
		if err != nil {
			current = researchmodel.Session{SessionID: sessionID, CreatedAt: state.StartedAt}
		}
		current.Query = state.Query
		current.Options = state.Options
		current.Status = state.Status
		if current.Status == "" {
			current.Status = researchmodel.StatusRunning
		}
		current.State = state
		current.IsStopped = state.IsStopped
		current.UpdatedAt = time.Now().UTC()
		return m.db.UpsertSession(ctx, current)
	}
}

// makeEmitter builds the event-emission closure bound to sessionID: every
// call durably appends the event before returning (at-least-once, never
// dropped), then records it in metrics.
func (m *Manager) makeEmitter(sessionID string) graph.EmitFunc {
	return func(eventType researchmodel.EventType, message string, fields map[string]any) {
		ev := researchmodel.Event{
			Type:      eventType,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Message:   message,
			Fields:    fields,
		}
		if _, err := m.db.AppendEvent(context.Background(), sessionID, ev); err != nil {
			m.logger.Error("appending event failed", "session_id", sessionID, "event_type", eventType, "error", err)
		}
		m.metrics.RecordSessionEvent(string(eventType))
	}
}

// Stop cancels the session's executor if it is running and awaits its
// termination (the run loop persists the stopped snapshot itself). Returns
// true iff the session existed in the running registry.
func (m *Manager) Stop(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	rs, ok := m.running[sessionID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	rs.cancel()
	select {
	case <-rs.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Status returns the persisted session record.
func (m *Manager) Status(ctx context.Context, sessionID string) (researchmodel.Session, error) {
	sess, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return researchmodel.Session{}, ErrNotFound
	}
	return sess, nil
}

// List returns up to limit recent sessions.
func (m *Manager) List(ctx context.Context, limit int) ([]researchmodel.Session, error) {
	return m.db.ListSessions(ctx, limit)
}

// Delete refuses while the session is running, otherwise cascades the
// persisted delete.
func (m *Manager) Delete(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	_, running := m.running[sessionID]
	m.mu.Unlock()
	if running {
		return "running", nil
	}
	if _, err := m.db.GetSession(ctx, sessionID); err != nil {
		return "not_found", nil
	}
	if err := m.db.DeleteSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("session: delete: %w", err)
	}
	return "deleted", nil
}

// Documents returns both persisted artifact forms for a completed session.
func (m *Manager) Documents(ctx context.Context, sessionID string) ([]researchmodel.Document, error) {
	return m.db.ListDocuments(ctx, sessionID)
}

// Document fetches one persisted artifact by id.
func (m *Manager) Document(ctx context.Context, documentID string) (researchmodel.Document, error) {
	return m.db.GetDocument(ctx, documentID)
}
