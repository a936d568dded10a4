// Package store implements the Persistence Store: a single-node embedded
// relational store over three logical tables (sessions, session_events,
// session_documents). Writes are serialized through one async mutex;
// schema and query text are dialect-aware the same way the teacher's
// session store supports sqlite, postgres, and mysql from one code path.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL backend in use.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Store is the durable KV+log backing the session runtime. All mutating
// operations serialize through mu, matching the spec's "writes are
// serialized through one async mutex" requirement; concurrent reads pass
// straight through to the database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

const (
	createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id VARCHAR(255) PRIMARY KEY,
    query TEXT NOT NULL,
    status VARCHAR(32) NOT NULL,
    options_json TEXT NOT NULL,
    state_json TEXT,
    final_report_json TEXT,
    markdown_report TEXT,
    is_stopped BOOLEAN NOT NULL DEFAULT FALSE,
    events_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createSessionsUpdatedIdxSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`

	createEventsSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_events (
    session_id VARCHAR(255) NOT NULL,
    event_index INTEGER NOT NULL,
    type VARCHAR(64) NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    message TEXT,
    fields_json TEXT,
    PRIMARY KEY (session_id, event_index)
)`

	createEventsIdxSQL = `
CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id, event_index)`

	createDocumentsSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_documents (
    document_id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    type VARCHAR(16) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	createDocumentsIdxSQL = `
CREATE INDEX IF NOT EXISTS idx_documents_session ON session_documents(session_id)`
)

// Open opens (and, for sqlite, creates) the database at dsn for the given
// dialect, enables write-ahead logging where supported, and creates the
// schema if it doesn't already exist.
func Open(dialect Dialect, dsn string) (*Store, error) {
	driver := map[Dialect]string{
		DialectSQLite:   "sqlite3",
		DialectPostgres: "postgres",
		DialectMySQL:    "mysql",
	}[dialect]
	if driver == "" {
		return nil, fmt.Errorf("store: unsupported dialect: %s", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}

	s := &Store{db: db, dialect: dialect}
	if dialect == DialectSQLite {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			return nil, fmt.Errorf("store: enable WAL: %w", err)
		}
		if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
			return nil, fmt.Errorf("store: set busy_timeout: %w", err)
		}
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createSessionsSchemaSQL,
		createSessionsUpdatedIdxSQL,
		createEventsSchemaSQL,
		createEventsIdxSQL,
		createDocumentsSchemaSQL,
		createDocumentsIdxSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema statement failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites a query written with '?' placeholders into the dialect's
// native placeholder syntax, mirroring the teacher's
// convertToPostgresPlaceholders helper.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 20)
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func (s *Store) upsertSessionQuery() string {
	switch s.dialect {
	case DialectPostgres:
		return s.rebind(`INSERT INTO sessions
            (session_id, query, status, options_json, state_json, final_report_json, is_stopped, events_count, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (session_id) DO UPDATE SET
                query = EXCLUDED.query, status = EXCLUDED.status, options_json = EXCLUDED.options_json,
                state_json = EXCLUDED.state_json, final_report_json = EXCLUDED.final_report_json,
                is_stopped = EXCLUDED.is_stopped, events_count = EXCLUDED.events_count, updated_at = EXCLUDED.updated_at`)
	case DialectMySQL:
		return `INSERT INTO sessions
            (session_id, query, status, options_json, state_json, final_report_json, is_stopped, events_count, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE
                query = VALUES(query), status = VALUES(status), options_json = VALUES(options_json),
                state_json = VALUES(state_json), final_report_json = VALUES(final_report_json),
                is_stopped = VALUES(is_stopped), events_count = VALUES(events_count), updated_at = VALUES(updated_at)`
	default: // sqlite
		return `INSERT INTO sessions
            (session_id, query, status, options_json, state_json, final_report_json, is_stopped, events_count, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (session_id) DO UPDATE SET
                query = excluded.query, status = excluded.status, options_json = excluded.options_json,
                state_json = excluded.state_json, final_report_json = excluded.final_report_json,
                is_stopped = excluded.is_stopped, events_count = excluded.events_count, updated_at = excluded.updated_at`
	}
}

// UpsertSession idempotently inserts or updates the session row. Calling it
// twice with identical inputs yields one row with unchanged events_count.
func (s *Store) UpsertSession(ctx context.Context, sess researchmodel.Session) error {
	optionsJSON, err := json.Marshal(sess.Options)
	if err != nil {
		return fmt.Errorf("store: marshal options: %w", err)
	}
	var stateJSON, reportJSON []byte
	if sess.State != nil {
		if stateJSON, err = json.Marshal(sess.State); err != nil {
			return fmt.Errorf("store: marshal state: %w", err)
		}
	}
	if sess.FinalReport != nil {
		if reportJSON, err = json.Marshal(sess.FinalReport); err != nil {
			return fmt.Errorf("store: marshal report: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, s.upsertSessionQuery(),
		sess.SessionID, sess.Query, string(sess.Status), string(optionsJSON),
		nullableString(stateJSON), nullableString(reportJSON), sess.IsStopped,
		sess.EventsCount, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// AppendEvent allocates the next contiguous event index for sessionID,
// inserts the event row, and bumps the session's events_count and
// updated_at — all under the store's single mutex, so the (event insert,
// session bump) pair is atomic with respect to other writers.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, event researchmodel.Event) (int, error) {
	fieldsJSON, err := json.Marshal(event.Fields)
	if err != nil {
		return 0, fmt.Errorf("store: marshal event fields: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT events_count FROM sessions WHERE session_id = ?`), sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("store: read events_count: %w", err)
	}
	index := count

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO session_events
        (session_id, event_index, type, timestamp, message, fields_json) VALUES (?, ?, ?, ?, ?, ?)`),
		sessionID, index, string(event.Type), event.Timestamp.UTC(), event.Message, nullableString(fieldsJSON))
	if err != nil {
		return 0, fmt.Errorf("store: insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET events_count = ?, updated_at = ? WHERE session_id = ?`),
		index+1, time.Now().UTC(), sessionID)
	if err != nil {
		return 0, fmt.Errorf("store: bump session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit event append: %w", err)
	}
	return index, nil
}

// SaveFinalReport sets status=completed, is_stopped=false, and persists
// both the JSON and rendered-Markdown document forms.
func (s *Store) SaveFinalReport(ctx context.Context, sessionID string, report researchmodel.Report, markdownReport string, updatedAt time.Time) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("store: marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET status = ?, is_stopped = ?, final_report_json = ?, updated_at = ? WHERE session_id = ?`),
		string(researchmodel.StatusCompleted), false, string(reportJSON), updatedAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("store: update session on completion: %w", err)
	}

	now := time.Now().UTC()
	if err := s.insertDocumentTx(ctx, tx, documentID(sessionID, researchmodel.DocumentJSON), sessionID, researchmodel.DocumentJSON, string(reportJSON), now); err != nil {
		return err
	}
	if err := s.insertDocumentTx(ctx, tx, documentID(sessionID, researchmodel.DocumentMarkdown), sessionID, researchmodel.DocumentMarkdown, markdownReport, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit final report: %w", err)
	}
	return nil
}

func (s *Store) insertDocumentTx(ctx context.Context, tx *sql.Tx, docID, sessionID string, typ researchmodel.DocumentType, content string, createdAt time.Time) error {
	query := s.rebind(`INSERT INTO session_documents (document_id, session_id, type, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if s.dialect == DialectPostgres {
		query = s.rebind(`INSERT INTO session_documents (document_id, session_id, type, content, created_at) VALUES (?, ?, ?, ?, ?)
            ON CONFLICT (document_id) DO UPDATE SET content = EXCLUDED.content, created_at = EXCLUDED.created_at`)
	} else if s.dialect == DialectMySQL {
		query = `INSERT INTO session_documents (document_id, session_id, type, content, created_at) VALUES (?, ?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE content = VALUES(content), created_at = VALUES(created_at)`
	} else {
		query = `INSERT INTO session_documents (document_id, session_id, type, content, created_at) VALUES (?, ?, ?, ?, ?)
            ON CONFLICT (document_id) DO UPDATE SET content = excluded.content, created_at = excluded.created_at`
	}
	if _, err := tx.ExecContext(ctx, query, docID, sessionID, string(typ), content, createdAt); err != nil {
		return fmt.Errorf("store: insert document: %w", err)
	}
	return nil
}

// documentID derives a document's identity from session id and type.
func documentID(sessionID string, typ researchmodel.DocumentType) string {
	return fmt.Sprintf("%s-%s", sessionID, typ)
}

// GetSession fetches one session row. It returns sql.ErrNoRows (wrapped) if
// sessionID does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (researchmodel.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT session_id, query, status, options_json, state_json,
        final_report_json, is_stopped, events_count, created_at, updated_at FROM sessions WHERE session_id = ?`), sessionID)
	return s.scanSession(row)
}

func (s *Store) scanSession(row *sql.Row) (researchmodel.Session, error) {
	var (
		sess                    researchmodel.Session
		status                  string
		optionsJSON             string
		stateJSON, finalReportJ sql.NullString
	)
	if err := row.Scan(&sess.SessionID, &sess.Query, &status, &optionsJSON, &stateJSON,
		&finalReportJ, &sess.IsStopped, &sess.EventsCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return researchmodel.Session{}, fmt.Errorf("store: session not found: %w", err)
		}
		return researchmodel.Session{}, fmt.Errorf("store: scan session: %w", err)
	}
	sess.Status = researchmodel.SessionStatus(status)
	if err := json.Unmarshal([]byte(optionsJSON), &sess.Options); err != nil {
		return researchmodel.Session{}, fmt.Errorf("store: unmarshal options: %w", err)
	}
	if stateJSON.Valid && stateJSON.String != "" {
		var state researchmodel.ResearchState
		if err := json.Unmarshal([]byte(stateJSON.String), &state); err == nil {
			sess.State = &state
		}
	}
	if finalReportJ.Valid && finalReportJ.String != "" {
		var report researchmodel.Report
		if err := json.Unmarshal([]byte(finalReportJ.String), &report); err == nil {
			sess.FinalReport = &report
		}
	}
	return sess, nil
}

// ListSessions returns up to limit sessions ordered by updated_at descending.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]researchmodel.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT session_id, query, status, options_json, state_json,
        final_report_json, is_stopped, events_count, created_at, updated_at FROM sessions
        ORDER BY updated_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []researchmodel.Session
	for rows.Next() {
		var (
			sess                    researchmodel.Session
			status                  string
			optionsJSON             string
			stateJSON, finalReportJ sql.NullString
		)
		if err := rows.Scan(&sess.SessionID, &sess.Query, &status, &optionsJSON, &stateJSON,
			&finalReportJ, &sess.IsStopped, &sess.EventsCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		sess.Status = researchmodel.SessionStatus(status)
		_ = json.Unmarshal([]byte(optionsJSON), &sess.Options)
		if stateJSON.Valid && stateJSON.String != "" {
			var state researchmodel.ResearchState
			if json.Unmarshal([]byte(stateJSON.String), &state) == nil {
				sess.State = &state
			}
		}
		if finalReportJ.Valid && finalReportJ.String != "" {
			var report researchmodel.Report
			if json.Unmarshal([]byte(finalReportJ.String), &report) == nil {
				sess.FinalReport = &report
			}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes the session row and cascades to its events and
// documents. Idempotent: deleting an absent session is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM session_documents WHERE session_id = ?`,
		`DELETE FROM session_events WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), sessionID); err != nil {
			return fmt.Errorf("store: cascade delete: %w", err)
		}
	}
	return tx.Commit()
}

// ListEvents returns a session's persisted events in index order. If limit
// is non-zero, only the first limit events are returned.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit int) ([]researchmodel.Event, error) {
	query := `SELECT event_index, type, session_id, timestamp, message, fields_json FROM session_events
        WHERE session_id = ? ORDER BY event_index ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []researchmodel.Event
	for rows.Next() {
		var (
			ev          researchmodel.Event
			typ         string
			fieldsJSON  sql.NullString
		)
		if err := rows.Scan(&ev.Index, &typ, &ev.SessionID, &ev.Timestamp, &ev.Message, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Type = researchmodel.EventType(typ)
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			_ = json.Unmarshal([]byte(fieldsJSON.String), &ev.Fields)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListEventsAfter returns events with index > afterIndex, used by the
// stream loop's poll tick to find new events since the last emission.
func (s *Store) ListEventsAfter(ctx context.Context, sessionID string, afterIndex int) ([]researchmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT event_index, type, session_id, timestamp, message, fields_json
        FROM session_events WHERE session_id = ? AND event_index > ? ORDER BY event_index ASC`), sessionID, afterIndex)
	if err != nil {
		return nil, fmt.Errorf("store: list events after: %w", err)
	}
	defer rows.Close()

	var out []researchmodel.Event
	for rows.Next() {
		var (
			ev         researchmodel.Event
			typ        string
			fieldsJSON sql.NullString
		)
		if err := rows.Scan(&ev.Index, &typ, &ev.SessionID, &ev.Timestamp, &ev.Message, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Type = researchmodel.EventType(typ)
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			_ = json.Unmarshal([]byte(fieldsJSON.String), &ev.Fields)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListDocuments returns both documents persisted for a session.
func (s *Store) ListDocuments(ctx context.Context, sessionID string) ([]researchmodel.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT document_id, session_id, type, content, created_at
        FROM session_documents WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var out []researchmodel.Document
	for rows.Next() {
		var doc researchmodel.Document
		var typ string
		if err := rows.Scan(&doc.DocumentID, &doc.SessionID, &typ, &doc.Content, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		doc.Type = researchmodel.DocumentType(typ)
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetDocument fetches one document by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (researchmodel.Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT document_id, session_id, type, content, created_at
        FROM session_documents WHERE document_id = ?`), documentID)
	var doc researchmodel.Document
	var typ string
	if err := row.Scan(&doc.DocumentID, &doc.SessionID, &typ, &doc.Content, &doc.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return researchmodel.Document{}, fmt.Errorf("store: document not found: %w", err)
		}
		return researchmodel.Document{}, fmt.Errorf("store: scan document: %w", err)
	}
	doc.Type = researchmodel.DocumentType(typ)
	return doc, nil
}

// GetRecentCompletedReports returns the executive summaries of the most
// recently completed reports, excluding excludeSessionID, for injection as
// planner session memory. This is the single canonical implementation the
// spec's Open Questions call for (no second "recent reports" code path).
func (s *Store) GetRecentCompletedReports(ctx context.Context, limit int, excludeSessionID string) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT final_report_json FROM sessions
        WHERE status = ? AND session_id != ? AND final_report_json IS NOT NULL
        ORDER BY updated_at DESC LIMIT ?`), string(researchmodel.StatusCompleted), excludeSessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent completed reports: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, fmt.Errorf("store: scan recent report: %w", err)
		}
		var report researchmodel.Report
		if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", report.Title, report.ExecutiveSummary))
	}
	return out, rows.Err()
}
