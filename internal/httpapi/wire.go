// Package httpapi exposes the Session Manager over the REST+SSE surface
// spec.md §6 documents. Grounded on pkg/transport/rest_gateway.go's
// SSE-over-plain-http.Flusher pattern and pkg/transport/http_metrics_middleware.go's
// chi-routed metrics middleware, swapped from the teacher's grpc-gateway
// proxy (this system has no gRPC service behind it) to a direct chi.Router
// over the Session Manager.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// eventWire is the SSE/REST wire shape for a researchmodel.Event: the
// timestamp is rendered via researchmodel.ISOTimestamp rather than
// time.Time's default RFC3339 marshaling, since the wire contract is UTC
// with no zone suffix.
type eventWire struct {
	Index     int            `json:"index"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func toEventWire(ev researchmodel.Event) eventWire {
	return eventWire{
		Index:     ev.Index,
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Timestamp: researchmodel.ISOTimestamp(ev.Timestamp),
		Message:   ev.Message,
		Fields:    ev.Fields,
	}
}

type progressWire struct {
	Iteration     int `json:"iteration"`
	PlanCount     int `json:"plan_count"`
	SourcesCount  int `json:"sources_count"`
	FindingsCount int `json:"findings_count"`
}

type resultWire struct {
	Title     string `json:"title"`
	WordCount int    `json:"word_count"`
}

func progressFor(sess researchmodel.Session) progressWire {
	if sess.State == nil {
		return progressWire{}
	}
	return progressWire{
		Iteration:     sess.State.Iteration,
		PlanCount:     len(sess.State.Plan),
		SourcesCount:  len(sess.State.Sources),
		FindingsCount: len(sess.State.Findings),
	}
}

func resultFor(sess researchmodel.Session) *resultWire {
	if sess.FinalReport == nil {
		return nil
	}
	return &resultWire{Title: sess.FinalReport.Title, WordCount: sess.FinalReport.WordCount}
}

type sessionListItem struct {
	SessionID string                      `json:"session_id"`
	Query     string                      `json:"query"`
	Status    researchmodel.SessionStatus `json:"status"`
	CreatedAt string                      `json:"created_at"`
	UpdatedAt string                      `json:"updated_at"`
	HasReport bool                        `json:"has_report"`
}

func toListItem(sess researchmodel.Session) sessionListItem {
	return sessionListItem{
		SessionID: sess.SessionID,
		Query:     sess.Query,
		Status:    sess.Status,
		CreatedAt: researchmodel.ISOTimestamp(sess.CreatedAt),
		UpdatedAt: researchmodel.ISOTimestamp(sess.UpdatedAt),
		HasReport: sess.FinalReport != nil,
	}
}
