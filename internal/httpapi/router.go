package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Manager is the subset of *session.Manager the router depends on.
type Manager interface {
	Start(ctx context.Context, query string, opts researchmodel.Options) (researchmodel.Session, error)
	Stop(ctx context.Context, sessionID string) (bool, error)
	Status(ctx context.Context, sessionID string) (researchmodel.Session, error)
	List(ctx context.Context, limit int) ([]researchmodel.Session, error)
	Delete(ctx context.Context, sessionID string) (string, error)
	Documents(ctx context.Context, sessionID string) ([]researchmodel.Document, error)
	Document(ctx context.Context, documentID string) (researchmodel.Document, error)
	Stream(ctx context.Context, sessionID string, send func(researchmodel.Event) error) error
}

// MetricsRecorder is the slice of obslog.Metrics the router drives.
type MetricsRecorder interface {
	RecordHTTPRequest(route, status string, d time.Duration)
}

// noopMetrics discards everything; used when the caller wires no recorder.
type noopMetrics struct{}

func (noopMetrics) RecordHTTPRequest(string, string, time.Duration) {}

// New builds the chi.Router serving spec.md §6's REST+SSE surface over m.
func New(m Manager, metrics MetricsRecorder, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	h := &handlers{manager: m, logger: logger}

	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware(metrics))

	r.Route("/api/research", func(r chi.Router) {
		r.Post("/start", h.start)
		r.Get("/{id}/events", h.events)
		r.Post("/{id}/stop", h.stop)
		r.Get("/{id}/status", h.status)
		r.Get("/sessions", h.list)
		r.Delete("/sessions/{id}", h.delete)
		r.Get("/sessions/{id}/report", h.report)
		r.Get("/sessions/{id}/documents", h.documents)
		r.Get("/sessions/{id}/documents/{docID}", h.document)
	})

	if mh, ok := metrics.(interface{ Handler() http.Handler }); ok {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			mh.Handler().ServeHTTP(w, req)
		})
	}

	return r
}
