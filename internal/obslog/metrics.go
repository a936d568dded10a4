package obslog

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus surface for this service: session lifecycle,
// graph node execution, the finder's retry loop, and HTTP request
// latency. Grounded on pkg/observability/metrics.go's init*/Record*
// pattern, trimmed to the signals a research session actually produces
// (no RAG/tool/memory families, since this service has none of those).
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionEvents   *prometheus.CounterVec

	nodeRuns     *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	finderRetry  prometheus.Counter

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmErrors       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics registry with every series pre-registered.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.sessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_sessions_started_total",
		Help: "Research sessions started.",
	}, nil)
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deepresearch_sessions_active",
		Help: "Research sessions currently running.",
	})
	m.sessionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_session_events_total",
		Help: "Session events emitted, by event type.",
	}, []string{"event_type"})

	m.nodeRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_graph_node_runs_total",
		Help: "Graph node executions, by node name.",
	}, []string{"node"})
	m.nodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deepresearch_graph_node_duration_seconds",
		Help:    "Graph node execution latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"node"})
	m.finderRetry = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deepresearch_finder_retries_total",
		Help: "Finder retry loop iterations (Router A).",
	})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_llm_calls_total",
		Help: "LLM chat-completion calls, by model.",
	}, []string{"model"})
	m.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deepresearch_llm_call_duration_seconds",
		Help:    "LLM chat-completion call latency, by model.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})
	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_llm_errors_total",
		Help: "LLM chat-completion calls that returned an error, by model.",
	}, []string{"model"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_http_requests_total",
		Help: "HTTP requests, by route and status.",
	}, []string{"route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deepresearch_http_request_duration_seconds",
		Help:    "HTTP request latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	m.registry.MustRegister(
		m.sessionsStarted, m.sessionsActive, m.sessionEvents,
		m.nodeRuns, m.nodeDuration, m.finderRetry,
		m.llmCalls, m.llmCallDuration, m.llmErrors,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) RecordSessionStarted() {
	m.sessionsStarted.WithLabelValues().Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) RecordSessionFinished() { m.sessionsActive.Dec() }

func (m *Metrics) RecordSessionEvent(eventType string) {
	m.sessionEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordNodeRun(node string, d time.Duration) {
	m.nodeRuns.WithLabelValues(node).Inc()
	m.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (m *Metrics) RecordFinderRetry() { m.finderRetry.Inc() }

// RecordLLMCall records one chat-completion call's latency, regardless of
// whether it ultimately succeeded; RecordLLMError additionally marks the
// calls that failed so error rate is derivable against this series.
func (m *Metrics) RecordLLMCall(model string, d time.Duration) {
	m.llmCalls.WithLabelValues(model).Inc()
	m.llmCallDuration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) RecordLLMError(model string) { m.llmErrors.WithLabelValues(model).Inc() }

func (m *Metrics) RecordHTTPRequest(route, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
