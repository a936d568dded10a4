package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
	"github.com/kadirpekel/deepresearch/internal/session"
)

type fakeManager struct {
	startErr  error
	startSess researchmodel.Session

	stopOK  bool
	stopErr error

	statusSess researchmodel.Session
	statusErr  error

	sessions []researchmodel.Session

	deleteStatus string
	deleteErr    error

	docs    []researchmodel.Document
	docsErr error

	doc    researchmodel.Document
	docErr error

	streamEvents []researchmodel.Event
	streamErr    error
}

func (f *fakeManager) Start(ctx context.Context, query string, opts researchmodel.Options) (researchmodel.Session, error) {
	if f.startErr != nil {
		return researchmodel.Session{}, f.startErr
	}
	return f.startSess, nil
}

func (f *fakeManager) Stop(ctx context.Context, sessionID string) (bool, error) {
	return f.stopOK, f.stopErr
}

func (f *fakeManager) Status(ctx context.Context, sessionID string) (researchmodel.Session, error) {
	return f.statusSess, f.statusErr
}

func (f *fakeManager) List(ctx context.Context, limit int) ([]researchmodel.Session, error) {
	return f.sessions, nil
}

func (f *fakeManager) Delete(ctx context.Context, sessionID string) (string, error) {
	return f.deleteStatus, f.deleteErr
}

func (f *fakeManager) Documents(ctx context.Context, sessionID string) ([]researchmodel.Document, error) {
	return f.docs, f.docsErr
}

func (f *fakeManager) Document(ctx context.Context, documentID string) (researchmodel.Document, error) {
	return f.doc, f.docErr
}

func (f *fakeManager) Stream(ctx context.Context, sessionID string, send func(researchmodel.Event) error) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, ev := range f.streamEvents {
		if err := send(ev); err != nil {
			return err
		}
	}
	return nil
}

func TestStartReturnsStartedEnvelope(t *testing.T) {
	m := &fakeManager{startSess: researchmodel.Session{
		SessionID: "sess-1", Query: "quantum networking", Options: researchmodel.NewDefaultOptions(),
	}}
	router := New(m, nil, nil)

	body := bytes.NewBufferString(`{"query":"quantum networking"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/research/start", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp["status"])
	assert.Equal(t, "sess-1", resp["session_id"])
	assert.Equal(t, "/api/research/sess-1/events", resp["stream_url"])
	assert.Equal(t, "/api/research/sess-1/stop", resp["stop_url"])
	assert.Equal(t, "/api/research/sess-1/status", resp["status_url"])
}

func TestStartReturnsUnprocessableOnValidationError(t *testing.T) {
	m := &fakeManager{startErr: errors.New("session: query must be 3-2000 characters, got 1")}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/research/start", bytes.NewBufferString(`{"query":"a"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStopReturnsStoppedWhenRunning(t *testing.T) {
	m := &fakeManager{stopOK: true}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/research/sess-1/stop", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stopped", resp["status"])
}

func TestStopReturnsNotFoundOrCompletedWhenNotRunning(t *testing.T) {
	m := &fakeManager{stopOK: false}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/research/sess-1/stop", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found_or_completed", resp["status"])
}

func TestStatusReturnsProgressAndResult(t *testing.T) {
	m := &fakeManager{statusSess: researchmodel.Session{
		SessionID: "sess-1",
		Status:    researchmodel.StatusCompleted,
		State: &researchmodel.ResearchState{
			Iteration: 2,
			Plan:      []researchmodel.SubQuestion{{ID: "sq-1"}},
			Sources:   []researchmodel.Source{{ID: "s-1"}, {ID: "s-2"}},
			Findings:  []researchmodel.Finding{{SubQuestionID: "sq-1"}},
		},
		FinalReport: &researchmodel.Report{Title: "T", WordCount: 1200},
	}}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/research/sess-1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	progress := resp["progress"].(map[string]any)
	assert.Equal(t, float64(2), progress["iteration"])
	assert.Equal(t, float64(2), progress["sources_count"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, "T", result["title"])
}

func TestStatusReturnsNotFound(t *testing.T) {
	m := &fakeManager{statusErr: session.ErrNotFound}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/research/missing/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReportsHasReportFlag(t *testing.T) {
	m := &fakeManager{sessions: []researchmodel.Session{
		{SessionID: "sess-1", FinalReport: &researchmodel.Report{Title: "T"}},
		{SessionID: "sess-2"},
	}}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/research/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	items := resp["sessions"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, true, items[0].(map[string]any)["has_report"])
	assert.Equal(t, false, items[1].(map[string]any)["has_report"])
}

func TestDeletePassesThroughManagerStatus(t *testing.T) {
	m := &fakeManager{deleteStatus: "running"}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/research/sessions/sess-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp["status"])
}

func TestReportReturnsNotFoundWhenMissing(t *testing.T) {
	m := &fakeManager{statusSess: researchmodel.Session{SessionID: "sess-1"}}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/research/sessions/sess-1/report", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsStreamsSSEFrames(t *testing.T) {
	m := &fakeManager{streamEvents: []researchmodel.Event{
		{Index: 0, Type: researchmodel.EventConnected, SessionID: "sess-1", Timestamp: time.Now(), Message: "connected"},
		{Index: 1, Type: researchmodel.EventDone, SessionID: "sess-1", Timestamp: time.Now(), Message: "done"},
	}}
	router := New(m, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/research/sess-1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, dataLines, 2)
	var first eventWire
	require.NoError(t, json.Unmarshal([]byte(dataLines[0]), &first))
	assert.Equal(t, "connected", first.Type)
}
