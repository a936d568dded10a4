package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DialectSQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(id string) researchmodel.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return researchmodel.Session{
		SessionID: id,
		Query:     "quantum networking landscape",
		Options:   researchmodel.NewDefaultOptions(),
		Status:    researchmodel.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpsertSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newSession("sess-1")

	require.NoError(t, s.UpsertSession(ctx, sess))
	require.NoError(t, s.UpsertSession(ctx, sess))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.EventsCount)

	all, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAppendEventContiguousIndices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, newSession("sess-2")))

	for i := 0; i < 3; i++ {
		idx, err := s.AppendEvent(ctx, "sess-2", researchmodel.Event{
			Type:      researchmodel.EventPlannerRunning,
			SessionID: "sess-2",
			Timestamp: time.Now(),
			Message:   "running",
		})
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}

	events, err := s.ListEvents(ctx, "sess-2", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i, ev.Index)
	}

	got, err := s.GetSession(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.EventsCount)
}

func TestSaveFinalReportCompletesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, newSession("sess-3")))

	report := researchmodel.Report{Title: "Report", ExecutiveSummary: "summary", WordCount: 2}
	require.NoError(t, s.SaveFinalReport(ctx, "sess-3", report, "# Report\n\nsummary", time.Now()))

	got, err := s.GetSession(ctx, "sess-3")
	require.NoError(t, err)
	assert.Equal(t, researchmodel.StatusCompleted, got.Status)
	assert.False(t, got.IsStopped)
	require.NotNil(t, got.FinalReport)
	assert.Equal(t, "Report", got.FinalReport.Title)

	docs, err := s.ListDocuments(ctx, "sess-3")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, newSession("sess-4")))
	_, err := s.AppendEvent(ctx, "sess-4", researchmodel.Event{Type: researchmodel.EventConnected, SessionID: "sess-4", Timestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, "sess-4"))
	require.NoError(t, s.DeleteSession(ctx, "sess-4")) // idempotent

	_, err = s.GetSession(ctx, "sess-4")
	assert.Error(t, err)

	events, err := s.ListEvents(ctx, "sess-4", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGetRecentCompletedReportsExcludesSelf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, newSession("sess-5")))
	require.NoError(t, s.UpsertSession(ctx, newSession("sess-6")))
	require.NoError(t, s.SaveFinalReport(ctx, "sess-5", researchmodel.Report{Title: "A", ExecutiveSummary: "sum-a"}, "md", time.Now()))
	require.NoError(t, s.SaveFinalReport(ctx, "sess-6", researchmodel.Report{Title: "B", ExecutiveSummary: "sum-b"}, "md", time.Now()))

	reports, err := s.GetRecentCompletedReports(ctx, 5, "sess-6")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0], "sum-a")
}
