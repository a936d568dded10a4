package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

type fakeStore struct {
	sessions []researchmodel.Session
	updated  map[string]researchmodel.Session
}

func (f *fakeStore) ListSessions(ctx context.Context, limit int) ([]researchmodel.Session, error) {
	return f.sessions, nil
}

func (f *fakeStore) UpsertSession(ctx context.Context, sess researchmodel.Session) error {
	if f.updated == nil {
		f.updated = map[string]researchmodel.Session{}
	}
	f.updated[sess.SessionID] = sess
	return nil
}

func TestRecoverRehydratesRunningAsStopped(t *testing.T) {
	now := time.Now()
	store := &fakeStore{sessions: []researchmodel.Session{
		{SessionID: "a", Status: researchmodel.StatusRunning, UpdatedAt: now},
		{SessionID: "b", Status: researchmodel.StatusCompleted, UpdatedAt: now},
	}}
	m := NewRecoveryManager(store)

	all, recovered, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
	require.Len(t, recovered, 1)
	assert.Equal(t, "a", recovered[0].SessionID)
	assert.Equal(t, researchmodel.StatusStopped, recovered[0].Status)
	assert.True(t, recovered[0].IsStopped)

	assert.Equal(t, researchmodel.StatusStopped, store.updated["a"].Status)
	_, touched := store.updated["b"]
	assert.False(t, touched)
}

func TestRecoverNoopWhenNothingRunning(t *testing.T) {
	store := &fakeStore{sessions: []researchmodel.Session{
		{SessionID: "a", Status: researchmodel.StatusCompleted},
	}}
	m := NewRecoveryManager(store)

	_, recovered, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)
}
