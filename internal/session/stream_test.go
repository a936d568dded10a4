package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/internal/graph"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

func TestStreamUnknownSessionReturnsNotFound(t *testing.T) {
	m := New(newTestStore(t), happyPathNodes(), nil, nil, graph.MinTimeout)
	err := m.Stream(context.Background(), "does-not-exist", func(researchmodel.Event) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStreamReplaysPersistedEventsThenDone(t *testing.T) {
	m := New(newTestStore(t), happyPathNodes(), nil, nil, graph.MinTimeout)
	sess, err := m.Start(context.Background(), "quantum networking landscape", researchmodel.NewDefaultOptions())
	require.NoError(t, err)

	waitForStatus(t, m, sess.SessionID, researchmodel.StatusCompleted)

	var received []researchmodel.EventType
	err = m.Stream(context.Background(), sess.SessionID, func(ev researchmodel.Event) error {
		received = append(received, ev.Type)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, received)
	assert.Equal(t, researchmodel.EventConnected, received[0])
	assert.Equal(t, researchmodel.EventDone, received[len(received)-1])

	var sawCompleted bool
	for _, typ := range received {
		if typ == researchmodel.EventResearchCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)
}

func TestStreamStopsOnSendError(t *testing.T) {
	m := New(newTestStore(t), happyPathNodes(), nil, nil, graph.MinTimeout)
	sess, err := m.Start(context.Background(), "quantum networking landscape", researchmodel.NewDefaultOptions())
	require.NoError(t, err)

	waitForStatus(t, m, sess.SessionID, researchmodel.StatusCompleted)

	boom := assert.AnError
	calls := 0
	err = m.Stream(context.Background(), sess.SessionID, func(ev researchmodel.Event) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
