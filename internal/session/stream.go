package session

import (
	"context"
	"time"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

const pollInterval = time.Second

// Stream replays a session's persisted events to send, then — if the
// session is still running — polls the durable log at a ~1s cadence for
// new events, emitting a heartbeat on ticks with nothing new. It returns
// once a terminal event has been sent (synthesizing one from the
// persisted session status if none was ever recorded, which happens for
// a session rehydrated by crash recovery) or when send returns an error
// or ctx is canceled.
func (m *Manager) Stream(ctx context.Context, sessionID string, send func(researchmodel.Event) error) error {
	sess, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return ErrNotFound
	}

	if err := send(researchmodel.Event{
		Type:      researchmodel.EventConnected,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Message:   "connected",
		Fields:    map[string]any{"status": string(sess.Status)},
	}); err != nil {
		return err
	}

	events, err := m.db.ListEvents(ctx, sessionID, 0)
	if err != nil {
		return err
	}

	lastIndex := -1
	sawTerminal := false
	for _, ev := range events {
		if err := send(ev); err != nil {
			return err
		}
		lastIndex = ev.Index
		if ev.Type.IsTerminal() {
			sawTerminal = true
		}
	}

	if sess.Status != researchmodel.StatusRunning {
		if !sawTerminal {
			if err := send(synthesizeTerminal(sess)); err != nil {
				return err
			}
		}
		return send(doneEvent(sessionID))
	}
	if sawTerminal {
		return send(doneEvent(sessionID))
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			newEvents, err := m.db.ListEventsAfter(ctx, sessionID, lastIndex)
			if err != nil {
				return err
			}
			if len(newEvents) == 0 {
				if err := send(researchmodel.Event{
					Type: researchmodel.EventHeartbeat, SessionID: sessionID,
					Timestamp: time.Now(), Message: "heartbeat",
				}); err != nil {
					return err
				}
				continue
			}
			for _, ev := range newEvents {
				if err := send(ev); err != nil {
					return err
				}
				lastIndex = ev.Index
				if ev.Type.IsTerminal() {
					return send(doneEvent(sessionID))
				}
			}
		}
	}
}

func doneEvent(sessionID string) researchmodel.Event {
	return researchmodel.Event{Type: researchmodel.EventDone, SessionID: sessionID, Timestamp: time.Now(), Message: "done"}
}

// synthesizeTerminal builds the terminal event a session never got to
// emit itself — the crash-recovery path flips status to stopped without
// appending a research_stopped record.
func synthesizeTerminal(sess researchmodel.Session) researchmodel.Event {
	t := researchmodel.EventResearchError
	switch sess.Status {
	case researchmodel.StatusCompleted:
		t = researchmodel.EventResearchCompleted
	case researchmodel.StatusStopped:
		t = researchmodel.EventResearchStopped
	}
	return researchmodel.Event{
		Index: sess.EventsCount, Type: t, SessionID: sess.SessionID,
		Timestamp: time.Now(), Message: "synthesized from persisted session state",
	}
}
