// Package checkpoint implements crash recovery for the session runtime: on
// first use, any session persisted with status=running is rehydrated as
// stopped. Unlike the teacher's RecoveryManager, which resumes WORKING
// tasks from checkpoint via a ResumeCallback, this implementation never
// calls back into the graph — resuming a non-deterministic LLM pipeline
// mid-flight is unsound (spec §9 "Resumption"), so recovery here only
// flips status and never launches an executor.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
)

// Store is the subset of the persistence store the recovery manager needs.
type Store interface {
	ListSessions(ctx context.Context, limit int) ([]researchmodel.Session, error)
	UpsertSession(ctx context.Context, sess researchmodel.Session) error
}

// MaxRecoveryScan bounds how many of the most-recently-updated sessions are
// loaded into memory on startup, per spec §4.6 "loads up to 200 most-recent
// persisted sessions".
const MaxRecoveryScan = 200

// RecoveryManager rehydrates crashed sessions on startup.
type RecoveryManager struct {
	store Store
}

// NewRecoveryManager builds a RecoveryManager over store.
func NewRecoveryManager(store Store) *RecoveryManager {
	return &RecoveryManager{store: store}
}

// Recover loads up to MaxRecoveryScan most-recent sessions and, for any
// found with status=running, rewrites it to status=stopped with
// is_stopped=true. It returns the full loaded set (for the Manager's
// in-memory cache) and the subset that was rehydrated.
func (m *RecoveryManager) Recover(ctx context.Context) (all []researchmodel.Session, recovered []researchmodel.Session, err error) {
	sessions, err := m.store.ListSessions(ctx, MaxRecoveryScan)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: list sessions for recovery: %w", err)
	}

	for i, sess := range sessions {
		if sess.Status != researchmodel.StatusRunning {
			continue
		}
		sess.Status = researchmodel.StatusStopped
		sess.IsStopped = true
		sess.UpdatedAt = time.Now().UTC()
		if sess.State != nil {
			sess.State.Status = researchmodel.StatusStopped
			sess.State.IsStopped = true
		}
		if err := m.store.UpsertSession(ctx, sess); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: rehydrate session %s: %w", sess.SessionID, err)
		}
		sessions[i] = sess
		recovered = append(recovered, sess)
		slog.Info("checkpoint: rehydrated running session as stopped", "session_id", sess.SessionID)
	}

	if len(recovered) > 0 {
		slog.Info("checkpoint: crash recovery complete", "recovered", len(recovered), "scanned", len(sessions))
	} else {
		slog.Debug("checkpoint: crash recovery found nothing to rehydrate", "scanned", len(sessions))
	}
	return sessions, recovered, nil
}
