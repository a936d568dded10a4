package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
	"github.com/kadirpekel/deepresearch/internal/session"
)

const listLimit = 30

type handlers struct {
	manager Manager
	logger  *slog.Logger
}

type startRequest struct {
	Query   string                `json:"query"`
	Options researchmodel.Options `json:"options,omitempty"`
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	req := startRequest{Options: researchmodel.NewDefaultOptions()}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	sess, err := h.manager.Start(r.Context(), req.Query, req.Options)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "started",
		"session_id": sess.SessionID,
		"query":      sess.Query,
		"options":    sess.Options,
		"stream_url": "/api/research/" + sess.SessionID + "/events",
		"stop_url":   "/api/research/" + sess.SessionID + "/stop",
		"status_url": "/api/research/" + sess.SessionID + "/status",
	})
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stopped, err := h.manager.Stop(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !stopped {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "not_found_or_completed",
			"session_id": id,
			"message":    "session is not currently running",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "stopped",
		"session_id": id,
		"message":    "session stopped",
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.manager.Status(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, err)
		return
	}

	resp := map[string]any{
		"session_id": sess.SessionID,
		"query":      sess.Query,
		"status":     sess.Status,
		"is_stopped": sess.IsStopped,
		"created_at": researchmodel.ISOTimestamp(sess.CreatedAt),
		"updated_at": researchmodel.ISOTimestamp(sess.UpdatedAt),
		"progress":   progressFor(sess),
	}
	if result := resultFor(sess); result != nil {
		resp["result"] = result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.List(r.Context(), listLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]sessionListItem, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, toListItem(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.manager.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "session_id": id})
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.manager.Status(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, err)
		return
	}
	if sess.FinalReport == nil {
		writeError(w, http.StatusNotFound, "no report for this session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": sess.FinalReport})
}

func (h *handlers) documents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	docs, err := h.manager.Documents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *handlers) document(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	doc, err := h.manager.Document(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *handlers) notFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
