package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/deepresearch/internal/researchmodel"
	"github.com/kadirpekel/deepresearch/internal/session"
)

// events streams a session's event log as SSE: one `data: <json>` frame
// per event, terminated by a `done` event. Grounded on
// pkg/transport/rest_gateway.go's handleStreamingMessageSSE/restStreamWrapper,
// adapted from its protobuf/grpc-stream source to Manager.Stream's
// durable-log replay-then-poll source.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	send := func(ev researchmodel.Event) error {
		data, err := json.Marshal(toEventWire(ev))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.manager.Stream(r.Context(), id, send); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Warn("event stream ended with error", "session_id", id, "error", err)
	}
}
