package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// sseKeepaliveInterval is how often an idle stream emits a comment frame so
// proxies keep the connection open.
const sseKeepaliveInterval = 15 * time.Second

// HandleStreamEvents handles GET /v1/sessions/{session_id}/events. It attaches
// to the session's event stream and forwards events as SSE frames until the
// stream closes or the client disconnects.
func (h *Handlers) HandleStreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}

	events, cancel, ok := h.sessions.Subscribe(sessionID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "no active stream for session")
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("sse: marshal event", "session_id", sessionID, "error", err)
				continue
			}
			if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
