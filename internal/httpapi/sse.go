package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mindmux/mindmux/internal/bus"
	"github.com/mindmux/mindmux/internal/log"
)

// idleTimeout evicts subscribers that received nothing for a minute.
// The 30 s bus heartbeat keeps healthy connections under it.
const idleTimeout = 60 * time.Second

// StreamEvents serves the SSE stream: replayed ring history first, then
// live events until the client disconnects or goes idle.
// GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_, _ = fmt.Fprint(w, ": SSE connection established\n\n")
	flusher.Flush()

	// Snapshot and subscription are atomic: no event is lost between
	// them, and none is delivered both replayed and live.
	replay, events := h.bus.SubscribeWithReplay(r.Context())
	for _, event := range replay {
		if err := writeSSE(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			log.Debug(log.CatHTTP, "evicting idle SSE subscriber", "remote", r.RemoteAddr)
			return
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)
		}
	}
}

// writeSSE renders one event frame. The payload always carries an
// ISO-8601 timestamp alongside the emitter's fields.
func writeSSE(w io.Writer, event bus.Event) error {
	data := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		data[k] = v
	}
	data["timestamp"] = event.Timestamp.UTC().Format(time.RFC3339)

	raw, err := json.Marshal(data)
	if err != nil {
		log.Error(log.CatHTTP, "marshalling SSE event failed", "type", string(event.Type), "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, raw)
	return err
}
