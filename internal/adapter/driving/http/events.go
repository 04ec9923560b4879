package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Events streams pin changes as Server-Sent Events. Each event is named
// "pin" and carries a PinEventResponse; comment lines keep idle proxies from
// closing the connection.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	rc := http.NewResponseController(w)
	ctx := r.Context()

	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream not flushable", "error", err)
		return
	}

	sub := h.hub.Subscribe(ctx)
	defer sub.Close()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(toPinEventResponse(ev))
			if err != nil {
				h.logger.Error("failed to marshal pin event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: pin\ndata: %s\n\n", payload); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}
