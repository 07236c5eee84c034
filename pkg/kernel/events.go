package kernel

import (
	"fmt"
	"net/http"
)

// streamEvents subscribes to one EventBus key and relays its events to the
// client as SSE until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, key string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.eventBus.Subscribe(key)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}

// handleConversationSSE streams events for one conversation, keyed by the
// conversation ID on the bus (new assistant messages).
// GET /v1/conversations/{id}/events
func (s *Server) handleConversationSSE(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	if convID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	s.streamEvents(w, r, convID)
}

// handleIngestSSE streams archive pipeline progress events.
// GET /v1/ingest/events
func (s *Server) handleIngestSSE(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, "ingest")
}
