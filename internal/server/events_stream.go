package server

import (
	"encoding/json"
	"net/http"
)

// handleEventsStream streams batch lifecycle events as Server-Sent Events.
// Grounded in the teacher's internal/server/events_stream.go SSE handshake
// (Content-Type/Cache-Control/Connection headers, flusher-driven write
// loop, context-cancellation teardown), narrowed from the teacher's
// log-file-tailing variant down to a pure event-bus subscriber since this
// module's lifecycle events already carry everything a client needs.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.events.Subscribe(64)
	defer unsubscribe()

	s.log.Info().Msg("client connected to batch events stream")

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to encode event for SSE stream")
				continue
			}
			if _, err := w.Write([]byte("event: " + string(evt.Type) + "\ndata: ")); err != nil {
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
