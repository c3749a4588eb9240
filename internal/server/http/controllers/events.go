package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventStream writes Server-Sent Events. Status events carry the oplog index
// as their id so a reconnecting client can tell which state it last saw.
type eventStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func openEventStream(w http.ResponseWriter) *eventStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	f, _ := w.(http.Flusher)
	return &eventStream{w: w, f: f}
}

func (s *eventStream) send(id uint64, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flush()
	return nil
}

// ping writes a comment line. A failed write means the client went away.
func (s *eventStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *eventStream) flush() {
	if s.f != nil {
		s.f.Flush()
	}
}
