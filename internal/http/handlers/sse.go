package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseSink adapts the progress feed to server-sent events. Write errors are
// returned to the publisher, which drops the event and keeps polling.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
