package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// eventStream writes server-sent events, flushing after each one so the
// client sees progress while a long operation runs.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newEventStream prepares w for SSE output and writes the stream headers.
func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, nil
}

// send writes one event as a JSON data frame. Encoding failures are
// swallowed; the client sees the stream end instead.
func (s *eventStream) send(data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}
