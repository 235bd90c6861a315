package ssegateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// frameWriter emits SSE frames in the exact wire format required by
// spec.md §6: "event: <type>\nid: <id>\ndata: <json>\n\n", one frame per
// event, no comments, no multi-line data. Grounded on
// kadirpekel-hector/pkg/a2a/server.go's sendSSEEvent, extended with the
// id: line events_since requires for resumption.
type frameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newFrameWriter(w http.ResponseWriter) (*frameWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &frameWriter{w: w, flusher: flusher}, true
}

func (f *frameWriter) writeEvent(eventType, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("ssegateway: marshal event payload: %w", err)
	}
	if _, err := fmt.Fprintf(f.w, "event: %s\nid: %s\ndata: %s\n\n", eventType, id, payload); err != nil {
		return err
	}
	f.flusher.Flush()
	return nil
}

// closeAfterFinish performs the one additional 0-byte flush spec.md §4.9
// requires after a terminal finish event, then lets the handler return so
// the connection closes.
func (f *frameWriter) closeAfterFinish() {
	_, _ = f.w.Write(nil)
	f.flusher.Flush()
}
