package ssegateway

import (
	"net/http"
	"time"

	"github.com/mgx-platform/agentcore/internal/store"
)

// stream drives one SSE connection: poll events_since(sessionID, watermark)
// at Config.PollInterval in batches of Config.PollBatchSize, emitting one
// SSE frame per event and advancing the watermark to the last-seen
// timestamp after each batch. A terminal finish event closes the
// connection after one additional 0-byte flush (spec.md §4.9); an idle
// connection (no events for IdleTimeout) closes without a finish so the
// client can reconnect via stream-continue.
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, sessionID string, since *float64) {
	fw, ok := newFrameWriter(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(g.Config.pollInterval())
	defer ticker.Stop()

	watermark := since
	idleDeadline := time.Now().Add(g.Config.idleTimeout())

	for {
		select {
		case <-ctx.Done():
			// Client disconnect is a TransportError per spec.md §7: the
			// task keeps running and writing events; it can be resumed via
			// stream-continue. Nothing to clean up here.
			return
		case <-ticker.C:
			events, err := g.Events.EventsSince(ctx, sessionID, watermark, g.Config.pollBatchSize())
			if err != nil {
				g.Log.Warn(ctx, "ssegateway: events_since poll failed", "session_id", sessionID, "err", err)
				continue
			}
			if len(events) == 0 {
				if time.Now().After(idleDeadline) {
					return
				}
				continue
			}
			idleDeadline = time.Now().Add(g.Config.idleTimeout())

			for _, ev := range events {
				if err := fw.writeEvent(string(ev.Type), ev.ID, ev); err != nil {
					g.Log.Warn(ctx, "ssegateway: sse write failed, client likely gone", "session_id", sessionID, "err", err)
					return
				}
				watermark = &ev.Timestamp
				if ev.Type == store.EventFinish {
					fw.closeAfterFinish()
					return
				}
			}
		}
	}
}
