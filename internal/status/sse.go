package status

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fleetsync/internal/agent"
)

// handleEvents streams a "status" event whenever the status changes, with
// periodic heartbeats, until the client disconnects.
func handleEvents(svc Service, interval time.Duration) gin.HandlerFunc {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ctx := c.Request.Context()
		var last agent.Status
		send := func() {
			st, err := svc.Status(ctx)
			if err != nil {
				writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
				c.Writer.Flush()
				return
			}
			if sameStatus(st, last) {
				return
			}
			last = st
			writeSSE(c.Writer, "status", st)
			c.Writer.Flush()
		}

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		send()

		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				send()
			}
		}
	}
}

func sameStatus(a, b agent.Status) bool {
	aNext, bNext := a.NextDue, b.NextDue
	a.NextDue, b.NextDue = nil, nil
	if a != b {
		return false
	}
	switch {
	case aNext == nil || bNext == nil:
		return aNext == bNext
	default:
		return aNext.Equal(*bNext)
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
