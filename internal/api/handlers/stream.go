package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"sagaflow.io/sagaflow/internal/stream"
)

// StreamSagaEvents handles GET /api/saga/:sagaId/stream as a server-sent
// event stream: a connected ack, the replayed history and state, then
// live events until the saga finishes, the client hangs up, or the
// connection's fixed lifetime runs out.
func (s *Server) StreamSagaEvents(c *gin.Context) {
	sub, err := s.hub.Subscribe(c.Request.Context(), c.Param("sagaId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer s.hub.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	lifetime := time.NewTimer(s.hub.IdleTimeout())
	defer lifetime.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case frame := <-sub.Frames():
			c.SSEvent(frame.Event, frame.Data)
			return true
		case <-sub.Done():
			return flushRemaining(c, sub)
		case <-c.Request.Context().Done():
			return false
		case <-lifetime.C:
			return false
		}
	})
}

// flushRemaining drains frames queued before the subscription closed so
// the terminal event still reaches the client.
func flushRemaining(c *gin.Context, sub *stream.Subscription) bool {
	for {
		select {
		case frame := <-sub.Frames():
			c.SSEvent(frame.Event, frame.Data)
		default:
			return false
		}
	}
}
