package transport

import (
	"context"
	"net/http"

	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

// prepareSSE sets the streaming response headers. X-Accel-Buffering disables
// reverse-proxy buffering so deltas reach the client as they are produced.
func prepareSSE(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// eventStream adapts one HTTP response into an event sink: each event becomes
// an SSE frame, flushed at the frame boundary, and counted by type.
type eventStream struct {
	ctx     context.Context
	writer  *agui.SSEWriter
	metrics observability.Metrics
	sent    int
}

func newEventStream(ctx context.Context, w http.ResponseWriter, metrics observability.Metrics) *eventStream {
	return &eventStream{
		ctx:     ctx,
		writer:  agui.NewSSEWriter(w),
		metrics: metrics,
	}
}

// Send writes one event. A cancelled request context means the client went
// away; the error stops the run.
func (s *eventStream) Send(ev agui.Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if err := s.writer.WriteEvent(ev); err != nil {
		return err
	}
	s.sent++
	s.metrics.RecordEvent(s.ctx, string(ev.Type()))
	return nil
}

// Sent reports how many events reached the wire.
func (s *eventStream) Sent() int {
	return s.sent
}

// statusWriter captures the response status for request logging. Flush is
// forwarded so SSE streaming keeps working behind the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
