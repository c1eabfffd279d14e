package agui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// SSE Writer
// ============================================================================

// SSEWriter encodes AG-UI events as server-sent-event frames. Each event is
// written as "event: <type>\ndata: <json>\n\n" and flushed immediately when
// the underlying writer supports it.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. When w implements http.Flusher, frames are flushed at
// event boundaries so clients observe chunks as they are produced.
func NewSSEWriter(w io.Writer) *SSEWriter {
	sw := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteEvent writes one event as an SSE frame.
func (s *SSEWriter) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type(), err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type(), data); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// ============================================================================
// SSE Decoder
// ============================================================================

// StreamDecoder reads AG-UI events back out of an SSE stream. The event type
// is taken from the payload's "type" field; the "event:" line is redundant
// and skipped.
type StreamDecoder struct {
	scanner *bufio.Scanner
}

// NewStreamDecoder reads SSE frames from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &StreamDecoder{scanner: sc}
}

// Next returns the next decoded event, or io.EOF when the stream ends.
func (d *StreamDecoder) Next() (Event, error) {
	var data []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				return UnmarshalEvent([]byte(strings.Join(data, "\n")))
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return UnmarshalEvent([]byte(strings.Join(data, "\n")))
	}
	return nil, io.EOF
}

// UnmarshalEvent decodes a single event payload into its concrete type.
// Unknown event types decode to *RawEvent with the payload preserved.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	var ev Event
	switch probe.Type {
	case EventTypeRunStarted:
		ev = &RunStartedEvent{}
	case EventTypeRunFinished:
		ev = &RunFinishedEvent{}
	case EventTypeRunError:
		ev = &RunErrorEvent{}
	case EventTypeTextMessageStart:
		ev = &TextMessageStartEvent{}
	case EventTypeTextMessageContent:
		ev = &TextMessageContentEvent{}
	case EventTypeTextMessageEnd:
		ev = &TextMessageEndEvent{}
	case EventTypeToolCallStart:
		ev = &ToolCallStartEvent{}
	case EventTypeToolCallArgs:
		ev = &ToolCallArgsEvent{}
	case EventTypeToolCallEnd:
		ev = &ToolCallEndEvent{}
	case EventTypeToolCallResult:
		ev = &ToolCallResultEvent{}
	case EventTypeStateSnapshot:
		ev = &StateSnapshotEvent{}
	case EventTypeStateDelta:
		ev = &StateDeltaEvent{}
	case EventTypeMessagesSnapshot:
		ev = &MessagesSnapshotEvent{}
	case EventTypeCustom:
		ev = &CustomEvent{}
	default:
		return &RawEvent{
			BaseEvent: BaseEvent{EventType: probe.Type},
			Data:      append(json.RawMessage(nil), data...),
		}, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", probe.Type, err)
	}
	return ev, nil
}
