package agui

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flushRecorder counts flushes so tests can verify per-event flushing.
type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestSSEWriterFrameFormat(t *testing.T) {
	rec := &flushRecorder{}
	w := NewSSEWriter(rec)

	require.NoError(t, w.WriteEvent(NewRunStartedEvent("t1", "r1")))
	require.NoError(t, w.WriteEvent(NewTextMessageContentEvent("m1", "hi")))

	frames := rec.String()
	assert.Equal(t,
		"event: RUN_STARTED\n"+
			`data: {"type":"RUN_STARTED","threadId":"t1","runId":"r1"}`+"\n\n"+
			"event: TEXT_MESSAGE_CONTENT\n"+
			`data: {"type":"TEXT_MESSAGE_CONTENT","messageId":"m1","delta":"hi"}`+"\n\n",
		frames)
	assert.Equal(t, 2, rec.flushes)
}

func TestSSEWriterPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewSSEWriter(&buf)

	require.NoError(t, w.WriteEvent(NewToolCallEndEvent("c1")))
	assert.True(t, strings.HasPrefix(buf.String(), "event: TOOL_CALL_END\n"))
}

func TestStreamDecoderReadsFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewSSEWriter(&buf)
	require.NoError(t, w.WriteEvent(NewRunStartedEvent("t1", "r1")))
	require.NoError(t, w.WriteEvent(NewTextMessageStartEvent("m1")))
	require.NoError(t, w.WriteEvent(NewTextMessageContentEvent("m1", "hello")))
	require.NoError(t, w.WriteEvent(NewTextMessageEndEvent("m1")))
	require.NoError(t, w.WriteEvent(NewRunFinishedEvent("t1", "r1")))

	d := NewStreamDecoder(&buf)

	var types []EventType
	for {
		ev, err := d.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.Type())
	}

	assert.Equal(t, []EventType{
		EventTypeRunStarted,
		EventTypeTextMessageStart,
		EventTypeTextMessageContent,
		EventTypeTextMessageEnd,
		EventTypeRunFinished,
	}, types)
}

func TestStreamDecoderMultilineData(t *testing.T) {
	// A data payload split across two data: lines joins with a newline,
	// per the SSE spec.
	stream := "event: CUSTOM\n" +
		"data: {\"type\":\"CUSTOM\",\n" +
		"data: \"name\":\"PredictState\"}\n\n"

	d := NewStreamDecoder(strings.NewReader(stream))
	ev, err := d.Next()
	require.NoError(t, err)

	custom, ok := ev.(*CustomEvent)
	require.True(t, ok)
	assert.Equal(t, "PredictState", custom.Name)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}
