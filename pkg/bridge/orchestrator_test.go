package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// ============================================================================
// Test doubles
// ============================================================================

// eventRecorder collects emitted events for assertions.
type eventRecorder struct {
	events []agui.Event
}

func (r *eventRecorder) sink() EventSink {
	return func(ev agui.Event) error {
		r.events = append(r.events, ev)
		return nil
	}
}

func (r *eventRecorder) requireTypes(t *testing.T, want ...agui.EventType) {
	t.Helper()
	got := make([]agui.EventType, len(r.events))
	for i, ev := range r.events {
		got[i] = ev.Type()
	}
	require.Equal(t, want, got)
}

// scriptedAgent replays canned updates and records what it was asked to run.
type scriptedAgent struct {
	updates  []*agent.Update
	setupErr error

	runs        int
	gotMessages []*agent.Message
	gotOpts     *agent.RunOptions
}

func (s *scriptedAgent) Name() string        { return "scripted" }
func (s *scriptedAgent) Description() string { return "scripted test agent" }

func (s *scriptedAgent) RunStream(ctx context.Context, messages []*agent.Message, opts *agent.RunOptions) (<-chan *agent.Update, error) {
	s.runs++
	s.gotMessages = messages
	s.gotOpts = opts
	if s.setupErr != nil {
		return nil, s.setupErr
	}
	ch := make(chan *agent.Update, len(s.updates))
	for _, u := range s.updates {
		ch <- u
	}
	close(ch)
	return ch, nil
}

// scriptedTool returns a canned result and records the arguments it saw.
type scriptedTool struct {
	name     string
	result   any
	err      error
	approval agent.ApprovalMode

	mu    sync.Mutex
	calls []map[string]any
}

func (s *scriptedTool) Name() string               { return s.name }
func (s *scriptedTool) Description() string        { return "scripted test tool" }
func (s *scriptedTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *scriptedTool) DeclarationOnly() bool      { return false }

func (s *scriptedTool) ApprovalMode() agent.ApprovalMode {
	if s.approval == "" {
		return agent.ApprovalNever
	}
	return s.approval
}

func (s *scriptedTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()
	return s.result, s.err
}

func update(contents ...agent.Content) *agent.Update {
	return &agent.Update{Contents: contents}
}

// checkStreamInvariants asserts the protocol rules every run must satisfy:
// exactly one RunStarted first, RunFinished last, balanced message and call
// brackets, content only inside them, and snapshot tool calls announced in
// this stream unless they came in with the request.
func checkStreamInvariants(t *testing.T, events []agui.Event, priorIDs ...string) {
	t.Helper()
	require.NotEmpty(t, events)

	require.Equal(t, agui.EventTypeRunStarted, events[0].Type(), "stream must open with RUN_STARTED")
	for i, ev := range events[1:] {
		assert.NotEqual(t, agui.EventTypeRunStarted, ev.Type(), "second RUN_STARTED at index %d", i+1)
	}
	require.Equal(t, agui.EventTypeRunFinished, events[len(events)-1].Type(), "stream must close with RUN_FINISHED")
	for i, ev := range events[:len(events)-1] {
		if ev.Type() == agui.EventTypeRunError {
			assert.Equal(t, len(events)-2, i, "RUN_ERROR must immediately precede RUN_FINISHED")
		}
	}

	prior := make(map[string]bool, len(priorIDs))
	for _, id := range priorIDs {
		prior[id] = true
	}

	openMessages := map[string]bool{}
	openCalls := map[string]bool{}
	announced := map[string]bool{}
	for _, ev := range events {
		switch e := ev.(type) {
		case *agui.TextMessageStartEvent:
			assert.False(t, openMessages[e.MessageID], "message %s started twice", e.MessageID)
			openMessages[e.MessageID] = true
		case *agui.TextMessageContentEvent:
			assert.True(t, openMessages[e.MessageID], "content outside open message %s", e.MessageID)
			assert.NotEmpty(t, e.Delta, "empty text delta")
		case *agui.TextMessageEndEvent:
			assert.True(t, openMessages[e.MessageID], "end without start for message %s", e.MessageID)
			openMessages[e.MessageID] = false
		case *agui.ToolCallStartEvent:
			assert.False(t, openCalls[e.ToolCallID], "call %s started twice", e.ToolCallID)
			openCalls[e.ToolCallID] = true
			announced[e.ToolCallID] = true
		case *agui.ToolCallArgsEvent:
			assert.True(t, openCalls[e.ToolCallID], "args outside open call %s", e.ToolCallID)
		case *agui.ToolCallEndEvent:
			assert.True(t, openCalls[e.ToolCallID], "end without start for call %s", e.ToolCallID)
			openCalls[e.ToolCallID] = false
		case *agui.MessagesSnapshotEvent:
			for _, msg := range e.Messages {
				if prior[msg.ID] {
					continue
				}
				for _, call := range msg.ToolCalls {
					assert.True(t, announced[call.ID], "snapshot call %s never announced", call.ID)
				}
			}
		}
	}
	for id, open := range openMessages {
		assert.False(t, open, "message %s left open", id)
	}
	for id, open := range openCalls {
		assert.False(t, open, "tool call %s left open", id)
	}
}

// ============================================================================
// Orchestrator tests
// ============================================================================

// TestRunPlainChat streams a two-chunk text answer and snapshots the
// conversation at the end.
func TestRunPlainChat(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.TextContent{Text: "Hello"}),
		update(&agent.TextContent{Text: ", world"}),
	}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeMessagesSnapshot,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	started := rec.events[0].(*agui.RunStartedEvent)
	assert.Equal(t, "t1", started.ThreadID)
	assert.Equal(t, "r1", started.RunID)

	snapshot := rec.events[5].(*agui.MessagesSnapshotEvent)
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "m1", snapshot.Messages[0].ID)
	final := snapshot.Messages[1]
	assert.Equal(t, agui.RoleAssistant, final.Role)
	require.NotNil(t, final.Content)
	assert.Equal(t, "Hello, world", *final.Content)
	assert.Equal(t, rec.events[1].(*agui.TextMessageStartEvent).MessageID, final.ID)

	require.Len(t, inner.gotMessages, 1)
	assert.Equal(t, agent.RoleUser, inner.gotMessages[0].Role)
	assert.Equal(t, "t1", inner.gotOpts.ConversationID)
	assert.Nil(t, inner.gotOpts.Tools)
}

// TestRunEmptyInput finishes immediately without touching the inner agent.
func TestRunEmptyInput(t *testing.T) {
	inner := &scriptedAgent{}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{ThreadID: "t1", RunID: "r1"}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t, agui.EventTypeRunStarted, agui.EventTypeRunFinished)
	assert.Zero(t, inner.runs)
}

// TestRunGeneratesIdentifiers fills in thread and run ids when the request
// carries none.
func TestRunGeneratesIdentifiers(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{update(&agent.TextContent{Text: "ok"})}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{Messages: []agui.Message{userMsg("m1", "hi")}}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	started := rec.events[0].(*agui.RunStartedEvent)
	assert.NotEmpty(t, started.ThreadID)
	assert.NotEmpty(t, started.RunID)

	finished := rec.events[len(rec.events)-1].(*agui.RunFinishedEvent)
	assert.Equal(t, started.ThreadID, finished.ThreadID)
	assert.Equal(t, started.RunID, finished.RunID)
}

// TestRunAdoptsProviderIdentifiers prefers the provider's conversation and
// response ids when the first update carries them.
func TestRunAdoptsProviderIdentifiers(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		{Contents: []agent.Content{&agent.TextContent{Text: "ok"}}, ConversationID: "conv-9", ResponseID: "resp-7"},
	}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	started := rec.events[0].(*agui.RunStartedEvent)
	assert.Equal(t, "conv-9", started.ThreadID)
	assert.Equal(t, "resp-7", started.RunID)
}

// TestRunSetupError reports a stream that never started as an in-band error.
func TestRunSetupError(t *testing.T) {
	inner := &scriptedAgent{setupErr: errors.New("provider down")}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t, agui.EventTypeRunStarted, agui.EventTypeRunError, agui.EventTypeRunFinished)
	assert.Equal(t, "provider down", rec.events[1].(*agui.RunErrorEvent).Message)
}

// TestRunMidStreamError terminates with RunError directly before RunFinished.
func TestRunMidStreamError(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.TextContent{Text: "par"}),
		{Err: errors.New("stream torn")},
	}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeTextMessageContent,
		agui.EventTypeRunError,
		agui.EventTypeRunFinished,
	)
	assert.Equal(t, "stream torn", rec.events[3].(*agui.RunErrorEvent).Message)
}

// TestRunServerToolRoundtrip translates a call the inner agent executed
// itself into the full start/args/end/result sequence.
func TestRunServerToolRoundtrip(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.FunctionCallContent{CallID: "C1", Name: "search", Arguments: `{"q":"x"}`}),
		update(&agent.FunctionResultContent{CallID: "C1", Result: "found"}),
	}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "look it up")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallEnd,
		agui.EventTypeToolCallResult,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeMessagesSnapshot,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	snapshot := rec.events[7].(*agui.MessagesSnapshotEvent)
	require.Len(t, snapshot.Messages, 3)
	assistant := snapshot.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "C1", assistant.ToolCalls[0].ID)
	assert.Equal(t, `{"q":"x"}`, assistant.ToolCalls[0].Function.Arguments)
	result := snapshot.Messages[2]
	assert.Equal(t, agui.RoleTool, result.Role)
	assert.Equal(t, "C1", result.ToolCallID)
	require.NotNil(t, result.Content)
	assert.Equal(t, "found", *result.Content)
}

// TestRunClientToolDeclarationOnly closes an unanswered client call at the
// end of the stream and hands the declaration to the inner agent.
func TestRunClientToolDeclarationOnly(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.FunctionCallContent{CallID: "C1", Name: "pick_color", Arguments: `{"hue":"red"}`}),
	}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "pick one")},
		Tools:    []agui.ToolSpec{{Name: "pick_color", Parameters: map[string]any{"type": "object"}}},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallEnd,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeMessagesSnapshot,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	require.Len(t, inner.gotOpts.Tools, 1)
	assert.Equal(t, "pick_color", inner.gotOpts.Tools[0].Name())
	assert.True(t, inner.gotOpts.Tools[0].DeclarationOnly())

	snapshot := rec.events[6].(*agui.MessagesSnapshotEvent)
	require.Len(t, snapshot.Messages, 2)
	require.Len(t, snapshot.Messages[1].ToolCalls, 1)
	assert.Equal(t, "pick_color", snapshot.Messages[1].ToolCalls[0].Function.Name)
}

// TestRunPredictiveStreaming mirrors a bound client tool's streaming
// arguments into state deltas and commits them as the final state without a
// messages snapshot.
func TestRunPredictiveStreaming(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.FunctionCallContent{CallID: "C1", Name: "update_recipe", Arguments: `{"ti`}),
		update(&agent.FunctionCallContent{Arguments: `tle":"So`}),
		update(&agent.FunctionCallContent{Arguments: `up"}`}),
	}}
	o := NewOrchestrator(Config{
		Agent:       inner,
		StateSchema: map[string]any{"recipe": map[string]any{"type": "object"}},
	})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID:     "t1",
		RunID:        "r1",
		Messages:     []agui.Message{userMsg("m1", "make soup")},
		PredictState: agui.PredictStateConfig{"recipe": {Tool: "update_recipe", ToolArgument: agui.WildcardArgument}},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeCustom,
		agui.EventTypeStateSnapshot,
		agui.EventTypeTextMessageStart,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallArgs,
		agui.EventTypeStateDelta,
		agui.EventTypeToolCallEnd,
		agui.EventTypeStateSnapshot,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	custom := rec.events[1].(*agui.CustomEvent)
	assert.Equal(t, agui.CustomEventPredictState, custom.Name)
	assert.Equal(t, []agui.PredictStateEntry{
		{StateKey: "recipe", Tool: "update_recipe", ToolArgument: agui.WildcardArgument},
	}, custom.Value)

	initial := rec.events[2].(*agui.StateSnapshotEvent)
	assert.Equal(t, map[string]any{"recipe": map[string]any{}}, initial.Snapshot)

	delta := rec.events[8].(*agui.StateDeltaEvent)
	require.Len(t, delta.Delta, 1)
	assert.Equal(t, "/recipe", delta.Delta[0].Path)
	assert.Equal(t, map[string]any{"title": "Soup"}, delta.Delta[0].Value)

	final := rec.events[10].(*agui.StateSnapshotEvent)
	assert.Equal(t, map[string]any{"recipe": map[string]any{"title": "Soup"}}, final.Snapshot)
}

// TestRunPredictStateFromForwardedProps picks the binding up from forwarded
// props when the typed field is absent.
func TestRunPredictStateFromForwardedProps(t *testing.T) {
	inner := &scriptedAgent{}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
		ForwardedProps: map[string]any{
			"predict_state_config": map[string]any{
				"doc": map[string]any{"tool": "write_doc", "tool_argument": "content"},
			},
		},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t, agui.EventTypeRunStarted, agui.EventTypeCustom, agui.EventTypeRunFinished)
	custom := rec.events[1].(*agui.CustomEvent)
	assert.Equal(t, []agui.PredictStateEntry{
		{StateKey: "doc", Tool: "write_doc", ToolArgument: "content"},
	}, custom.Value)
}

// TestRunApprovalPause stops the stream after an approval request and leaves
// the announced call in the snapshot for the next turn.
func TestRunApprovalPause(t *testing.T) {
	tool := &scriptedTool{name: "refund", result: "refund issued", approval: agent.ApprovalAlways}
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.FunctionCallContent{CallID: "C1", Name: "refund", Arguments: `{"amount":50}`}),
		update(&agent.FunctionApprovalRequestContent{
			ID:           "A1",
			FunctionCall: &agent.FunctionCallContent{CallID: "C1", Name: "refund", Arguments: `{"amount":50}`},
		}),
	}}
	o := NewOrchestrator(Config{Agent: inner, Tools: []agent.Tool{tool}})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "refund order 7")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallEnd,
		agui.EventTypeCustom,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeMessagesSnapshot,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	custom := rec.events[5].(*agui.CustomEvent)
	assert.Equal(t, agui.CustomEventFunctionApprovalRequest, custom.Name)
	value := custom.Value.(map[string]any)
	assert.Equal(t, "A1", value["id"])
	fc := value["function_call"].(map[string]any)
	assert.Equal(t, "C1", fc["call_id"])
	assert.Equal(t, "refund", fc["name"])
	assert.Equal(t, `{"amount":50}`, fc["arguments"])

	assert.Empty(t, tool.calls, "tool must not run before approval")
	snapshot := rec.events[7].(*agui.MessagesSnapshotEvent)
	require.Len(t, snapshot.Messages, 2)
	require.Len(t, snapshot.Messages[1].ToolCalls, 1)
	assert.Equal(t, `{"amount":50}`, snapshot.Messages[1].ToolCalls[0].Function.Arguments)
}

// TestRunApprovalResolution executes the approved call from the resubmitted
// history and emits its result before the new assistant turn.
func TestRunApprovalResolution(t *testing.T) {
	tool := &scriptedTool{name: "refund", result: "refund issued", approval: agent.ApprovalAlways}
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.TextContent{Text: "Refund processed."}),
	}}
	o := NewOrchestrator(Config{Agent: inner, Tools: []agent.Tool{tool}})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r2",
		Messages: []agui.Message{
			userMsg("m1", "refund order 7"),
			assistantCallMsg("m2", call("C1", "refund", `{"amount":50}`)),
			toolMsg("m3", "C1", `{"accepted":true}`),
		},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeToolCallResult,
		agui.EventTypeTextMessageStart,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeMessagesSnapshot,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1", "m2", "m3")

	require.Len(t, tool.calls, 1)
	assert.Equal(t, map[string]any{"amount": float64(50)}, tool.calls[0])

	result := rec.events[1].(*agui.ToolCallResultEvent)
	assert.Equal(t, "C1", result.ToolCallID)
	assert.Equal(t, "refund issued", result.Content)

	// The inner agent sees the executed result, not the approval payload.
	require.Len(t, inner.gotMessages, 3)
	assert.Equal(t, agent.RoleTool, inner.gotMessages[2].Role)
	executed, ok := resultContent(inner.gotMessages[2])
	require.True(t, ok)
	assert.Equal(t, "refund issued", executed.Result)

	snapshot := rec.events[5].(*agui.MessagesSnapshotEvent)
	require.Len(t, snapshot.Messages, 5)
	last := snapshot.Messages[4]
	assert.Equal(t, agui.RoleTool, last.Role)
	assert.Equal(t, "C1", last.ToolCallID)
}

// TestRunConfirmAcknowledgement ends a confirm_changes answer for a
// non-executable function with acknowledgement text only.
func TestRunConfirmAcknowledgement(t *testing.T) {
	steps := `[{"description":"Add milk","status":"enabled"},{"description":"Add eggs","status":"disabled"}]`

	tests := []struct {
		name         string
		answer       string
		wantText     string
		wantDecision string
	}{
		{
			name:         "accepted with steps",
			answer:       `{"accepted":true,"steps":` + steps + `}`,
			wantText:     "Executing the approved steps:\n- Add milk",
			wantDecision: "confirmed",
		},
		{
			name:         "rejected with steps",
			answer:       `{"accepted":false,"steps":` + steps + `}`,
			wantText:     "Understood, the proposed steps were not executed.",
			wantDecision: "rejected",
		},
		{
			name:         "accepted with all steps disabled",
			answer:       `{"accepted":true,"steps":[{"description":"Add milk","status":"disabled"}]}`,
			wantText:     "No steps were approved, so nothing was executed.",
			wantDecision: "confirmed",
		},
		{
			name:         "state change confirmed",
			answer:       `{"accepted":true,"steps":[]}`,
			wantText:     "The changes have been applied.",
			wantDecision: "confirmed",
		},
		{
			name:         "state change discarded",
			answer:       `{"accepted":false,"steps":[]}`,
			wantText:     "The changes were discarded.",
			wantDecision: "rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedAgent{}
			decisions := &decisionRecorder{}
			o := NewOrchestrator(Config{Agent: inner, Metrics: decisions})
			rec := &eventRecorder{}

			input := &agui.RunAgentInput{
				ThreadID: "t1",
				RunID:    "r2",
				Messages: []agui.Message{
					userMsg("m1", "add these"),
					assistantCallMsg("m2",
						call("C1", "add_todo", `{"items":["milk","eggs"]}`),
						confirmCall("CC1", "add_todo", "C1", map[string]any{"items": []any{"milk", "eggs"}}),
					),
					toolMsg("m3", "CC1", tt.answer),
				},
			}
			require.NoError(t, o.Run(context.Background(), input, rec.sink()))

			rec.requireTypes(t,
				agui.EventTypeRunStarted,
				agui.EventTypeTextMessageStart,
				agui.EventTypeTextMessageContent,
				agui.EventTypeTextMessageEnd,
				agui.EventTypeRunFinished,
			)
			assert.Equal(t, tt.wantText, rec.events[2].(*agui.TextMessageContentEvent).Delta)
			assert.Zero(t, inner.runs, "inner agent must not run for an acknowledgement")
			assert.Equal(t, []string{tt.wantDecision}, decisions.decisions)
		})
	}
}

// TestRunStateContextInjection surfaces the live state document to the model
// as a system message before the last user message.
func TestRunStateContextInjection(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{update(&agent.TextContent{Text: "noted"})}}
	o := NewOrchestrator(Config{
		Agent:       inner,
		StateSchema: map[string]any{"doc": map[string]any{"type": "object"}},
	})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "update the doc")},
		State:    map[string]any{"doc": map[string]any{"x": float64(1)}},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	require.Len(t, inner.gotMessages, 2)
	assert.Equal(t, agent.RoleSystem, inner.gotMessages[0].Role)
	text := inner.gotMessages[0].Text()
	assert.Contains(t, text, "Current application state (JSON):")
	assert.Contains(t, text, `"x": 1`)
	assert.Equal(t, agent.RoleUser, inner.gotMessages[1].Role)

	assert.Equal(t, agui.EventTypeStateSnapshot, rec.events[1].Type())
}

// TestRunStructuredOutput folds the aggregated JSON into state and emits the
// message field as text, with no messages snapshot.
func TestRunStructuredOutput(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.TextContent{Text: `{"summary":{"tone":"good"},`}),
		update(&agent.TextContent{Text: `"message":"All done"}`}),
	}}
	o := NewOrchestrator(Config{
		Agent:          inner,
		StateSchema:    map[string]any{"summary": map[string]any{"type": "object"}},
		ResponseFormat: &agent.ResponseFormat{Name: "report", Schema: map[string]any{"type": "object"}},
	})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "summarize")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeStateSnapshot,
		agui.EventTypeStateSnapshot,
		agui.EventTypeTextMessageStart,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	assert.Equal(t, &agent.ResponseFormat{Name: "report", Schema: map[string]any{"type": "object"}}, inner.gotOpts.ResponseFormat)

	final := rec.events[2].(*agui.StateSnapshotEvent)
	assert.Equal(t, map[string]any{"summary": map[string]any{"tone": "good"}}, final.Snapshot)
	assert.Equal(t, "All done", rec.events[4].(*agui.TextMessageContentEvent).Delta)
}

// TestRunPredictiveConfirmation applies the completed arguments, asks for
// confirmation through a confirm_changes call, and keeps both calls in the
// snapshot so the next turn can resolve the answer.
func TestRunPredictiveConfirmation(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{
		update(&agent.FunctionCallContent{CallID: "C1", Name: "update_recipe", Arguments: `{"title":"Soup"}`}),
	}}
	o := NewOrchestrator(Config{
		Agent:               inner,
		StateSchema:         map[string]any{"recipe": map[string]any{"type": "object"}},
		PredictState:        agui.PredictStateConfig{"recipe": {Tool: "update_recipe", ToolArgument: agui.WildcardArgument}},
		RequireConfirmation: true,
	})
	rec := &eventRecorder{}

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "make soup")},
	}
	require.NoError(t, o.Run(context.Background(), input, rec.sink()))

	rec.requireTypes(t,
		agui.EventTypeRunStarted,
		agui.EventTypeCustom,
		agui.EventTypeStateSnapshot,
		agui.EventTypeTextMessageStart,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeStateDelta,
		agui.EventTypeToolCallEnd,
		agui.EventTypeStateSnapshot,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallEnd,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeMessagesSnapshot,
		agui.EventTypeRunFinished,
	)
	checkStreamInvariants(t, rec.events, "m1")

	confirm := rec.events[9].(*agui.ToolCallStartEvent)
	assert.Equal(t, ConfirmChangesTool, confirm.ToolCallName)

	var dialog confirmArguments
	require.NoError(t, json.Unmarshal([]byte(rec.events[10].(*agui.ToolCallArgsEvent).Delta), &dialog))
	assert.Equal(t, "update_recipe", dialog.FunctionName)
	assert.Equal(t, "C1", dialog.FunctionCallID)
	require.Len(t, dialog.Steps, 1)
	assert.Equal(t, "Execute update_recipe", dialog.Steps[0].Description)
	assert.True(t, dialog.Steps[0].Enabled())

	applied := rec.events[8].(*agui.StateSnapshotEvent)
	assert.Equal(t, map[string]any{"recipe": map[string]any{"title": "Soup"}}, applied.Snapshot)

	snapshot := rec.events[13].(*agui.MessagesSnapshotEvent)
	require.Len(t, snapshot.Messages, 2)
	require.Len(t, snapshot.Messages[1].ToolCalls, 2)
	assert.Equal(t, "C1", snapshot.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, ConfirmChangesTool, snapshot.Messages[1].ToolCalls[1].Function.Name)
	assert.True(t, strings.Contains(snapshot.Messages[1].ToolCalls[1].Function.Arguments, `"function_call_id":"C1"`))
}

// TestRunSinkFailure aborts the run when the client connection is gone.
func TestRunSinkFailure(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{update(&agent.TextContent{Text: "hi"})}}
	o := NewOrchestrator(Config{Agent: inner})

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
	}
	err := o.Run(context.Background(), input, func(agui.Event) error {
		return errors.New("client gone")
	})
	assert.EqualError(t, err, "client gone")
}

// TestRunContextCancelled stops draining updates once the request context is
// done.
func TestRunContextCancelled(t *testing.T) {
	inner := &scriptedAgent{updates: []*agent.Update{update(&agent.TextContent{Text: "hi"})}}
	o := NewOrchestrator(Config{Agent: inner})
	rec := &eventRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{userMsg("m1", "hi")},
	}
	err := o.Run(ctx, input, rec.sink())
	require.ErrorIs(t, err, context.Canceled)
}
