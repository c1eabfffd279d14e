// Package agui implements the AG-UI wire protocol: the event, message, and
// run-input types exchanged with AG-UI clients, their JSON encoding, and the
// SSE framing used to transport them.
package agui

import "encoding/json"

// ============================================================================
// Event Types
// ============================================================================

// EventType identifies an AG-UI event on the wire.
type EventType string

const (
	EventTypeRunStarted         EventType = "RUN_STARTED"
	EventTypeRunFinished        EventType = "RUN_FINISHED"
	EventTypeRunError           EventType = "RUN_ERROR"
	EventTypeTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTypeTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTypeTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventTypeToolCallStart      EventType = "TOOL_CALL_START"
	EventTypeToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventTypeToolCallEnd        EventType = "TOOL_CALL_END"
	EventTypeToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventTypeStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventTypeStateDelta         EventType = "STATE_DELTA"
	EventTypeMessagesSnapshot   EventType = "MESSAGES_SNAPSHOT"
	EventTypeCustom             EventType = "CUSTOM"
)

// Names used on CustomEvent.Name by the bridge protocol.
const (
	CustomEventPredictState            = "PredictState"
	CustomEventFunctionApprovalRequest = "function_approval_request"
)

// Event is implemented by every AG-UI event.
type Event interface {
	Type() EventType
}

// BaseEvent carries the type discriminator shared by all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
}

// Type returns the wire event type.
func (e BaseEvent) Type() EventType { return e.EventType }

// ============================================================================
// Lifecycle Events
// ============================================================================

// RunStartedEvent signals that a run has begun.
type RunStartedEvent struct {
	BaseEvent
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

// RunFinishedEvent signals that a run completed normally.
type RunFinishedEvent struct {
	BaseEvent
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

// RunErrorEvent reports a run failure in-band. It is followed by a
// RunFinishedEvent so clients can always dispose on RunFinished.
type RunErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// Text Message Events
// ============================================================================

// TextMessageStartEvent opens a streaming assistant text message.
type TextMessageStartEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

// TextMessageContentEvent carries one chunk of message text. Delta is never
// empty.
type TextMessageContentEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// TextMessageEndEvent closes a streaming text message.
type TextMessageEndEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
}

// ============================================================================
// Tool Call Events
// ============================================================================

// ToolCallStartEvent announces a tool call. ParentMessageID anchors the call
// to the assistant message it belongs to.
type ToolCallStartEvent struct {
	BaseEvent
	ToolCallID      string `json:"toolCallId"`
	ToolCallName    string `json:"toolCallName"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// ToolCallArgsEvent carries one chunk of the call's JSON argument string.
type ToolCallArgsEvent struct {
	BaseEvent
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

// ToolCallEndEvent closes a tool call's argument stream.
type ToolCallEndEvent struct {
	BaseEvent
	ToolCallID string `json:"toolCallId"`
}

// ToolCallResultEvent delivers the result of an executed tool call.
type ToolCallResultEvent struct {
	BaseEvent
	MessageID  string `json:"messageId"`
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	Role       string `json:"role,omitempty"`
}

// ============================================================================
// State and Snapshot Events
// ============================================================================

// StateSnapshotEvent replaces the client's view of shared state wholesale.
type StateSnapshotEvent struct {
	BaseEvent
	Snapshot any `json:"snapshot"`
}

// JSONPatchOp is a single RFC 6902 operation carried by a StateDeltaEvent.
type JSONPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// StateDeltaEvent applies an incremental JSON Patch to shared state.
type StateDeltaEvent struct {
	BaseEvent
	Delta []JSONPatchOp `json:"delta"`
}

// MessagesSnapshotEvent replaces the client's conversation history.
type MessagesSnapshotEvent struct {
	BaseEvent
	Messages []Message `json:"messages"`
}

// CustomEvent carries protocol extensions keyed by name.
type CustomEvent struct {
	BaseEvent
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
}

// RawEvent preserves an event type this package does not model.
type RawEvent struct {
	BaseEvent
	Data json.RawMessage `json:"-"`
}

// MarshalJSON writes the original payload through unchanged.
func (e *RawEvent) MarshalJSON() ([]byte, error) {
	if len(e.Data) > 0 {
		return e.Data, nil
	}
	return json.Marshal(e.BaseEvent)
}

// ============================================================================
// Event Builders
// ============================================================================

// NewRunStartedEvent creates a run lifecycle start event.
func NewRunStartedEvent(threadID, runID string) *RunStartedEvent {
	return &RunStartedEvent{
		BaseEvent: BaseEvent{EventType: EventTypeRunStarted},
		ThreadID:  threadID,
		RunID:     runID,
	}
}

// NewRunFinishedEvent creates a run lifecycle end event.
func NewRunFinishedEvent(threadID, runID string) *RunFinishedEvent {
	return &RunFinishedEvent{
		BaseEvent: BaseEvent{EventType: EventTypeRunFinished},
		ThreadID:  threadID,
		RunID:     runID,
	}
}

// NewRunErrorEvent creates an in-band run error event.
func NewRunErrorEvent(message string) *RunErrorEvent {
	return &RunErrorEvent{
		BaseEvent: BaseEvent{EventType: EventTypeRunError},
		Message:   message,
	}
}

// NewTextMessageStartEvent opens an assistant text message.
func NewTextMessageStartEvent(messageID string) *TextMessageStartEvent {
	return &TextMessageStartEvent{
		BaseEvent: BaseEvent{EventType: EventTypeTextMessageStart},
		MessageID: messageID,
		Role:      RoleAssistant,
	}
}

// NewTextMessageContentEvent carries a text delta for an open message.
func NewTextMessageContentEvent(messageID, delta string) *TextMessageContentEvent {
	return &TextMessageContentEvent{
		BaseEvent: BaseEvent{EventType: EventTypeTextMessageContent},
		MessageID: messageID,
		Delta:     delta,
	}
}

// NewTextMessageEndEvent closes an open text message.
func NewTextMessageEndEvent(messageID string) *TextMessageEndEvent {
	return &TextMessageEndEvent{
		BaseEvent: BaseEvent{EventType: EventTypeTextMessageEnd},
		MessageID: messageID,
	}
}

// NewToolCallStartEvent announces a tool call. parentMessageID may be empty.
func NewToolCallStartEvent(toolCallID, toolCallName, parentMessageID string) *ToolCallStartEvent {
	return &ToolCallStartEvent{
		BaseEvent:       BaseEvent{EventType: EventTypeToolCallStart},
		ToolCallID:      toolCallID,
		ToolCallName:    toolCallName,
		ParentMessageID: parentMessageID,
	}
}

// NewToolCallArgsEvent carries an argument chunk for an open tool call.
func NewToolCallArgsEvent(toolCallID, delta string) *ToolCallArgsEvent {
	return &ToolCallArgsEvent{
		BaseEvent:  BaseEvent{EventType: EventTypeToolCallArgs},
		ToolCallID: toolCallID,
		Delta:      delta,
	}
}

// NewToolCallEndEvent closes an open tool call.
func NewToolCallEndEvent(toolCallID string) *ToolCallEndEvent {
	return &ToolCallEndEvent{
		BaseEvent:  BaseEvent{EventType: EventTypeToolCallEnd},
		ToolCallID: toolCallID,
	}
}

// NewToolCallResultEvent delivers a tool call result as a tool-role message.
func NewToolCallResultEvent(messageID, toolCallID, content string) *ToolCallResultEvent {
	return &ToolCallResultEvent{
		BaseEvent:  BaseEvent{EventType: EventTypeToolCallResult},
		MessageID:  messageID,
		ToolCallID: toolCallID,
		Content:    content,
		Role:       RoleTool,
	}
}

// NewStateSnapshotEvent replaces the client state document.
func NewStateSnapshotEvent(snapshot any) *StateSnapshotEvent {
	return &StateSnapshotEvent{
		BaseEvent: BaseEvent{EventType: EventTypeStateSnapshot},
		Snapshot:  snapshot,
	}
}

// NewStateDeltaEvent applies JSON Patch operations to the client state.
func NewStateDeltaEvent(ops []JSONPatchOp) *StateDeltaEvent {
	return &StateDeltaEvent{
		BaseEvent: BaseEvent{EventType: EventTypeStateDelta},
		Delta:     ops,
	}
}

// NewReplaceStateDelta is shorthand for a single-key replace patch.
func NewReplaceStateDelta(key string, value any) *StateDeltaEvent {
	return NewStateDeltaEvent([]JSONPatchOp{{Op: "replace", Path: "/" + key, Value: value}})
}

// NewMessagesSnapshotEvent replaces the client conversation history.
func NewMessagesSnapshotEvent(messages []Message) *MessagesSnapshotEvent {
	return &MessagesSnapshotEvent{
		BaseEvent: BaseEvent{EventType: EventTypeMessagesSnapshot},
		Messages:  messages,
	}
}

// NewCustomEvent creates a named protocol-extension event.
func NewCustomEvent(name string, value any) *CustomEvent {
	return &CustomEvent{
		BaseEvent: BaseEvent{EventType: EventTypeCustom},
		Name:      name,
		Value:     value,
	}
}
