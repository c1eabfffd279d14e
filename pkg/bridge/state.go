// Package bridge implements the run orchestrator: a per-request state machine
// that ingests an AG-UI run input, drives a streaming inner agent, and emits a
// protocol-valid AG-UI event stream. It contains the message adapter, the
// predictive-state engine, the content-to-event translator, and the
// human-in-the-loop approval coordinator.
package bridge

import (
	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// RunState is the per-request mutable state owned by one run. A run is served
// by a single goroutine, so RunState needs no locking.
type RunState struct {
	ThreadID string
	RunID    string

	// MessageID is the currently open assistant text message, or "".
	MessageID string

	// ToolCallID and ToolCallName identify the function call currently
	// streaming arguments, or "" between calls.
	ToolCallID   string
	ToolCallName string

	// WaitingForApproval is set when an approval request or confirmation
	// has been emitted; the streaming loop stops at the next boundary.
	WaitingForApproval bool

	// CurrentState is the user-visible state document.
	CurrentState map[string]any

	// AccumulatedText collects assistant text for the MessagesSnapshot and
	// for structured-output parsing.
	AccumulatedText string

	// PendingToolCalls holds every announced call in wire form, in the
	// order announced. Arguments grow as chunks stream in.
	PendingToolCalls []agui.ToolCall

	// ToolResults holds emitted tool-result envelopes in wire form, in
	// emission order.
	ToolResults []agui.Message

	callIndex         map[string]int
	ended             map[string]bool
	predictiveApplied bool
}

// NewRunState creates the state for one request.
func NewRunState(threadID, runID string) *RunState {
	return &RunState{
		ThreadID:     threadID,
		RunID:        runID,
		CurrentState: make(map[string]any),
		callIndex:    make(map[string]int),
		ended:        make(map[string]bool),
	}
}

// AddPendingCall registers a newly announced tool call.
func (s *RunState) AddPendingCall(id, name string) {
	if _, exists := s.callIndex[id]; exists {
		return
	}
	s.callIndex[id] = len(s.PendingToolCalls)
	s.PendingToolCalls = append(s.PendingToolCalls, agui.ToolCall{
		ID:       id,
		Type:     agui.ToolCallTypeFunction,
		Function: agui.FunctionCall{Name: name},
	})
}

// AppendCallArgs grows the accumulated argument string of a pending call.
func (s *RunState) AppendCallArgs(id, delta string) {
	if i, ok := s.callIndex[id]; ok {
		s.PendingToolCalls[i].Function.Arguments += delta
	}
}

// SetCallArgs replaces the accumulated argument string of a pending call.
func (s *RunState) SetCallArgs(id, args string) {
	if i, ok := s.callIndex[id]; ok {
		s.PendingToolCalls[i].Function.Arguments = args
	}
}

// PendingCall returns the pending call with the given id.
func (s *RunState) PendingCall(id string) (agui.ToolCall, bool) {
	if i, ok := s.callIndex[id]; ok {
		return s.PendingToolCalls[i], true
	}
	return agui.ToolCall{}, false
}

// MarkEnded records that a ToolCallEnd was emitted for id.
func (s *RunState) MarkEnded(id string) {
	s.ended[id] = true
}

// Ended reports whether a ToolCallEnd was emitted for id.
func (s *RunState) Ended(id string) bool {
	return s.ended[id]
}

// UnendedCalls returns pending calls that never received a ToolCallEnd, in
// announcement order. These are the declaration-only client calls the
// finalizer must close.
func (s *RunState) UnendedCalls() []agui.ToolCall {
	var out []agui.ToolCall
	for _, call := range s.PendingToolCalls {
		if !s.ended[call.ID] {
			out = append(out, call)
		}
	}
	return out
}

// AddToolResult records an emitted tool-result envelope.
func (s *RunState) AddToolResult(messageID, toolCallID, content string) {
	s.ToolResults = append(s.ToolResults, agui.Message{
		ID:         messageID,
		Role:       agui.RoleTool,
		Content:    agui.String(content),
		ToolCallID: toolCallID,
	})
}

// HasActivity reports whether the run produced anything worth a
// MessagesSnapshot: assistant tool calls, tool results, or text.
func (s *RunState) HasActivity() bool {
	return len(s.PendingToolCalls) > 0 || len(s.ToolResults) > 0 || s.AccumulatedText != ""
}
