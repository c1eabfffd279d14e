package bridge

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// EventSink receives translated events in emission order. Implementations
// typically frame each event as SSE and flush; a returned error aborts the
// run.
type EventSink func(agui.Event) error

// ============================================================================
// EVENT BRIDGE
// ============================================================================
// Translates inner-agent content items into AG-UI events. The two protocols
// disagree on framing and identity: the inner stream has no message
// boundaries and may omit call ids on continuation chunks, while AG-UI
// demands balanced Start/End pairs and a parent message for every tool call.
// The translator owns that reconciliation, mutating RunState as it goes.

// Translator turns content items into events against a shared RunState.
type Translator struct {
	state     *RunState
	predictor *StatePredictor
	emit      EventSink

	// skipText suppresses text deltas in structured-output mode.
	skipText bool
	// requireConfirmation controls emission of confirm_changes dialogs
	// after approval requests and predictive client tools.
	requireConfirmation bool
}

// NewTranslator wires a translator to its run state and sink. predictor may
// be nil when no predict-state configuration is present.
func NewTranslator(state *RunState, predictor *StatePredictor, emit EventSink, skipText, requireConfirmation bool) *Translator {
	return &Translator{
		state:               state,
		predictor:           predictor,
		emit:                emit,
		skipText:            skipText,
		requireConfirmation: requireConfirmation,
	}
}

// OnContent dispatches one content item. Reasoning, usage and attachment
// content produce no events.
func (t *Translator) OnContent(c agent.Content) error {
	switch v := c.(type) {
	case *agent.TextContent:
		return t.onText(v.Text)
	case *agent.FunctionCallContent:
		return t.onFunctionCall(v)
	case *agent.FunctionResultContent:
		return t.onFunctionResult(v)
	case *agent.FunctionApprovalRequestContent:
		return t.onApprovalRequest(v)
	default:
		return nil
	}
}

func (t *Translator) onText(text string) error {
	if text == "" {
		return nil
	}
	t.state.AccumulatedText += text
	if t.skipText || t.state.WaitingForApproval {
		return nil
	}
	if err := t.EnsureMessageOpen(); err != nil {
		return err
	}
	return t.emit(agui.NewTextMessageContentEvent(t.state.MessageID, text))
}

// EnsureMessageOpen opens an assistant text message if none is open. Tool
// calls need it as a parent anchor even on turns with no text.
func (t *Translator) EnsureMessageOpen() error {
	if t.state.MessageID != "" {
		return nil
	}
	t.state.MessageID = uuid.New().String()
	return t.emit(agui.NewTextMessageStartEvent(t.state.MessageID))
}

// CloseOpenMessage ends the open text message, if any, so the next text
// starts fresh.
func (t *Translator) CloseOpenMessage() error {
	if t.state.MessageID == "" {
		return nil
	}
	id := t.state.MessageID
	t.state.MessageID = ""
	return t.emit(agui.NewTextMessageEndEvent(id))
}

func (t *Translator) onFunctionCall(v *agent.FunctionCallContent) error {
	// Continuation chunks may omit the call id; reuse the current one.
	callID := v.CallID
	if callID == "" {
		callID = t.state.ToolCallID
	}
	if callID == "" {
		callID = uuid.New().String()
	}

	if callID != t.state.ToolCallID {
		if err := t.startToolCall(callID, v.Name); err != nil {
			return err
		}
	}

	args := v.ArgumentsString()
	if args == "" {
		return nil
	}
	if err := t.emit(agui.NewToolCallArgsEvent(callID, args)); err != nil {
		return err
	}
	t.state.AppendCallArgs(callID, args)

	if t.predictor.Bound(t.state.ToolCallName) {
		for _, ev := range t.predictor.Ingest(args) {
			if err := t.emit(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Translator) startToolCall(id, name string) error {
	if err := t.EnsureMessageOpen(); err != nil {
		return err
	}
	t.state.ToolCallID = id
	t.state.ToolCallName = name
	t.state.AddPendingCall(id, name)
	t.predictor.BeginCall(name)
	return t.emit(agui.NewToolCallStartEvent(id, name, t.state.MessageID))
}

func (t *Translator) onFunctionResult(v *agent.FunctionResultContent) error {
	callID := v.CallID
	if callID == "" {
		callID = t.state.ToolCallID
	}

	if err := t.emit(agui.NewToolCallEndEvent(callID)); err != nil {
		return err
	}
	t.state.MarkEnded(callID)

	messageID := uuid.New().String()
	content := v.ResultString()
	if err := t.emit(agui.NewToolCallResultEvent(messageID, callID, content)); err != nil {
		return err
	}
	t.state.AddToolResult(messageID, callID, content)

	name := t.state.ToolCallName
	if call, ok := t.state.PendingCall(callID); ok {
		name = call.Function.Name
	}
	if t.predictor.Bound(name) && t.predictor.Apply(t.state.CurrentState) {
		t.state.predictiveApplied = true
		if err := t.emit(agui.NewStateSnapshotEvent(t.state.CurrentState)); err != nil {
			return err
		}
	}

	t.state.ToolCallID = ""
	t.state.ToolCallName = ""
	return t.CloseOpenMessage()
}

func (t *Translator) onApprovalRequest(v *agent.FunctionApprovalRequestContent) error {
	fc := v.FunctionCall
	callID := fc.CallID
	if callID == "" {
		callID = t.state.ToolCallID
	}
	if callID == "" {
		callID = uuid.New().String()
	}
	name := fc.Name
	if name == "" {
		name = t.state.ToolCallName
	}

	// The call may arrive as a request without having streamed first;
	// announce it so Start precedes End.
	if _, known := t.state.PendingCall(callID); !known {
		if err := t.startToolCall(callID, name); err != nil {
			return err
		}
		if args := fc.ArgumentsString(); args != "" {
			if err := t.emit(agui.NewToolCallArgsEvent(callID, args)); err != nil {
				return err
			}
			t.state.AppendCallArgs(callID, args)
		}
	}

	if args, err := fc.ParsedArguments(); err == nil {
		if values := t.predictor.ExtractFromArgs(name, args); len(values) > 0 {
			applyStateValues(t.state.CurrentState, values)
			t.state.predictiveApplied = true
			if err := t.emit(agui.NewStateSnapshotEvent(t.state.CurrentState)); err != nil {
				return err
			}
		}
	}

	if err := t.emit(agui.NewToolCallEndEvent(callID)); err != nil {
		return err
	}
	t.state.MarkEnded(callID)
	t.state.ToolCallID = ""
	t.state.ToolCallName = ""

	value := map[string]any{
		"id": v.ID,
		"function_call": map[string]any{
			"call_id":   callID,
			"name":      name,
			"arguments": fc.ArgumentsString(),
		},
	}
	if err := t.emit(agui.NewCustomEvent(agui.CustomEventFunctionApprovalRequest, value)); err != nil {
		return err
	}

	if t.requireConfirmation {
		if err := t.EmitConfirmDialog(callID, name, confirmableArguments(fc)); err != nil {
			return err
		}
	}
	t.state.WaitingForApproval = true
	return nil
}

// EmitConfirmDialog announces a synthetic confirm_changes call carrying the
// original call's identity and a one-step plan. The call is registered as
// pending so the next turn's history contains its arguments, which the
// adapter needs to resolve the user's answer back to the original call.
func (t *Translator) EmitConfirmDialog(callID, name string, args any) error {
	confirmID := uuid.New().String()
	payload := confirmArguments{
		FunctionName:      name,
		FunctionCallID:    callID,
		FunctionArguments: args,
		Steps:             []ConfirmStep{{Description: "Execute " + name, Status: StepStatusEnabled}},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	t.state.AddPendingCall(confirmID, ConfirmChangesTool)
	t.state.SetCallArgs(confirmID, string(encoded))

	if err := t.emit(agui.NewToolCallStartEvent(confirmID, ConfirmChangesTool, t.state.MessageID)); err != nil {
		return err
	}
	if err := t.emit(agui.NewToolCallArgsEvent(confirmID, string(encoded))); err != nil {
		return err
	}
	if err := t.emit(agui.NewToolCallEndEvent(confirmID)); err != nil {
		return err
	}
	t.state.MarkEnded(confirmID)
	return nil
}

func confirmableArguments(fc *agent.FunctionCallContent) any {
	if args, err := fc.ParsedArguments(); err == nil {
		return args
	}
	return fc.ArgumentsString()
}

// applyStateValues merges values into state in sorted key order so snapshot
// mutation order is deterministic.
func applyStateValues(state, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		state[k] = values[k]
	}
}
