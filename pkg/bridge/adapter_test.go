package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
)

func userMsg(id, text string) agui.Message {
	return agui.Message{ID: id, Role: agui.RoleUser, Content: agui.String(text)}
}

func assistantCallMsg(id string, calls ...agui.ToolCall) agui.Message {
	return agui.Message{ID: id, Role: agui.RoleAssistant, ToolCalls: calls}
}

func toolMsg(id, callID, content string) agui.Message {
	return agui.Message{ID: id, Role: agui.RoleTool, Content: agui.String(content), ToolCallID: callID}
}

func call(id, name, args string) agui.ToolCall {
	return agui.ToolCall{ID: id, Type: agui.ToolCallTypeFunction, Function: agui.FunctionCall{Name: name, Arguments: args}}
}

func confirmCall(id, functionName, functionCallID string, functionArgs map[string]any) agui.ToolCall {
	args, _ := json.Marshal(map[string]any{
		"function_name":      functionName,
		"function_call_id":   functionCallID,
		"function_arguments": functionArgs,
		"steps":              []map[string]any{{"description": "Execute " + functionName, "status": StepStatusEnabled}},
	})
	return call(id, ConfirmChangesTool, string(args))
}

func approvalOf(t *testing.T, msg *agent.Message) *agent.FunctionApprovalResponseContent {
	t.Helper()
	require.Len(t, msg.Contents, 1)
	resp, ok := msg.Contents[0].(*agent.FunctionApprovalResponseContent)
	require.True(t, ok, "expected approval response, got %T", msg.Contents[0])
	return resp
}

// TestSanitizeInjectsSkippedResults verifies that a follow-up user message
// answers every dangling tool call with the skip sentinel.
func TestSanitizeInjectsSkippedResults(t *testing.T) {
	internal, mirror := ToInternal([]agui.Message{
		userMsg("m1", "do the thing"),
		assistantCallMsg("m2", call("C1", "lookup", `{"q":"a"}`), call("C2", "lookup", `{"q":"b"}`)),
		userMsg("m3", "never mind"),
	})

	require.Len(t, internal, 5)
	require.Len(t, mirror, 5)

	for i, callID := range []string{"C1", "C2"} {
		msg := internal[2+i]
		assert.Equal(t, agent.RoleTool, msg.Role)
		result, ok := resultContent(msg)
		require.True(t, ok)
		assert.Equal(t, callID, result.CallID)
		assert.Equal(t, skippedToolResult, result.ResultString())
		assert.Equal(t, agui.RoleTool, mirror[2+i].Role)
	}
	assert.Equal(t, agent.RoleUser, internal[4].Role)
}

// TestSanitizeDropsStaleToolResults checks that results answering unknown
// calls never reach the inner agent.
func TestSanitizeDropsStaleToolResults(t *testing.T) {
	internal, mirror := ToInternal([]agui.Message{
		userMsg("m1", "hi"),
		toolMsg("m2", "ghost", "stale"),
	})

	require.Len(t, internal, 1)
	require.Len(t, mirror, 1)
	assert.Equal(t, agent.RoleUser, internal[0].Role)
}

// TestSanitizeUserCarriedConfirmAnswer covers the legacy path where the
// approval verdict arrives as a user message: the confirm call is answered
// with the verdict, every other pending call with the skip sentinel.
func TestSanitizeUserCarriedConfirmAnswer(t *testing.T) {
	internal, _ := ToInternal([]agui.Message{
		userMsg("m1", "refund please"),
		assistantCallMsg("m2",
			call("C1", "refund", `{"amount":50}`),
			confirmCall("CC1", "refund", "C1", map[string]any{"amount": float64(50)}),
		),
		userMsg("m3", `{"accepted":true}`),
	})

	// The confirm call and its verdict are UI artifacts; the inner agent
	// sees the refund call, its skip sentinel, and the user message.
	require.Len(t, internal, 4)
	assert.Equal(t, agent.RoleAssistant, internal[1].Role)
	require.Len(t, internal[1].Contents, 1)
	fc, ok := internal[1].Contents[0].(*agent.FunctionCallContent)
	require.True(t, ok)
	assert.Equal(t, "C1", fc.CallID)

	result, ok := resultContent(internal[2])
	require.True(t, ok)
	assert.Equal(t, "C1", result.CallID)
	assert.Equal(t, skippedToolResult, result.ResultString())

	assert.Equal(t, agent.RoleUser, internal[3].Role)
}

// TestApprovalReconstructionDirect maps a tool answer carrying accepted onto
// the call it responds to.
func TestApprovalReconstructionDirect(t *testing.T) {
	internal, _ := ToInternal([]agui.Message{
		userMsg("m1", "refund please"),
		assistantCallMsg("m2", call("C1", "refund", `{"amount":50}`)),
		toolMsg("m3", "C1", `{"accepted":true}`),
	})

	require.Len(t, internal, 3)
	resp := approvalOf(t, internal[2])
	assert.Equal(t, agent.RoleUser, internal[2].Role)
	assert.True(t, resp.Approved)
	assert.Equal(t, "C1", resp.FunctionCall.CallID)
	assert.Equal(t, "refund", resp.FunctionCall.Name)
	assert.Nil(t, resp.MergedArguments())
}

// TestApprovalReconstructionViaConfirm resolves an answer to the confirm
// dialog back to the original function call.
func TestApprovalReconstructionViaConfirm(t *testing.T) {
	internal, _ := ToInternal([]agui.Message{
		userMsg("m1", "refund please"),
		assistantCallMsg("m2",
			call("C1", "refund", `{"amount":50}`),
			confirmCall("CC1", "refund", "C1", map[string]any{"amount": float64(50)}),
		),
		toolMsg("m3", "CC1", `{"accepted":false}`),
	})

	require.Len(t, internal, 3)
	resp := approvalOf(t, internal[2])
	assert.False(t, resp.Approved)
	assert.Equal(t, "C1", resp.FunctionCall.CallID)
	assert.Equal(t, "refund", resp.FunctionCall.Name)
	assert.Equal(t, `{"amount":50}`, resp.FunctionCall.ArgumentsString())
}

// TestApprovalStepsMerge rewrites the original steps argument from the
// user's edit: same order and length, unchosen steps disabled, and edited
// scalar keys overlaid.
func TestApprovalStepsMerge(t *testing.T) {
	original := `{"plan":"deploy","steps":[{"description":"Step A","status":"enabled"},{"description":"Step B","status":"enabled"}]}`
	payload := `{"accepted":true,"plan":"rollout","intruder":"x","steps":[{"description":"Step A","status":"enabled"}]}`

	internal, _ := ToInternal([]agui.Message{
		userMsg("m1", "run the plan"),
		assistantCallMsg("m2", call("C1", "execute_plan", original)),
		toolMsg("m3", "C1", payload),
	})

	resp := approvalOf(t, internal[2])
	merged := resp.MergedArguments()
	require.NotNil(t, merged)

	// Keys outside the original schema are ignored; known keys are edited.
	assert.Equal(t, "rollout", merged["plan"])
	assert.NotContains(t, merged, "intruder")

	steps, ok := merged["steps"].([]any)
	require.True(t, ok)
	require.Len(t, steps, 2)
	stepA := steps[0].(map[string]any)
	stepB := steps[1].(map[string]any)
	assert.Equal(t, "Step A", stepA["description"])
	assert.Equal(t, StepStatusEnabled, stepA["status"])
	assert.Equal(t, "Step B", stepB["description"])
	assert.Equal(t, StepStatusDisabled, stepB["status"])
}

// TestMalformedApprovalPayloadIsOrdinaryResult keeps non-boolean accepted
// values out of the approval path.
func TestMalformedApprovalPayloadIsOrdinaryResult(t *testing.T) {
	internal, _ := ToInternal([]agui.Message{
		userMsg("m1", "go"),
		assistantCallMsg("m2", call("C1", "lookup", `{}`)),
		toolMsg("m3", "C1", `{"accepted":"yes"}`),
	})

	require.Len(t, internal, 3)
	result, ok := resultContent(internal[2])
	require.True(t, ok)
	assert.Equal(t, "C1", result.CallID)
}

// TestDedupMessages drops repeated assistant call sets and duplicate user
// messages, and upgrades an empty tool result in place.
func TestDedupMessages(t *testing.T) {
	internal, mirror := ToInternal([]agui.Message{
		userMsg("m1", "hello"),
		userMsg("m2", "hello"),
		assistantCallMsg("m3", call("C1", "lookup", `{}`)),
		toolMsg("m4", "C1", ""),
		assistantCallMsg("m5", call("C1", "lookup", `{}`)),
		toolMsg("m6", "C1", "found it"),
	})

	require.Len(t, internal, 3)
	require.Len(t, mirror, 3)
	assert.Equal(t, agent.RoleUser, internal[0].Role)
	assert.Equal(t, agent.RoleAssistant, internal[1].Role)

	result, ok := resultContent(internal[2])
	require.True(t, ok)
	assert.Equal(t, "found it", result.ResultString())
	assert.Equal(t, "m6", mirror[2].ID)
}

// TestRoundTripCanonical checks that normalization is the identity on a
// history whose ordering is already valid.
func TestRoundTripCanonical(t *testing.T) {
	wire := []agui.Message{
		{ID: "m0", Role: agui.RoleSystem, Content: agui.String("be brief")},
		userMsg("m1", "hi"),
		{ID: "m2", Role: agui.RoleAssistant, Content: agui.String("checking"), ToolCalls: []agui.ToolCall{call("C1", "lookup", `{"q":"x"}`)}},
		toolMsg("m3", "C1", "done"),
		{ID: "m4", Role: agui.RoleAssistant, Content: agui.String("all set")},
	}

	internal, mirror := ToInternal(wire)
	require.Len(t, internal, len(wire))
	assert.Equal(t, wire, mirror)
	assert.Equal(t, wire, FromInternal(internal))
}
