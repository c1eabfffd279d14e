package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// ============================================================================
// MESSAGE ADAPTER
// ============================================================================
// Converts wire messages to inner-agent messages and back, repairing the
// tool-call ordering defects real UI histories arrive with. Model providers
// reject histories where a tool call is never answered or a result answers a
// call that was never made, so the sanitizer injects synthetic results and
// drops stale ones before conversion.

const (
	// ConfirmChangesTool is the synthetic client-side tool that drives the
	// UI approval dialog.
	ConfirmChangesTool = "confirm_changes"

	// skippedToolResult answers a tool call the user abandoned by sending
	// a follow-up message instead of a result.
	skippedToolResult = "tool execution skipped — user provided follow-up message"

	confirmAccepted = "Confirmed"
	confirmRejected = "Rejected"
)

// approvalPayload is the decoded content of an approval-response message.
// Extra holds every key other than accepted and steps.
type approvalPayload struct {
	Accepted bool
	Steps    []map[string]any
	HasSteps bool
	Extra    map[string]any
}

// parseApprovalPayload decodes content as an approval response. The second
// return is false when content is not a JSON object carrying "accepted".
func parseApprovalPayload(content string) (*approvalPayload, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, false
	}
	acceptedRaw, ok := raw["accepted"]
	if !ok {
		return nil, false
	}
	accepted, ok := acceptedRaw.(bool)
	if !ok {
		return nil, false
	}
	p := &approvalPayload{Accepted: accepted, Extra: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "accepted":
		case "steps":
			p.HasSteps = true
			if list, ok := v.([]any); ok {
				for _, item := range list {
					if step, ok := item.(map[string]any); ok {
						p.Steps = append(p.Steps, step)
					}
				}
			}
		default:
			p.Extra[k] = v
		}
	}
	return p, true
}

// ToInternal normalizes a wire history into the form the inner agent consumes.
// It returns the internal messages and a wire-form mirror used later for
// MessagesSnapshot assembly. The two lists stay index-aligned.
func ToInternal(wire []agui.Message) ([]*agent.Message, []agui.Message) {
	sanitized := sanitizeToolOrdering(wire)

	internal := make([]*agent.Message, 0, len(sanitized))
	mirror := make([]agui.Message, 0, len(sanitized))
	for i := range sanitized {
		msg := convertWireMessage(&sanitized[i], sanitized[:i])
		if msg == nil || len(msg.Contents) == 0 {
			continue
		}
		internal = append(internal, msg)
		mirror = append(mirror, sanitized[i])
	}
	return dedupMessages(internal, mirror)
}

// sanitizeToolOrdering repairs a wire history in one pass. Pending ids are
// the calls announced by the last assistant message that no tool result has
// answered yet.
func sanitizeToolOrdering(wire []agui.Message) []agui.Message {
	out := make([]agui.Message, 0, len(wire))

	var pending []agui.ToolCall
	pendingIndex := make(map[string]int)
	setPending := func(calls []agui.ToolCall) {
		pending = pending[:0]
		pendingIndex = make(map[string]int)
		for _, c := range calls {
			pendingIndex[c.ID] = len(pending)
			pending = append(pending, c)
		}
	}
	clearPending := func(id string) {
		i, ok := pendingIndex[id]
		if !ok {
			return
		}
		pending = append(pending[:i], pending[i+1:]...)
		delete(pendingIndex, id)
		for j := i; j < len(pending); j++ {
			pendingIndex[pending[j].ID] = j
		}
	}
	syntheticResult := func(callID, result string) agui.Message {
		return agui.Message{
			ID:         uuid.New().String(),
			Role:       agui.RoleTool,
			Content:    agui.String(result),
			ToolCallID: callID,
		}
	}

	for _, msg := range wire {
		switch msg.Role {
		case agui.RoleAssistant:
			setPending(msg.ToolCalls)
			out = append(out, msg)

		case agui.RoleTool:
			if _, ok := pendingIndex[msg.ToolCallID]; !ok {
				slog.Debug("Dropping stale tool result", "tool_call_id", msg.ToolCallID)
				continue
			}
			clearPending(msg.ToolCallID)
			out = append(out, msg)

		case agui.RoleUser:
			if len(pending) > 0 {
				payload, isApproval := parseApprovalPayload(msg.TextContent())
				for _, call := range pending {
					if isApproval && call.Function.Name == ConfirmChangesTool {
						verdict := confirmRejected
						if payload.Accepted {
							verdict = confirmAccepted
						}
						out = append(out, syntheticResult(call.ID, verdict))
						continue
					}
					out = append(out, syntheticResult(call.ID, skippedToolResult))
				}
				setPending(nil)
			}
			out = append(out, msg)

		default:
			out = append(out, msg)
		}
	}
	return out
}

// convertWireMessage maps one sanitized wire message to its internal form.
// prior is the sanitized history before this message, needed to resolve
// approval responses to the call they answer.
func convertWireMessage(msg *agui.Message, prior []agui.Message) *agent.Message {
	switch msg.Role {
	case agui.RoleSystem, agui.RoleDeveloper:
		return textMessage(msg.ID, agent.RoleSystem, msg.TextContent())

	case agui.RoleUser:
		return textMessage(msg.ID, agent.RoleUser, msg.TextContent())

	case agui.RoleAssistant:
		out := &agent.Message{ID: msg.ID, Role: agent.RoleAssistant}
		if text := msg.TextContent(); text != "" {
			out.Contents = append(out.Contents, &agent.TextContent{Text: text})
		}
		for _, call := range msg.ToolCalls {
			// Confirm dialogs are UI furniture the model never called;
			// keeping them would leave unanswered calls in the history.
			if call.Function.Name == ConfirmChangesTool {
				continue
			}
			out.Contents = append(out.Contents, &agent.FunctionCallContent{
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		return out

	case agui.RoleTool:
		if payload, ok := parseApprovalPayload(msg.TextContent()); ok {
			if resp := reconstructApproval(msg, payload, prior); resp != nil {
				return &agent.Message{
					ID:       msg.ID,
					Role:     agent.RoleUser,
					Contents: []agent.Content{resp},
				}
			}
			slog.Debug("Approval payload with no matching call, treating as tool result",
				"tool_call_id", msg.ToolCallID)
		}
		if answered, ok := findCall(prior, msg.ToolCallID); ok && answered.Function.Name == ConfirmChangesTool {
			return nil
		}
		return &agent.Message{
			ID:   msg.ID,
			Role: agent.RoleTool,
			Contents: []agent.Content{&agent.FunctionResultContent{
				CallID: msg.ToolCallID,
				Result: msg.TextContent(),
			}},
		}

	default:
		return textMessage(msg.ID, agent.RoleUser, msg.TextContent())
	}
}

func textMessage(id string, role agent.Role, text string) *agent.Message {
	return &agent.Message{
		ID:       id,
		Role:     role,
		Contents: []agent.Content{&agent.TextContent{Text: text}},
	}
}

// reconstructApproval turns an approval-response tool message into a
// function_approval_response bound to the original call. When the answered
// call is the confirm_changes dialog, the original call is resolved through
// the dialog's own arguments.
func reconstructApproval(msg *agui.Message, payload *approvalPayload, prior []agui.Message) *agent.FunctionApprovalResponseContent {
	answered, ok := findCall(prior, msg.ToolCallID)
	if !ok {
		return nil
	}

	original := answered
	if answered.Function.Name == ConfirmChangesTool {
		var confirmArgs struct {
			FunctionName      string         `json:"function_name"`
			FunctionCallID    string         `json:"function_call_id"`
			FunctionArguments map[string]any `json:"function_arguments"`
		}
		if err := json.Unmarshal([]byte(answered.Function.Arguments), &confirmArgs); err != nil {
			slog.Debug("Failed to parse confirm_changes arguments", "error", err)
			return nil
		}
		if resolved, ok := findCall(prior, confirmArgs.FunctionCallID); ok {
			original = resolved
		} else {
			encoded, _ := json.Marshal(confirmArgs.FunctionArguments)
			original = agui.ToolCall{
				ID:       confirmArgs.FunctionCallID,
				Type:     agui.ToolCallTypeFunction,
				Function: agui.FunctionCall{Name: confirmArgs.FunctionName, Arguments: string(encoded)},
			}
		}
	}

	resp := &agent.FunctionApprovalResponseContent{
		ID:       msg.ToolCallID,
		Approved: payload.Accepted,
		FunctionCall: &agent.FunctionCallContent{
			CallID:    original.ID,
			Name:      original.Function.Name,
			Arguments: original.Function.Arguments,
		},
	}

	if merged := mergeApprovalArgs(original.Function.Arguments, payload); merged != nil {
		resp.AdditionalProperties = map[string]any{agent.StateArgsKey: merged}
	}
	return resp
}

// findCall searches the history backwards for the assistant call with the
// given id.
func findCall(history []agui.Message, callID string) (agui.ToolCall, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != agui.RoleAssistant {
			continue
		}
		for _, call := range history[i].ToolCalls {
			if call.ID == callID {
				return call, true
			}
		}
	}
	return agui.ToolCall{}, false
}

// mergeApprovalArgs overlays user edits from an approval payload onto the
// original call arguments. Only keys the original call already has are taken.
// Steps are matched by description and keep their original order and length;
// a step the user did not echo back comes through disabled. Returns nil when
// the payload carries no edits.
func mergeApprovalArgs(originalArgs string, payload *approvalPayload) map[string]any {
	if len(payload.Extra) == 0 && !payload.HasSteps {
		return nil
	}

	var original map[string]any
	if err := json.Unmarshal([]byte(originalArgs), &original); err != nil {
		slog.Debug("Failed to parse original call arguments for merge", "error", err)
		return nil
	}

	merged := make(map[string]any, len(original))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range payload.Extra {
		if _, exists := original[k]; exists && k != "steps" {
			merged[k] = v
		}
	}
	if payload.HasSteps {
		if originalSteps, ok := stepList(original["steps"]); ok {
			merged["steps"] = mergeSteps(originalSteps, payload.Steps)
		}
	}
	return merged
}

func stepList(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	steps := make([]map[string]any, 0, len(list))
	for _, item := range list {
		step, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		steps = append(steps, step)
	}
	return steps, true
}

// mergeSteps copies only the status of each edited step through, keyed by
// description. Steps absent from the edit are disabled.
func mergeSteps(original, edited []map[string]any) []any {
	statusByDescription := make(map[string]any, len(edited))
	for _, step := range edited {
		desc, ok := step["description"].(string)
		if !ok {
			continue
		}
		if status, ok := step["status"]; ok {
			statusByDescription[desc] = status
		}
	}

	out := make([]any, 0, len(original))
	for _, step := range original {
		copied := make(map[string]any, len(step))
		for k, v := range step {
			copied[k] = v
		}
		desc, _ := step["description"].(string)
		if status, ok := statusByDescription[desc]; ok {
			copied["status"] = status
		} else {
			copied["status"] = StepStatusDisabled
		}
		out = append(out, copied)
	}
	return out
}

// dedupMessages drops repeated messages while keeping first-seen order. Tool
// results are keyed by call id, assistant call sets by their sorted ids, and
// everything else by a content fingerprint. A kept tool result with an empty
// body is upgraded in place when a non-empty duplicate arrives.
func dedupMessages(internal []*agent.Message, mirror []agui.Message) ([]*agent.Message, []agui.Message) {
	type slot struct{ index int }
	seen := make(map[string]slot)

	outInternal := make([]*agent.Message, 0, len(internal))
	outMirror := make([]agui.Message, 0, len(mirror))

	for i, msg := range internal {
		key := dedupKey(msg)
		if prev, dup := seen[key]; dup {
			if result, ok := resultContent(msg); ok {
				if kept, _ := resultContent(outInternal[prev.index]); kept != nil && kept.ResultString() == "" && result.ResultString() != "" {
					outInternal[prev.index] = msg
					outMirror[prev.index] = mirror[i]
				}
			}
			continue
		}
		seen[key] = slot{index: len(outInternal)}
		outInternal = append(outInternal, msg)
		outMirror = append(outMirror, mirror[i])
	}
	return outInternal, outMirror
}

func resultContent(msg *agent.Message) (*agent.FunctionResultContent, bool) {
	for _, c := range msg.Contents {
		if result, ok := c.(*agent.FunctionResultContent); ok {
			return result, true
		}
	}
	return nil, false
}

func dedupKey(msg *agent.Message) string {
	if result, ok := resultContent(msg); ok {
		return fmt.Sprintf("%s|result|%s", msg.Role, result.CallID)
	}

	var callIDs []string
	for _, c := range msg.Contents {
		if call, ok := c.(*agent.FunctionCallContent); ok {
			callIDs = append(callIDs, call.CallID)
		}
	}
	if msg.Role == agent.RoleAssistant && len(callIDs) > 0 {
		sort.Strings(callIDs)
		return fmt.Sprintf("%s|calls|%s", msg.Role, strings.Join(callIDs, ","))
	}

	return fmt.Sprintf("%s|content|%s", msg.Role, contentFingerprint(msg.Contents))
}

func contentFingerprint(contents []agent.Content) string {
	var b strings.Builder
	for _, c := range contents {
		switch v := c.(type) {
		case *agent.TextContent:
			b.WriteString("text:")
			b.WriteString(v.Text)
		case *agent.TextReasoningContent:
			b.WriteString("reasoning:")
			b.WriteString(v.Text)
		case *agent.FunctionCallContent:
			b.WriteString("call:")
			b.WriteString(v.CallID)
			b.WriteString(":")
			b.WriteString(v.Name)
			b.WriteString(":")
			b.WriteString(v.ArgumentsString())
		case *agent.FunctionResultContent:
			b.WriteString("result:")
			b.WriteString(v.CallID)
			b.WriteString(":")
			b.WriteString(v.ResultString())
		case *agent.FunctionApprovalRequestContent:
			b.WriteString("approval_request:")
			b.WriteString(v.ID)
		case *agent.FunctionApprovalResponseContent:
			b.WriteString("approval_response:")
			b.WriteString(v.ID)
			b.WriteString(fmt.Sprintf(":%t", v.Approved))
		default:
			b.WriteString(fmt.Sprintf("%T", c))
		}
		b.WriteString(";")
	}
	return b.String()
}

// FromInternal converts newly produced internal messages back to wire form.
// Function-call arguments are string-encoded, matching what UI clients send.
func FromInternal(messages []*agent.Message) []agui.Message {
	out := make([]agui.Message, 0, len(messages))
	for _, msg := range messages {
		wire := agui.Message{ID: msg.ID}
		if wire.ID == "" {
			wire.ID = uuid.New().String()
		}

		switch msg.Role {
		case agent.RoleSystem:
			wire.Role = agui.RoleSystem
		case agent.RoleAssistant:
			wire.Role = agui.RoleAssistant
		case agent.RoleTool:
			wire.Role = agui.RoleTool
		default:
			wire.Role = agui.RoleUser
		}

		var text strings.Builder
		for _, c := range msg.Contents {
			switch v := c.(type) {
			case *agent.TextContent:
				text.WriteString(v.Text)
			case *agent.FunctionCallContent:
				wire.ToolCalls = append(wire.ToolCalls, agui.ToolCall{
					ID:       v.CallID,
					Type:     agui.ToolCallTypeFunction,
					Function: agui.FunctionCall{Name: v.Name, Arguments: v.ArgumentsString()},
				})
			case *agent.FunctionResultContent:
				wire.Role = agui.RoleTool
				wire.ToolCallID = v.CallID
				text.WriteString(v.ResultString())
			case *agent.FunctionApprovalResponseContent:
				wire.Role = agui.RoleTool
				wire.ToolCallID = v.ID
				encoded, _ := json.Marshal(map[string]any{"accepted": v.Approved})
				text.WriteString(string(encoded))
			}
		}
		if s := text.String(); s != "" || wire.Role == agui.RoleUser || wire.Role == agui.RoleSystem {
			wire.Content = agui.String(s)
		}
		out = append(out, wire)
	}
	return out
}
