package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

// ============================================================================
// APPROVAL COORDINATOR
// ============================================================================
// Human-in-the-loop spans two runs: turn N pauses after emitting an approval
// request, turn N+1 carries the user's answer in the message history. Nothing
// is persisted server-side between the turns; everything needed to resume is
// reconstructed from the resubmitted messages.

// Tool results substituted when an approved call cannot run or was declined.
const (
	rejectedToolResult = "Tool call invocation was rejected by user."
	failedToolResult   = "Error: Tool call invocation failed."
)

// approvalItem locates one approval response inside the normalized history.
type approvalItem struct {
	messageIndex int
	contentIndex int
	response     *agent.FunctionApprovalResponseContent
}

// collectApprovals finds every approval response in history order.
func collectApprovals(messages []*agent.Message) []approvalItem {
	var items []approvalItem
	for mi, msg := range messages {
		for ci, c := range msg.Contents {
			if resp, ok := c.(*agent.FunctionApprovalResponseContent); ok {
				items = append(items, approvalItem{messageIndex: mi, contentIndex: ci, response: resp})
			}
		}
	}
	return items
}

// resolveApprovals executes approved calls and replaces each approval content
// with a function result in place, flipping the message role to tool. It
// returns the events to emit after RunStarted: a StateSnapshot per approved
// state-binding tool followed by the tool-call result, in history order.
func resolveApprovals(ctx context.Context, messages []*agent.Message, toolset *Toolset, predictor *StatePredictor, state *RunState, metrics observability.Metrics) ([]agui.Event, error) {
	items := collectApprovals(messages)
	if len(items) == 0 {
		return nil, nil
	}

	// Approved executions fan out in parallel; results land by index so
	// emission order still follows history order.
	results := make([]any, len(items))
	g, groupCtx := errgroup.WithContext(ctx)
	for i, item := range items {
		resp := item.response
		if !resp.Approved {
			results[i] = rejectedToolResult
			continue
		}
		name := resp.FunctionCall.Name
		tool, ok := toolset.Lookup(name)
		if !ok || tool.DeclarationOnly() {
			slog.Debug("Approved tool not executable", "tool", name)
			results[i] = failedToolResult
			continue
		}
		args := executionArguments(resp)
		idx := i
		g.Go(func() error {
			result, err := tool.Execute(groupCtx, args)
			if err != nil {
				slog.Warn("Approved tool execution failed", "tool", name, "error", err)
				results[idx] = failedToolResult
				return nil
			}
			results[idx] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var events []agui.Event
	replaced := make(map[*agent.FunctionResultContent]bool)
	for i, item := range items {
		resp := item.response
		callID := resp.FunctionCall.CallID

		decision := "rejected"
		if resp.Approved {
			decision = "approved"
		}
		metrics.RecordApprovalDecision(ctx, decision)

		result := &agent.FunctionResultContent{CallID: callID, Result: results[i]}
		msg := messages[item.messageIndex]
		msg.Contents[item.contentIndex] = result
		msg.Role = agent.RoleTool
		replaced[result] = true

		if resp.Approved {
			if snapshot := applyApprovedState(resp, predictor, state); snapshot != nil {
				events = append(events, snapshot)
			}
		}

		messageID := uuid.New().String()
		content := result.ResultString()
		events = append(events, agui.NewToolCallResultEvent(messageID, callID, content))
		state.AddToolResult(messageID, callID, content)
	}

	dedupResolvedResults(messages, replaced)
	return events, nil
}

// executionArguments prefers the user-edited merged arguments over the
// original call arguments.
func executionArguments(resp *agent.FunctionApprovalResponseContent) map[string]any {
	if merged := resp.MergedArguments(); merged != nil {
		return merged
	}
	args, err := resp.FunctionCall.ParsedArguments()
	if err != nil {
		slog.Debug("Failed to parse approved call arguments", "error", err)
		return map[string]any{}
	}
	return args
}

// applyApprovedState folds an approved state-binding call into current_state
// and returns the snapshot to emit. User edits take effect here because the
// merged arguments win.
func applyApprovedState(resp *agent.FunctionApprovalResponseContent, predictor *StatePredictor, state *RunState) agui.Event {
	values := predictor.ExtractFromArgs(resp.FunctionCall.Name, executionArguments(resp))
	if len(values) == 0 {
		return nil
	}
	applyStateValues(state.CurrentState, values)
	return agui.NewStateSnapshotEvent(state.CurrentState)
}

// dedupResolvedResults removes tool results that answer a call id already
// answered by a resolved approval, such as sanitizer-injected placeholders.
// A message may be left without contents; the orchestrator prunes those.
func dedupResolvedResults(messages []*agent.Message, replaced map[*agent.FunctionResultContent]bool) {
	resolvedIDs := make(map[string]bool)
	for result := range replaced {
		resolvedIDs[result.CallID] = true
	}

	for _, msg := range messages {
		kept := msg.Contents[:0]
		for _, c := range msg.Contents {
			if result, ok := c.(*agent.FunctionResultContent); ok {
				if resolvedIDs[result.CallID] && !replaced[result] {
					continue
				}
			}
			kept = append(kept, c)
		}
		msg.Contents = kept
	}
}

// confirmAndTarget inspects whether the last wire message is a confirm-changes
// acknowledgement and resolves the function it refers to. The orchestrator
// short-circuits only when that function is not executable server-side; an
// executable target means the acknowledgement is an approval that must run.
func confirmAndTarget(messages []agui.Message) (*approvalPayload, string, bool) {
	if len(messages) == 0 {
		return nil, "", false
	}
	last := messages[len(messages)-1]
	if last.Role != agui.RoleTool {
		return nil, "", false
	}
	payload, ok := parseApprovalPayload(last.TextContent())
	if !ok || !payload.HasSteps {
		return nil, "", false
	}

	answered, ok := findCall(messages[:len(messages)-1], last.ToolCallID)
	if !ok {
		return nil, "", false
	}
	if answered.Function.Name != ConfirmChangesTool {
		return nil, "", false
	}

	var confirmArgs struct {
		FunctionName string `json:"function_name"`
	}
	if err := json.Unmarshal([]byte(answered.Function.Arguments), &confirmArgs); err != nil {
		slog.Debug("Failed to parse confirm_changes arguments", "error", err)
		return nil, "", false
	}
	return payload, confirmArgs.FunctionName, true
}
