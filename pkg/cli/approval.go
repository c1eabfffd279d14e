package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/bridge"
)

// ApprovalRequest is a decoded function_approval_request event: the server
// paused the run until the user decides on this call.
type ApprovalRequest struct {
	ID        string
	CallID    string
	Name      string
	Arguments string
}

// ConfirmDialog is a decoded confirm_changes call: a step plan the user
// accepts or rejects as a whole.
type ConfirmDialog struct {
	CallID       string
	FunctionName string
	Steps        []bridge.ConfirmStep
}

// ParseApprovalRequest decodes the value of a function_approval_request
// custom event. Returns nil when the payload is not in the expected shape.
func ParseApprovalRequest(value any) *ApprovalRequest {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	req := &ApprovalRequest{}
	req.ID, _ = m["id"].(string)

	fc, ok := m["function_call"].(map[string]any)
	if !ok {
		return nil
	}
	req.CallID, _ = fc["call_id"].(string)
	req.Name, _ = fc["name"].(string)
	req.Arguments, _ = fc["arguments"].(string)

	if req.CallID == "" {
		return nil
	}
	return req
}

// parseConfirmDialog decodes the accumulated arguments of a confirm_changes
// call once its argument stream ends.
func parseConfirmDialog(callID, args string) *ConfirmDialog {
	var payload struct {
		FunctionName string               `json:"function_name"`
		Steps        []bridge.ConfirmStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(args), &payload); err != nil {
		slog.Debug("Failed to parse confirm_changes arguments", "error", err)
		return nil
	}
	return &ConfirmDialog{
		CallID:       callID,
		FunctionName: payload.FunctionName,
		Steps:        payload.Steps,
	}
}

// PromptDecision displays a pending approval and reads a y/n decision from
// in. Anything other than an explicit yes counts as a denial.
func PromptDecision(in *bufio.Reader, req *ApprovalRequest, dialog *ConfirmDialog) (bool, error) {
	name := ""
	args := ""
	if req != nil {
		name = req.Name
		args = req.Arguments
	}
	if name == "" && dialog != nil {
		name = dialog.FunctionName
	}

	fmt.Printf("\n%s⚠ Approval required:%s %s", colorDim, colorReset, name)
	if args != "" {
		fmt.Printf("(%s)", truncate(args, 200))
	}
	fmt.Println()
	if dialog != nil && len(dialog.Steps) > 0 {
		for _, step := range dialog.Steps {
			fmt.Printf("   - %s\n", step.Description)
		}
	}
	fmt.Print("Approve? [y/N]: ")
	os.Stdout.Sync()

	line, err := in.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read approval decision: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	approved := answer == "y" || answer == "yes"

	decision := "deny"
	if approved {
		decision = "approve"
	}
	slog.Info("User approval decision", "decision", decision, "tool", name)
	return approved, nil
}

// ApprovalAnswer builds the tool message that carries the user's decision
// back to the server on the next run. A dialog answer targets the
// confirm_changes call and echoes its steps; a plain approval targets the
// original call.
func ApprovalAnswer(req *ApprovalRequest, dialog *ConfirmDialog, approved bool) agui.Message {
	answer := struct {
		Accepted bool                 `json:"accepted"`
		Steps    []bridge.ConfirmStep `json:"steps,omitempty"`
	}{Accepted: approved}

	target := ""
	switch {
	case dialog != nil:
		target = dialog.CallID
		steps := make([]bridge.ConfirmStep, len(dialog.Steps))
		copy(steps, dialog.Steps)
		if !approved {
			for i := range steps {
				steps[i].Status = bridge.StepStatusDisabled
			}
		}
		answer.Steps = steps
	case req != nil:
		target = req.CallID
	}

	content, _ := json.Marshal(answer)
	return agui.Message{
		ID:         uuid.New().String(),
		Role:       agui.RoleTool,
		Content:    agui.String(string(content)),
		ToolCallID: target,
	}
}

// isTerminal checks if the file descriptor is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
