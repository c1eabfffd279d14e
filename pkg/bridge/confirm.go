package bridge

import (
	"fmt"
	"strings"
)

// Step status values used in confirm_changes dialogs.
const (
	StepStatusEnabled  = "enabled"
	StepStatusDisabled = "disabled"
)

// ConfirmStep is one togglable entry in a confirm_changes dialog.
type ConfirmStep struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Enabled reports whether the user left this step switched on.
func (s ConfirmStep) Enabled() bool {
	return s.Status == StepStatusEnabled
}

// confirmArguments is the argument payload of a synthetic confirm_changes
// tool call. The UI renders it as an approval dialog and echoes the steps
// back with user-chosen statuses.
type confirmArguments struct {
	FunctionName      string        `json:"function_name"`
	FunctionCallID    string        `json:"function_call_id"`
	FunctionArguments any           `json:"function_arguments"`
	Steps             []ConfirmStep `json:"steps"`
}

// ConfirmationStrategy supplies the informational text emitted when a
// confirm_changes acknowledgement terminates a run without invoking the
// inner agent.
type ConfirmationStrategy interface {
	// OnApprovalAccepted is used when the user accepted a step-based plan.
	OnApprovalAccepted(steps []ConfirmStep) string
	// OnApprovalRejected is used when the user rejected a step-based plan.
	OnApprovalRejected(steps []ConfirmStep) string
	// OnStateConfirmed is used when the user confirmed proposed state
	// changes (an acknowledgement with no steps).
	OnStateConfirmed() string
	// OnStateRejected is used when the user discarded proposed state
	// changes.
	OnStateRejected() string
}

// DefaultConfirmationStrategy produces short neutral acknowledgements.
type DefaultConfirmationStrategy struct{}

func (DefaultConfirmationStrategy) OnApprovalAccepted(steps []ConfirmStep) string {
	var enabled []string
	for _, s := range steps {
		if s.Enabled() {
			enabled = append(enabled, s.Description)
		}
	}
	if len(enabled) == 0 {
		return "No steps were approved, so nothing was executed."
	}
	return fmt.Sprintf("Executing the approved steps:\n- %s", strings.Join(enabled, "\n- "))
}

func (DefaultConfirmationStrategy) OnApprovalRejected(steps []ConfirmStep) string {
	return "Understood, the proposed steps were not executed."
}

func (DefaultConfirmationStrategy) OnStateConfirmed() string {
	return "The changes have been applied."
}

func (DefaultConfirmationStrategy) OnStateRejected() string {
	return "The changes were discarded."
}

// stepsFromMaps converts decoded payload steps into typed form, keeping
// unknown fields out of strategy decisions.
func stepsFromMaps(raw []map[string]any) []ConfirmStep {
	steps := make([]ConfirmStep, 0, len(raw))
	for _, m := range raw {
		step := ConfirmStep{}
		if d, ok := m["description"].(string); ok {
			step.Description = d
		}
		if s, ok := m["status"].(string); ok {
			step.Status = s
		}
		steps = append(steps, step)
	}
	return steps
}
