package agent

import "context"

// ApprovalMode controls whether a tool call needs user approval before it
// executes.
type ApprovalMode string

const (
	// ApprovalNever executes the tool without asking.
	ApprovalNever ApprovalMode = "never_require"

	// ApprovalAlways pauses the run and asks the user first.
	ApprovalAlways ApprovalMode = "always_require"
)

// Tool is a function an agent may call. Declaration-only tools are announced
// to the model but executed by the client; Execute on one is a contract error.
type Tool interface {
	Name() string
	Description() string

	// Parameters returns the JSON-schema object describing the arguments.
	Parameters() map[string]any

	ApprovalMode() ApprovalMode
	DeclarationOnly() bool

	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ResponseFormat requests schema-constrained structured output.
type ResponseFormat struct {
	// Name labels the schema for providers that require one.
	Name string

	// Schema is the JSON-schema object the output must satisfy.
	Schema map[string]any

	// Strict requests provider-side strict validation when supported.
	Strict bool
}

// RunOptions configures one streaming turn. A nil *RunOptions means defaults
// everywhere.
type RunOptions struct {
	// Tools overrides the agent's configured tool set for this turn. Nil
	// leaves the agent's own tools in effect; an empty non-nil slice
	// disables tools.
	Tools []Tool

	// ResponseFormat switches the turn to structured output.
	ResponseFormat *ResponseFormat

	// ConversationID is the provider-side conversation to continue.
	ConversationID string

	// Store asks the provider to retain the response server-side.
	Store bool

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// Metadata is forwarded to the provider as-is.
	Metadata map[string]any

	// Provider carries provider-specific options not modeled above.
	Provider map[string]any
}

// ToolByName finds a tool in the per-turn set.
func (o *RunOptions) ToolByName(name string) (Tool, bool) {
	if o == nil {
		return nil, false
	}
	for _, t := range o.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
