package agui

import (
	"encoding/json"
	"sort"
)

// WildcardArgument binds the entire parsed arguments object to a state key.
const WildcardArgument = "*"

// ToolSpec is a client-declared tool: a name, an optional description, and a
// JSON-schema parameters object. Client tools are declaration-only; the
// server never executes them.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// PredictStateBinding names the tool, and the argument within it, that feeds
// a state key while the tool's arguments stream in.
type PredictStateBinding struct {
	Tool         string `json:"tool" yaml:"tool" mapstructure:"tool"`
	ToolArgument string `json:"tool_argument,omitempty" yaml:"tool_argument" mapstructure:"tool_argument"`
}

// PredictStateConfig maps a state key to its predictive binding.
type PredictStateConfig map[string]PredictStateBinding

// PredictStateEntry is the wire form sent to clients in the "PredictState"
// custom event.
type PredictStateEntry struct {
	StateKey     string `json:"state_key"`
	Tool         string `json:"tool"`
	ToolArgument string `json:"tool_argument,omitempty"`
}

// Entries returns the config in event wire form, ordered by state key.
func (c PredictStateConfig) Entries() []PredictStateEntry {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]PredictStateEntry, 0, len(keys))
	for _, k := range keys {
		b := c[k]
		entries = append(entries, PredictStateEntry{
			StateKey:     k,
			Tool:         b.Tool,
			ToolArgument: b.ToolArgument,
		})
	}
	return entries
}

// RunAgentInput is the request envelope for one run.
type RunAgentInput struct {
	ThreadID       string             `json:"threadId,omitempty"`
	RunID          string             `json:"runId,omitempty"`
	ParentRunID    string             `json:"parentRunId,omitempty"`
	Messages       []Message          `json:"messages,omitempty"`
	State          map[string]any     `json:"state,omitempty"`
	Tools          []ToolSpec         `json:"tools,omitempty"`
	Context        json.RawMessage    `json:"context,omitempty"`
	ForwardedProps map[string]any     `json:"forwardedProps,omitempty"`
	PredictState   PredictStateConfig `json:"predictStateConfig,omitempty"`
}

// UnmarshalJSON accepts both camelCase wire keys and snake_case aliases.
func (in *RunAgentInput) UnmarshalJSON(data []byte) error {
	type wire struct {
		ThreadID          string             `json:"threadId"`
		ThreadIDSnake     string             `json:"thread_id"`
		RunID             string             `json:"runId"`
		RunIDSnake        string             `json:"run_id"`
		ParentRunID       string             `json:"parentRunId"`
		ParentRunIDSnake  string             `json:"parent_run_id"`
		Messages          []Message          `json:"messages"`
		State             map[string]any     `json:"state"`
		Tools             []ToolSpec         `json:"tools"`
		Context           json.RawMessage    `json:"context"`
		ForwardedProps    map[string]any     `json:"forwardedProps"`
		ForwardedSnake    map[string]any     `json:"forwarded_props"`
		PredictState      PredictStateConfig `json:"predictStateConfig"`
		PredictStateSnake PredictStateConfig `json:"predict_state_config"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	in.ThreadID = firstNonEmpty(w.ThreadID, w.ThreadIDSnake)
	in.RunID = firstNonEmpty(w.RunID, w.RunIDSnake)
	in.ParentRunID = firstNonEmpty(w.ParentRunID, w.ParentRunIDSnake)
	in.Messages = w.Messages
	in.State = w.State
	in.Tools = w.Tools
	in.Context = w.Context
	in.ForwardedProps = w.ForwardedProps
	if in.ForwardedProps == nil {
		in.ForwardedProps = w.ForwardedSnake
	}
	in.PredictState = w.PredictState
	if in.PredictState == nil {
		in.PredictState = w.PredictStateSnake
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
