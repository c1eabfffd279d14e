package agui

import "encoding/json"

// Message roles defined by the protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleDeveloper = "developer"
)

// ToolCallTypeFunction is the only tool-call type the protocol defines.
const ToolCallTypeFunction = "function"

// Message is one AG-UI conversation message. Content is a pointer because the
// wire form distinguishes a null content (assistant message that only carries
// tool calls) from an empty string.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       string     `json:"role"`
	Content    *string    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is an assistant-announced function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names a function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts both the camelCase wire keys and their snake_case
// aliases (tool_calls, tool_call_id), which some clients still send.
func (m *Message) UnmarshalJSON(data []byte) error {
	type wire struct {
		ID              string     `json:"id"`
		Role            string     `json:"role"`
		Content         *string    `json:"content"`
		Name            string     `json:"name"`
		ToolCalls       []ToolCall `json:"toolCalls"`
		ToolCallsSnake  []ToolCall `json:"tool_calls"`
		ToolCallID      string     `json:"toolCallId"`
		ToolCallIDSnake string     `json:"tool_call_id"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.Role = w.Role
	m.Content = w.Content
	m.Name = w.Name
	m.ToolCalls = w.ToolCalls
	if m.ToolCalls == nil {
		m.ToolCalls = w.ToolCallsSnake
	}
	m.ToolCallID = w.ToolCallID
	if m.ToolCallID == "" {
		m.ToolCallID = w.ToolCallIDSnake
	}
	return nil
}

// TextContent returns the message content, or "" when content is null.
func (m *Message) TextContent() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasToolCalls reports whether the message announces any tool calls.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// String returns a pointer to s, for populating nullable content fields.
func String(s string) *string {
	return &s
}
