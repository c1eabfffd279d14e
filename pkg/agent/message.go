package agent

import (
	"encoding/json"
	"fmt"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an inner-agent conversation message: a role plus an ordered
// sequence of content items.
type Message struct {
	ID       string
	Role     Role
	Contents []Content
}

// NewTextMessage builds a single-text message.
func NewTextMessage(role Role, text string) *Message {
	return &Message{Role: role, Contents: []Content{&TextContent{Text: text}}}
}

// Text concatenates the message's text contents.
func (m *Message) Text() string {
	var out string
	for _, c := range m.Contents {
		if t, ok := c.(*TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// ============================================================================
// Content Items
// ============================================================================

// Content is one item of a message or update. The set of kinds is closed;
// consumers dispatch with a type switch.
type Content interface {
	isContent()
}

// TextContent is user-visible text, streamed as deltas during a turn.
type TextContent struct {
	Text string
}

// TextReasoningContent is model reasoning text, not shown as message content.
type TextReasoningContent struct {
	Text string
}

// FunctionCallContent announces or continues a function call. While streaming,
// Arguments holds a JSON string fragment; reconstructed calls may hold a
// decoded map instead.
type FunctionCallContent struct {
	CallID    string
	Name      string
	Arguments any
}

// FunctionResultContent is the outcome of an executed function call.
type FunctionResultContent struct {
	CallID string
	Result any
}

// FunctionApprovalRequestContent asks the user to approve a function call
// before it executes.
type FunctionApprovalRequestContent struct {
	ID           string
	FunctionCall *FunctionCallContent
}

// StateArgsKey is the AdditionalProperties key under which an approval
// response carries the merged (user-edited) argument map.
const StateArgsKey = "ag_ui_state_args"

// FunctionApprovalResponseContent is the user's decision on an approval
// request. AdditionalProperties carries bridge metadata such as the merged
// argument map under StateArgsKey.
type FunctionApprovalResponseContent struct {
	ID                   string
	Approved             bool
	FunctionCall         *FunctionCallContent
	AdditionalProperties map[string]any
}

// MergedArguments returns the user-edited argument map from an approval
// response, or nil when the user sent the call through unchanged.
func (c *FunctionApprovalResponseContent) MergedArguments() map[string]any {
	if c.AdditionalProperties == nil {
		return nil
	}
	if merged, ok := c.AdditionalProperties[StateArgsKey].(map[string]any); ok {
		return merged
	}
	return nil
}

// DataContent is opaque binary or structured data, carried through untouched.
type DataContent struct {
	MIMEType string
	Data     []byte
}

// URIContent references external content by URI, carried through untouched.
type URIContent struct {
	URI      string
	MIMEType string
}

// UsageContent reports token accounting for the turn.
type UsageContent struct {
	InputTokens  int
	OutputTokens int
}

func (*TextContent) isContent()                     {}
func (*TextReasoningContent) isContent()            {}
func (*FunctionCallContent) isContent()             {}
func (*FunctionResultContent) isContent()           {}
func (*FunctionApprovalRequestContent) isContent()  {}
func (*FunctionApprovalResponseContent) isContent() {}
func (*DataContent) isContent()                     {}
func (*URIContent) isContent()                      {}
func (*UsageContent) isContent()                    {}

// ============================================================================
// Function Call Helpers
// ============================================================================

// ArgumentsString renders the call's arguments as a JSON string. String
// arguments pass through verbatim (they may be partial fragments).
func (c *FunctionCallContent) ArgumentsString() string {
	switch v := c.Arguments.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ParsedArguments decodes the call's arguments into a map. Returns an empty
// map for absent arguments.
func (c *FunctionCallContent) ParsedArguments() (map[string]any, error) {
	switch v := c.Arguments.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("failed to parse arguments for %s: %w", c.Name, err)
		}
		return out, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments for %s: %w", c.Name, err)
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse arguments for %s: %w", c.Name, err)
		}
		return out, nil
	}
}

// ResultString renders a function result the way it is shown to models and
// serialized into tool-result events: strings verbatim, everything else JSON.
func (c *FunctionResultContent) ResultString() string {
	switch v := c.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
