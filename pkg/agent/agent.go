// Package agent defines the inner-agent contract the bridge runs against: a
// streaming producer of content updates (text deltas, function calls, function
// results, approval requests) plus the message and content types it consumes.
//
// Implementations live in subpackages:
//   - llmagent: a chat-completion agent over pkg/llms providers
//   - a2aagent: a proxy for a remote A2A server
package agent

import "context"

// Agent is an opaque streaming producer. RunStream returns immediately with a
// channel of updates; the channel is closed when the turn completes. Stream
// failures are delivered in-band on Update.Err. A non-nil setup error means
// no stream was started.
type Agent interface {
	// Name identifies the agent.
	Name() string

	// Description is a human-readable summary, used for discovery.
	Description() string

	// RunStream runs one turn against the given conversation and streams
	// content updates back. The stream honors ctx cancellation.
	RunStream(ctx context.Context, messages []*Message, opts *RunOptions) (<-chan *Update, error)
}

// Update is one chunk of a streaming turn.
type Update struct {
	// Contents carries the content items produced since the last update.
	Contents []Content

	// ResponseID is the provider's identifier for this response, when it
	// has one. Adopted as the run id by the bridge.
	ResponseID string

	// ConversationID is the provider-side conversation identity, when the
	// provider tracks one. Adopted as the thread id by the bridge.
	ConversationID string

	// Err reports a mid-stream failure. The stream closes after an
	// errored update.
	Err error
}

// Text concatenates the update's text contents.
func (u *Update) Text() string {
	var out string
	for _, c := range u.Contents {
		if t, ok := c.(*TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCallsOnly reports whether the update carries function-call content and
// nothing the user would see as text.
func (u *Update) ToolCallsOnly() bool {
	var calls int
	for _, c := range u.Contents {
		switch c.(type) {
		case *FunctionCallContent:
			calls++
		case *TextContent, *TextReasoningContent:
			return false
		}
	}
	return calls > 0
}
