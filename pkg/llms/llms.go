// Package llms provides streaming chat-completion providers for the inner
// LLM agent. Providers translate conversation messages into their wire
// format, stream text and tool-call deltas back as they arrive, and report
// accumulated tool calls once a turn completes.
package llms

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/config"
)

// streamBuffer sizes provider output channels so a slow consumer does not
// stall the network read immediately.
const streamBuffer = 100

// Provider is a streaming chat-completion client. A non-nil error from
// GenerateStreaming means no stream was started; once a channel is returned,
// failures arrive as error chunks and the channel closes after them.
type Provider interface {
	// GenerateStreaming runs one model call and streams chunks back. The
	// channel closes when the call completes.
	GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	// ModelName returns the configured model identifier.
	ModelName() string

	Close() error
}

// Request is one model call: the conversation so far plus per-turn options.
type Request struct {
	// Messages is the full conversation, system messages included.
	Messages []*agent.Message

	// Tools declares the functions the model may call.
	Tools []ToolDefinition

	// ResponseFormat switches the call to structured output.
	ResponseFormat *agent.ResponseFormat

	// Temperature overrides the provider's configured default when non-nil.
	Temperature *float64

	// Store asks the provider to retain the response server-side, where
	// supported.
	Store bool
}

// ToolDefinition declares a callable function to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON-schema object describing the arguments.
	Parameters map[string]any
}

// Definitions renders agent tools as model-facing declarations.
func Definitions(tools []agent.Tool) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// ToolCall is a model-requested function call. On delta chunks Arguments is
// a JSON fragment; on complete chunks it is the full argument document.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChunkType discriminates StreamChunk payloads.
type ChunkType string

const (
	// ChunkText carries a user-visible text delta.
	ChunkText ChunkType = "text"

	// ChunkReasoning carries a model reasoning delta.
	ChunkReasoning ChunkType = "reasoning"

	// ChunkToolCallDelta carries an in-progress tool call: identity on the
	// first chunk, argument fragments after.
	ChunkToolCallDelta ChunkType = "tool_call_delta"

	// ChunkToolCall carries a fully accumulated tool call, emitted once the
	// model finishes requesting it.
	ChunkToolCall ChunkType = "tool_call"

	// ChunkDone closes a successful stream and carries final usage.
	ChunkDone ChunkType = "done"

	// ChunkError reports a mid-stream failure. The channel closes after it.
	ChunkError ChunkType = "error"
)

// StreamChunk is one unit of provider output.
type StreamChunk struct {
	Type ChunkType

	// Text is the delta for text and reasoning chunks.
	Text string

	// ToolCall is set on tool-call chunks.
	ToolCall *ToolCall

	// Usage is set on the done chunk when the provider reported it.
	Usage *Usage

	// ResponseID is the provider's identifier for this response, once known.
	ResponseID string

	Err error
}

// New builds a provider from configuration.
func New(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config cannot be nil")
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: openai, gemini)", cfg.Provider)
	}
}

// stableCallID derives a deterministic call id from a call's name and
// arguments, for providers that omit ids. The same call always maps to the
// same id, which lets streaming dedup catch repeated deliveries.
func stableCallID(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{
		"name": name,
		"args": args,
	})
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("call-%x", sum[:16])
}
