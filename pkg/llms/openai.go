package llms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/config"
)

// maxImageBytes caps inline image payloads (OpenAI rejects larger ones).
const maxImageBytes = 20 * 1024 * 1024

// OpenAIProvider streams chat completions from OpenAI or any
// OpenAI-compatible endpoint selected via base_url.
type OpenAIProvider struct {
	client *openai.Client
	config *config.LLMConfig
}

// NewOpenAIProvider builds a provider over the configured endpoint.
func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config cannot be nil")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

// GenerateStreaming opens a completion stream and converts its deltas to
// chunks on the returned channel.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream request failed: %w", err)
	}

	out := make(chan StreamChunk, streamBuffer)
	go p.processStream(ctx, stream, out)
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req *Request) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         p.config.Model,
		Messages:      messagesToOpenAI(req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Store:         req.Store,
	}

	// o-series and gpt-5 models accept only max_completion_tokens and run
	// at a fixed temperature.
	if isReasoningModel(p.config.Model) {
		if p.config.MaxTokens > 0 {
			chatReq.MaxCompletionTokens = p.config.MaxTokens
		}
	} else {
		if p.config.MaxTokens > 0 {
			chatReq.MaxTokens = p.config.MaxTokens
		}
		if t := resolveTemperature(req.Temperature, p.config.Temperature); t != nil {
			chatReq.Temperature = float32(*t)
		}
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = toolsToOpenAI(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	if req.ResponseFormat != nil {
		format, err := responseFormatToOpenAI(req.ResponseFormat)
		if err != nil {
			return chatReq, err
		}
		chatReq.ResponseFormat = format
	}

	return chatReq, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- StreamChunk) {
	defer close(out)
	defer stream.Close()

	acc := newToolCallAccumulator()
	var usage *Usage
	var responseID string

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Flush calls the model never closed with a finish reason.
				for _, call := range acc.flush() {
					out <- StreamChunk{Type: ChunkToolCall, ToolCall: call, ResponseID: responseID}
				}
				out <- StreamChunk{Type: ChunkDone, Usage: usage, ResponseID: responseID}
				return
			}
			if ctx.Err() != nil {
				out <- StreamChunk{Type: ChunkError, Err: ctx.Err()}
				return
			}
			out <- StreamChunk{Type: ChunkError, Err: fmt.Errorf("openai stream failed: %w", err)}
			return
		}

		if response.ID != "" {
			responseID = response.ID
		}
		// With IncludeUsage the final chunk carries usage and no choices.
		if response.Usage != nil {
			usage = &Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			out <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content, ResponseID: responseID}
		}

		for _, tc := range choice.Delta.ToolCalls {
			if delta := acc.ingest(tc); delta != nil {
				out <- StreamChunk{Type: ChunkToolCallDelta, ToolCall: delta, ResponseID: responseID}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls || choice.FinishReason == openai.FinishReasonStop {
			for _, call := range acc.flush() {
				out <- StreamChunk{Type: ChunkToolCall, ToolCall: call, ResponseID: responseID}
			}
		}
	}
}

// toolCallAccumulator rebuilds tool calls from deltas. OpenAI streams each
// call's id and name once, then argument fragments keyed by choice index.
type toolCallAccumulator struct {
	calls map[int]*ToolCall
	last  int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*ToolCall)}
}

// ingest folds one delta into the accumulator and returns the delta view to
// forward downstream: current identity plus just-arrived fragment. Returns
// nil for deltas that carry nothing.
func (a *toolCallAccumulator) ingest(tc openai.ToolCall) *ToolCall {
	if tc.ID == "" && tc.Function.Name == "" && tc.Function.Arguments == "" {
		return nil
	}

	index := a.last
	if tc.Index != nil {
		index = *tc.Index
	}
	a.last = index

	call, ok := a.calls[index]
	if !ok {
		call = &ToolCall{}
		a.calls[index] = call
	}

	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	// Compatible servers sometimes omit ids; downstream correlation needs
	// one, so mint it here and keep it for the complete call too.
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	call.Arguments += tc.Function.Arguments

	return &ToolCall{ID: call.ID, Name: call.Name, Arguments: tc.Function.Arguments}
}

// flush returns the accumulated calls in stream order and resets.
func (a *toolCallAccumulator) flush() []*ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]*ToolCall, 0, len(indexes))
	for _, i := range indexes {
		call := a.calls[i]
		if call.Name == "" {
			continue
		}
		out = append(out, call)
	}

	a.calls = make(map[int]*ToolCall)
	a.last = 0
	return out
}

func messagesToOpenAI(messages []*agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case agent.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text(),
			})
		case agent.RoleAssistant:
			out = append(out, assistantMessageToOpenAI(msg))
		case agent.RoleTool:
			// One message per result; OpenAI correlates by tool_call_id.
			for _, c := range msg.Contents {
				if res, ok := c.(*agent.FunctionResultContent); ok {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    res.ResultString(),
						ToolCallID: res.CallID,
					})
				}
			}
		default:
			out = append(out, userMessageToOpenAI(msg))
		}
	}
	return out
}

func userMessageToOpenAI(msg *agent.Message) openai.ChatCompletionMessage {
	var text string
	var media []openai.ChatMessagePart

	for _, c := range msg.Contents {
		switch v := c.(type) {
		case *agent.TextContent:
			text += v.Text
		case *agent.DataContent:
			if !strings.HasPrefix(v.MIMEType, "image/") || len(v.Data) > maxImageBytes {
				continue
			}
			dataURL := fmt.Sprintf("data:%s;base64,%s", v.MIMEType, base64.StdEncoding.EncodeToString(v.Data))
			media = append(media, imagePart(dataURL))
		case *agent.URIContent:
			media = append(media, imagePart(v.URI))
		}
	}

	if len(media) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(media)+1)
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	parts = append(parts, media...)

	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func imagePart(url string) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    url,
			Detail: openai.ImageURLDetailAuto,
		},
	}
}

func assistantMessageToOpenAI(msg *agent.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: msg.Text(),
	}

	for _, c := range msg.Contents {
		call, ok := c.(*agent.FunctionCallContent)
		if !ok {
			continue
		}
		args := call.ArgumentsString()
		if args == "" {
			// Replayed calls need a valid argument document.
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   call.CallID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}

	return out
}

func toolsToOpenAI(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func responseFormatToOpenAI(format *agent.ResponseFormat) (*openai.ChatCompletionResponseFormat, error) {
	if format.Schema == nil {
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}, nil
	}

	schema, err := json.Marshal(format.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response schema: %w", err)
	}

	name := format.Name
	if name == "" {
		name = "response"
	}

	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   name,
			Schema: json.RawMessage(schema),
			Strict: format.Strict,
		},
	}, nil
}

func resolveTemperature(override, configured *float64) *float64 {
	if override != nil {
		return override
	}
	return configured
}

// isReasoningModel reports whether a model takes the o-series request shape.
func isReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	switch lower {
	case "o1", "o3", "o4", "gpt-5":
		return true
	}
	for _, prefix := range []string{"o1-", "o3-", "o4-", "gpt-5-"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
