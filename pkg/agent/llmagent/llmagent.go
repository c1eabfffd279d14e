// Package llmagent implements the reference inner agent: a chat loop over a
// pkg/llms provider that executes server tools between model turns.
//
// The loop streams model output as it arrives and keeps going until the model
// stops requesting tools. Two situations end a turn early: a tool that
// requires approval yields an approval request instead of executing, and a
// declaration-only tool leaves execution to the client. In both cases the
// conversation resumes in a later run with the outcome in the message history.
package llmagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/llms"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

const tracerName = "aguibridge.llmagent"

// updateBuffer sizes the update channel so tool execution between model turns
// does not stall on a slow consumer.
const updateBuffer = 100

// defaultMaxIterations bounds the tool-calling loop. It is a safety limit,
// not the primary termination condition; the loop ends when the model stops
// requesting tools.
const defaultMaxIterations = 100

// Config configures an LLM agent.
type Config struct {
	// Name must be unique among the exposed agents.
	Name string

	// Description is shown in discovery.
	Description string

	// Provider is the LLM used for generation.
	Provider llms.Provider

	// Instructions guides the agent's behavior. Prepended to every
	// conversation as a system message.
	Instructions string

	// Tools are available on every turn. Run options may override the set
	// per turn.
	Tools []agent.Tool

	// ResponseFormat constrains the final answer to a JSON schema.
	ResponseFormat *agent.ResponseFormat

	// MaxIterations caps the tool-calling loop.
	// Default: 100
	MaxIterations int

	// Observability provides tracing and metrics. Nil disables both.
	Observability *observability.Manager
}

// LLMAgent runs conversations against an LLM provider.
type LLMAgent struct {
	name           string
	description    string
	provider       llms.Provider
	instructions   string
	tools          []agent.Tool
	responseFormat *agent.ResponseFormat
	maxIterations  int
	obs            *observability.Manager
}

var _ agent.Agent = (*LLMAgent)(nil)

// New creates an LLM agent.
func New(cfg Config) (*LLMAgent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}

	maxIterations := cfg.MaxIterations
	if maxIterations == 0 {
		maxIterations = defaultMaxIterations
	}

	obs := cfg.Observability
	if obs == nil {
		obs = observability.NoopManager()
	}

	return &LLMAgent{
		name:           cfg.Name,
		description:    cfg.Description,
		provider:       cfg.Provider,
		instructions:   cfg.Instructions,
		tools:          cfg.Tools,
		responseFormat: cfg.ResponseFormat,
		maxIterations:  maxIterations,
		obs:            obs,
	}, nil
}

func (a *LLMAgent) Name() string        { return a.name }
func (a *LLMAgent) Description() string { return a.description }

// RunStream runs one turn of the chat loop and streams content updates back.
func (a *LLMAgent) RunStream(ctx context.Context, messages []*agent.Message, opts *agent.RunOptions) (<-chan *agent.Update, error) {
	turn := a.newTurn(messages, opts)
	ch := make(chan *agent.Update, updateBuffer)
	go a.run(ctx, ch, turn)
	return ch, nil
}

// turn carries the per-run working set: the growing conversation plus the
// effective tools and generation options.
type turn struct {
	conversation []*agent.Message
	tools        []agent.Tool
	byName       map[string]agent.Tool
	format       *agent.ResponseFormat
	temperature  *float64
	store        bool
}

func (a *LLMAgent) newTurn(messages []*agent.Message, opts *agent.RunOptions) *turn {
	t := &turn{
		tools:  a.tools,
		format: a.responseFormat,
	}
	if opts != nil {
		// A non-nil empty tool list disables tools for the turn.
		if opts.Tools != nil {
			t.tools = opts.Tools
		}
		if opts.ResponseFormat != nil {
			t.format = opts.ResponseFormat
		}
		t.temperature = opts.Temperature
		t.store = opts.Store
	}

	t.conversation = make([]*agent.Message, 0, len(messages)+1)
	if a.instructions != "" {
		t.conversation = append(t.conversation, agent.NewTextMessage(agent.RoleSystem, a.instructions))
	}
	t.conversation = append(t.conversation, messages...)

	t.byName = make(map[string]agent.Tool, len(t.tools))
	for _, tool := range t.tools {
		t.byName[tool.Name()] = tool
	}
	return t
}

func (a *LLMAgent) run(ctx context.Context, ch chan<- *agent.Update, t *turn) {
	defer close(ch)

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		if ctx.Err() != nil {
			return
		}

		calls, ok := a.step(ctx, ch, t)
		if !ok {
			return
		}
		if len(calls) == 0 {
			return
		}
		if !a.handleToolCalls(ctx, ch, t, calls) {
			return
		}
	}

	a.send(ctx, ch, &agent.Update{
		Err: fmt.Errorf("reasoning loop safety limit exceeded (%d iterations)", a.maxIterations),
	})
}

// step makes one model call, forwards its stream, and appends the assistant
// message to the conversation. It returns the completed tool calls and false
// when the turn must stop.
func (a *LLMAgent) step(ctx context.Context, ch chan<- *agent.Update, t *turn) ([]*llms.ToolCall, bool) {
	req := &llms.Request{
		Messages:       t.conversation,
		Tools:          llms.Definitions(t.tools),
		ResponseFormat: t.format,
		Temperature:    t.temperature,
		Store:          t.store,
	}

	llmCtx, span := a.obs.Tracer(tracerName).Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, a.name),
			attribute.String(observability.AttrLLMModel, a.provider.ModelName()),
		))
	defer span.End()

	stream, err := a.provider.GenerateStreaming(llmCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		a.send(ctx, ch, &agent.Update{Err: fmt.Errorf("llm generation failed: %w", err)})
		return nil, false
	}

	var text string
	var calls []*llms.ToolCall
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkText:
			text += chunk.Text
			update := &agent.Update{
				Contents:   []agent.Content{&agent.TextContent{Text: chunk.Text}},
				ResponseID: chunk.ResponseID,
			}
			if !a.send(ctx, ch, update) {
				return nil, false
			}

		case llms.ChunkReasoning:
			update := &agent.Update{
				Contents:   []agent.Content{&agent.TextReasoningContent{Text: chunk.Text}},
				ResponseID: chunk.ResponseID,
			}
			if !a.send(ctx, ch, update) {
				return nil, false
			}

		case llms.ChunkToolCallDelta:
			tc := chunk.ToolCall
			update := &agent.Update{
				Contents: []agent.Content{&agent.FunctionCallContent{
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: tc.Arguments,
				}},
				ResponseID: chunk.ResponseID,
			}
			if !a.send(ctx, ch, update) {
				return nil, false
			}

		case llms.ChunkToolCall:
			// Complete calls drive execution; their identity and arguments
			// were already forwarded as deltas.
			calls = append(calls, chunk.ToolCall)

		case llms.ChunkDone:
			if chunk.Usage != nil {
				update := &agent.Update{
					Contents: []agent.Content{&agent.UsageContent{
						InputTokens:  chunk.Usage.InputTokens,
						OutputTokens: chunk.Usage.OutputTokens,
					}},
					ResponseID: chunk.ResponseID,
				}
				if !a.send(ctx, ch, update) {
					return nil, false
				}
			}

		case llms.ChunkError:
			span.RecordError(chunk.Err)
			span.SetStatus(codes.Error, "stream failed")
			a.send(ctx, ch, &agent.Update{Err: fmt.Errorf("llm generation failed: %w", chunk.Err)})
			return nil, false
		}
	}

	appendAssistantMessage(t, text, calls)
	return calls, true
}

// appendAssistantMessage records the model's turn so the next request replays
// it: text first, then the completed calls with full argument documents.
func appendAssistantMessage(t *turn, text string, calls []*llms.ToolCall) {
	var contents []agent.Content
	if text != "" {
		contents = append(contents, &agent.TextContent{Text: text})
	}
	for _, call := range calls {
		contents = append(contents, &agent.FunctionCallContent{
			CallID:    call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	if len(contents) == 0 {
		return
	}
	t.conversation = append(t.conversation, &agent.Message{Role: agent.RoleAssistant, Contents: contents})
}

// handleToolCalls resolves the turn's completed calls in order. It returns
// false when the loop must stop: an approval request was emitted, a
// declaration-only call is pending client-side, or the consumer went away.
func (a *LLMAgent) handleToolCalls(ctx context.Context, ch chan<- *agent.Update, t *turn, calls []*llms.ToolCall) bool {
	pending := false
	for _, call := range calls {
		tool, ok := t.byName[call.Name]
		if !ok {
			slog.Warn("Model requested unknown tool", "agent", a.name, "tool", call.Name)
			if !a.finishCall(ctx, ch, t, call.ID, fmt.Sprintf("Error: tool %q not found", call.Name)) {
				return false
			}
			continue
		}

		if tool.DeclarationOnly() {
			// The call was already streamed; the client executes it and the
			// result comes back in the next run's history.
			slog.Debug("Deferring client-side tool", "agent", a.name, "tool", call.Name)
			pending = true
			continue
		}

		if tool.ApprovalMode() == agent.ApprovalAlways {
			slog.Debug("Tool awaiting approval", "agent", a.name, "tool", call.Name)
			a.send(ctx, ch, &agent.Update{
				Contents: []agent.Content{&agent.FunctionApprovalRequestContent{
					ID: uuid.New().String(),
					FunctionCall: &agent.FunctionCallContent{
						CallID:    call.ID,
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				}},
			})
			return false
		}

		if !a.finishCall(ctx, ch, t, call.ID, a.execute(ctx, tool, call)) {
			return false
		}
	}
	return !pending
}

// finishCall emits a function result and appends the matching tool message so
// the next model call sees it.
func (a *LLMAgent) finishCall(ctx context.Context, ch chan<- *agent.Update, t *turn, callID string, result any) bool {
	content := &agent.FunctionResultContent{CallID: callID, Result: result}
	if !a.send(ctx, ch, &agent.Update{Contents: []agent.Content{content}}) {
		return false
	}
	t.conversation = append(t.conversation, &agent.Message{Role: agent.RoleTool, Contents: []agent.Content{content}})
	return true
}

// execute runs one tool call. Failures become result text so the model can
// self-correct instead of ending the run.
func (a *LLMAgent) execute(ctx context.Context, tool agent.Tool, call *llms.ToolCall) any {
	fc := &agent.FunctionCallContent{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}
	args, err := fc.ParsedArguments()
	if err != nil {
		slog.Warn("Tool call has invalid arguments", "agent", a.name, "tool", call.Name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}

	toolCtx, span := a.obs.Tracer(tracerName).Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, tool.Name())))
	defer span.End()

	start := time.Now()
	result, err := tool.Execute(toolCtx, args)
	a.obs.Metrics().RecordToolExecution(ctx, tool.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		slog.Warn("Tool execution failed", "agent", a.name, "tool", tool.Name(), "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

func (a *LLMAgent) send(ctx context.Context, ch chan<- *agent.Update, u *agent.Update) bool {
	select {
	case ch <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
