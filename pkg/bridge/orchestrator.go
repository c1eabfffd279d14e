package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

// stateContextTemplate is injected as a system message before the last user
// message so the model sees the live state document.
const stateContextTemplate = `Current application state (JSON):
%s

When you update this state through tools, preserve the existing data unless the user explicitly asks for it to be changed or removed.`

// Config describes one bridged agent.
type Config struct {
	// Agent is the inner streaming producer.
	Agent agent.Agent

	// Tools are server-declared tools merged with each request's client
	// declarations.
	Tools []agent.Tool

	// StateSchema maps state keys to their JSON schemas. Non-empty schema
	// plus non-empty state enables snapshot emission and state-context
	// injection.
	StateSchema map[string]any

	// PredictState is the default predictive binding, used when the
	// request does not carry its own.
	PredictState agui.PredictStateConfig

	// RequireConfirmation adds a confirm_changes dialog after approval
	// requests and predictive client tools.
	RequireConfirmation bool

	// ResponseFormat switches the run to structured-output mode.
	ResponseFormat *agent.ResponseFormat

	// Strategy supplies confirmation acknowledgement text. Defaults to
	// DefaultConfirmationStrategy.
	Strategy ConfirmationStrategy

	// Metrics records approval decisions. Nil disables recording.
	Metrics observability.Metrics
}

// Orchestrator is the top-level per-request state machine. One instance
// serves many concurrent runs; all mutable state lives in the per-run
// RunState.
type Orchestrator struct {
	agent               agent.Agent
	tools               []agent.Tool
	stateSchema         map[string]any
	predictState        agui.PredictStateConfig
	requireConfirmation bool
	responseFormat      *agent.ResponseFormat
	strategy            ConfirmationStrategy
	metrics             observability.Metrics
}

// NewOrchestrator builds an orchestrator for one agent.
func NewOrchestrator(cfg Config) *Orchestrator {
	strategy := cfg.Strategy
	if strategy == nil {
		strategy = DefaultConfirmationStrategy{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Orchestrator{
		agent:               cfg.Agent,
		tools:               cfg.Tools,
		stateSchema:         cfg.StateSchema,
		predictState:        cfg.PredictState,
		requireConfirmation: cfg.RequireConfirmation,
		responseFormat:      cfg.ResponseFormat,
		strategy:            strategy,
		metrics:             metrics,
	}
}

// Run executes one request, emitting events to sink in order. Inner-agent
// failures surface in-band as RunError followed by RunFinished; a non-nil
// return means the sink itself failed or the context was cancelled, and the
// stream is already dead.
func (o *Orchestrator) Run(ctx context.Context, input *agui.RunAgentInput, sink EventSink) error {
	threadID := input.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	state := NewRunState(threadID, runID)
	state.CurrentState = o.initialState(input.State)

	predictConfig := input.PredictState
	if len(predictConfig) == 0 {
		predictConfig = predictStateFromProps(input.ForwardedProps)
	}
	if len(predictConfig) == 0 {
		predictConfig = o.predictState
	}
	predictor := NewStatePredictor(predictConfig)
	translator := NewTranslator(state, predictor, sink, o.responseFormat != nil, o.requireConfirmation)

	internal, mirror := ToInternal(input.Messages)
	if len(internal) == 0 {
		if err := sink(agui.NewRunStartedEvent(threadID, runID)); err != nil {
			return err
		}
		return sink(agui.NewRunFinishedEvent(threadID, runID))
	}

	toolset := NewToolset(o.tools, input.Tools)

	// A confirm acknowledgement for a function the server cannot run ends
	// the run with acknowledgement text. An executable target is a real
	// approval and falls through to resolution below.
	if payload, target, ok := confirmAndTarget(input.Messages); ok && !toolset.Executable(target) {
		return o.finishConfirm(ctx, state, payload, sink)
	}

	resolved, err := resolveApprovals(ctx, internal, toolset, predictor, state, o.metrics)
	if err != nil {
		return err
	}
	internal, mirror = pruneEmptyMessages(internal, mirror)

	started := false
	start := func() error {
		if started {
			return nil
		}
		started = true
		if err := sink(agui.NewRunStartedEvent(state.ThreadID, state.RunID)); err != nil {
			return err
		}
		if len(predictConfig) > 0 {
			if err := sink(agui.NewCustomEvent(agui.CustomEventPredictState, predictConfig.Entries())); err != nil {
				return err
			}
		}
		if len(o.stateSchema) > 0 && len(state.CurrentState) > 0 {
			if err := sink(agui.NewStateSnapshotEvent(state.CurrentState)); err != nil {
				return err
			}
		}
		return nil
	}

	if len(resolved) > 0 {
		if err := start(); err != nil {
			return err
		}
		for _, ev := range resolved {
			if err := sink(ev); err != nil {
				return err
			}
		}
	}

	internal = o.injectStateContext(internal, state.CurrentState)

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	updates, err := o.agent.RunStream(streamCtx, internal, &agent.RunOptions{
		Tools:          toolset.RunTools(),
		ResponseFormat: o.responseFormat,
		ConversationID: state.ThreadID,
	})
	if err != nil {
		if startErr := start(); startErr != nil {
			return startErr
		}
		return o.finishError(state, err, sink)
	}

	first := true
	for update := range updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if update.Err != nil {
			if startErr := start(); startErr != nil {
				return startErr
			}
			return o.finishError(state, update.Err, sink)
		}
		if first {
			first = false
			if !started {
				if update.ConversationID != "" {
					state.ThreadID = update.ConversationID
				}
				if update.ResponseID != "" {
					state.RunID = update.ResponseID
				}
			}
			if err := start(); err != nil {
				return err
			}
		}
		for _, c := range update.Contents {
			if err := translator.OnContent(c); err != nil {
				return err
			}
		}
		if state.WaitingForApproval {
			cancelStream()
			break
		}
	}

	// Covers agents that finish without producing a single update.
	if err := start(); err != nil {
		return err
	}
	return o.finalize(state, translator, predictor, mirror, sink)
}

// predictStateFromProps decodes a predictive binding forwarded outside the
// typed input, which is where some UI SDKs put it.
func predictStateFromProps(props map[string]any) agui.PredictStateConfig {
	for _, key := range []string{"predictStateConfig", "predict_state_config"} {
		raw, ok := props[key]
		if !ok {
			continue
		}
		var cfg agui.PredictStateConfig
		if err := mapstructure.Decode(raw, &cfg); err != nil {
			slog.Debug("Failed to decode forwarded predict-state config", "error", err)
			continue
		}
		if len(cfg) > 0 {
			return cfg
		}
	}
	return nil
}

// initialState copies the request state and fills schema defaults for
// missing keys: arrays default to [], everything else to {}.
func (o *Orchestrator) initialState(input map[string]any) map[string]any {
	state := make(map[string]any, len(input)+len(o.stateSchema))
	for k, v := range input {
		state[k] = v
	}
	for key, raw := range o.stateSchema {
		if _, ok := state[key]; ok {
			continue
		}
		if schema, ok := raw.(map[string]any); ok {
			if t, _ := schema["type"].(string); t == "array" {
				state[key] = []any{}
				continue
			}
		}
		state[key] = map[string]any{}
	}
	return state
}

// injectStateContext inserts a system message carrying the live state
// document directly before the last user message.
func (o *Orchestrator) injectStateContext(messages []*agent.Message, currentState map[string]any) []*agent.Message {
	if len(o.stateSchema) == 0 || len(currentState) == 0 || len(messages) == 0 {
		return messages
	}
	last := messages[len(messages)-1]
	if last.Role != agent.RoleUser {
		return messages
	}

	pretty, err := json.MarshalIndent(currentState, "", "  ")
	if err != nil {
		slog.Debug("Failed to render state context", "error", err)
		return messages
	}
	contextMsg := agent.NewTextMessage(agent.RoleSystem, fmt.Sprintf(stateContextTemplate, pretty))

	out := make([]*agent.Message, 0, len(messages)+1)
	out = append(out, messages[:len(messages)-1]...)
	out = append(out, contextMsg, last)
	return out
}

// finalize closes what streaming left open and emits the terminal events.
func (o *Orchestrator) finalize(state *RunState, translator *Translator, predictor *StatePredictor, prior []agui.Message, sink EventSink) error {
	// Calls with no result are declaration-only client tools; close them. A
	// predictive one either asks for confirmation or commits its buffered
	// arguments as the final state.
	for _, call := range state.UnendedCalls() {
		if err := sink(agui.NewToolCallEndEvent(call.ID)); err != nil {
			return err
		}
		state.MarkEnded(call.ID)
		if !predictor.Bound(call.Function.Name) {
			continue
		}
		if o.requireConfirmation {
			if err := o.confirmPredictiveCall(state, translator, predictor, call, sink); err != nil {
				return err
			}
		} else if predictor.Apply(state.CurrentState) {
			state.predictiveApplied = true
			if err := sink(agui.NewStateSnapshotEvent(state.CurrentState)); err != nil {
				return err
			}
		}
	}

	assistantID := state.MessageID
	if err := translator.CloseOpenMessage(); err != nil {
		return err
	}

	if o.responseFormat != nil {
		if err := o.finalizeStructured(state, sink); err != nil {
			return err
		}
		return sink(agui.NewRunFinishedEvent(state.ThreadID, state.RunID))
	}

	// A predictive tool without confirmation already emitted its final
	// StateSnapshot; the snapshot of messages is withheld in that case.
	suppress := state.predictiveApplied && !o.requireConfirmation
	if state.HasActivity() && !suppress {
		snapshot := assembleSnapshot(prior, state, assistantID)
		if err := sink(agui.NewMessagesSnapshotEvent(snapshot)); err != nil {
			return err
		}
	}
	return sink(agui.NewRunFinishedEvent(state.ThreadID, state.RunID))
}

// confirmPredictiveCall applies a predictive client call's completed
// arguments to state and asks the user to confirm before the next turn.
func (o *Orchestrator) confirmPredictiveCall(state *RunState, translator *Translator, predictor *StatePredictor, call agui.ToolCall, sink EventSink) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		// Incomplete arguments at end of stream; whatever partial state
		// was applied already stands.
		slog.Debug("Predictive call arguments did not parse at finalization",
			"tool", call.Function.Name, "error", err)
	} else {
		values := predictor.ExtractFromArgs(call.Function.Name, args)
		if len(values) > 0 {
			applyStateValues(state.CurrentState, values)
			state.predictiveApplied = true
			if err := sink(agui.NewStateSnapshotEvent(state.CurrentState)); err != nil {
				return err
			}
		}
	}

	confirmable := any(call.Function.Arguments)
	if args != nil {
		confirmable = args
	}
	if err := translator.EmitConfirmDialog(call.ID, call.Function.Name, confirmable); err != nil {
		return err
	}
	state.WaitingForApproval = true
	return nil
}

// finalizeStructured folds the aggregated structured output into state and
// emits the message field, if any, as a complete text message.
func (o *Orchestrator) finalizeStructured(state *RunState, sink EventSink) error {
	if state.AccumulatedText == "" {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(state.AccumulatedText), &parsed); err != nil {
		slog.Debug("Structured output did not parse", "error", err)
		return nil
	}

	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updated := false
	for _, k := range keys {
		if len(o.stateSchema) > 0 {
			if _, ok := o.stateSchema[k]; !ok {
				continue
			}
		} else if k == "message" {
			continue
		}
		state.CurrentState[k] = parsed[k]
		updated = true
	}
	if updated {
		if err := sink(agui.NewStateSnapshotEvent(state.CurrentState)); err != nil {
			return err
		}
	}

	if message, ok := parsed["message"].(string); ok && message != "" {
		return emitTextMessage(sink, message)
	}
	return nil
}

// finishConfirm terminates a confirm-changes acknowledgement without
// invoking the inner agent.
func (o *Orchestrator) finishConfirm(ctx context.Context, state *RunState, payload *approvalPayload, sink EventSink) error {
	decision := "rejected"
	if payload.Accepted {
		decision = "confirmed"
	}
	o.metrics.RecordApprovalDecision(ctx, decision)

	if err := sink(agui.NewRunStartedEvent(state.ThreadID, state.RunID)); err != nil {
		return err
	}
	if err := emitTextMessage(sink, o.confirmText(payload)); err != nil {
		return err
	}
	return sink(agui.NewRunFinishedEvent(state.ThreadID, state.RunID))
}

// confirmText picks the acknowledgement wording. An empty steps list means
// the user was confirming state changes, not a step plan.
func (o *Orchestrator) confirmText(payload *approvalPayload) string {
	steps := stepsFromMaps(payload.Steps)
	if len(steps) == 0 {
		if payload.Accepted {
			return o.strategy.OnStateConfirmed()
		}
		return o.strategy.OnStateRejected()
	}
	if payload.Accepted {
		return o.strategy.OnApprovalAccepted(steps)
	}
	return o.strategy.OnApprovalRejected(steps)
}

// finishError reports a streaming failure in-band and terminates the run.
func (o *Orchestrator) finishError(state *RunState, cause error, sink EventSink) error {
	slog.Error("Run failed", "run_id", state.RunID, "error", cause)
	if err := sink(agui.NewRunErrorEvent(cause.Error())); err != nil {
		return err
	}
	return sink(agui.NewRunFinishedEvent(state.ThreadID, state.RunID))
}

// emitTextMessage emits a complete start/content/end triplet for text.
func emitTextMessage(sink EventSink, text string) error {
	id := uuid.New().String()
	if err := sink(agui.NewTextMessageStartEvent(id)); err != nil {
		return err
	}
	if text != "" {
		if err := sink(agui.NewTextMessageContentEvent(id, text)); err != nil {
			return err
		}
	}
	return sink(agui.NewTextMessageEndEvent(id))
}

// assembleSnapshot builds the MessagesSnapshot payload: the prior history in
// wire form, the assistant message this run produced, and every tool-result
// envelope emitted along the way.
func assembleSnapshot(prior []agui.Message, state *RunState, assistantID string) []agui.Message {
	messages := make([]agui.Message, 0, len(prior)+1+len(state.ToolResults))
	messages = append(messages, prior...)

	if len(state.PendingToolCalls) > 0 || state.AccumulatedText != "" {
		msg := agui.Message{ID: assistantID, Role: agui.RoleAssistant}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if state.AccumulatedText != "" {
			msg.Content = agui.String(state.AccumulatedText)
		}
		if len(state.PendingToolCalls) > 0 {
			msg.ToolCalls = append([]agui.ToolCall(nil), state.PendingToolCalls...)
		}
		messages = append(messages, msg)
	}

	messages = append(messages, state.ToolResults...)
	return messages
}

// pruneEmptyMessages drops messages stripped bare by approval dedup, keeping
// the internal list and its wire mirror aligned.
func pruneEmptyMessages(internal []*agent.Message, mirror []agui.Message) ([]*agent.Message, []agui.Message) {
	outInternal := internal[:0]
	outMirror := mirror[:0]
	for i, msg := range internal {
		if len(msg.Contents) == 0 {
			continue
		}
		outInternal = append(outInternal, msg)
		outMirror = append(outMirror, mirror[i])
	}
	return outInternal, outMirror
}
