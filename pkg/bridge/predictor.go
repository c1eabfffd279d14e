package bridge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// ============================================================================
// PREDICTIVE STATE ENGINE
// ============================================================================
// Turns streaming tool-call argument fragments into live StateDelta events so
// a UI can render state edits while the model is still typing them. Each state
// key is bound to one (tool, argument) pair; the whole argument object binds
// when the argument name is "*" or empty.

type predictBinding struct {
	stateKey string
	tool     string
	argument string
	partial  *regexp.Regexp
}

// StatePredictor accumulates the argument stream of the current tool call and
// emits a JSON Patch replace for a bound state key whenever its predicted
// value changes.
type StatePredictor struct {
	bindings []predictBinding

	tool     string
	buf      strings.Builder
	lastSent map[string]any
}

// NewStatePredictor compiles a predictor from the run's predict-state
// configuration. Returns nil when the configuration is empty.
func NewStatePredictor(cfg agui.PredictStateConfig) *StatePredictor {
	if len(cfg) == 0 {
		return nil
	}
	p := &StatePredictor{lastSent: make(map[string]any)}
	for _, entry := range cfg.Entries() {
		b := predictBinding{
			stateKey: entry.StateKey,
			tool:     entry.Tool,
			argument: entry.ToolArgument,
		}
		if named := b.argument != "" && b.argument != agui.WildcardArgument; named {
			// Matches the opening of a string value for the bound
			// argument inside an incomplete JSON document.
			b.partial = regexp.MustCompile(fmt.Sprintf(`"%s":\s*"([^"]*)`, regexp.QuoteMeta(b.argument)))
		}
		p.bindings = append(p.bindings, b)
	}
	return p
}

// Bound reports whether any state key is bound to the given tool.
func (p *StatePredictor) Bound(tool string) bool {
	if p == nil {
		return false
	}
	for _, b := range p.bindings {
		if b.tool == tool {
			return true
		}
	}
	return false
}

// BeginCall resets the accumulator and the per-call emission history for a
// new tool call.
func (p *StatePredictor) BeginCall(tool string) {
	if p == nil {
		return
	}
	p.tool = tool
	p.buf.Reset()
	p.lastSent = make(map[string]any)
}

// Ingest appends an argument chunk and returns the StateDelta events it
// unlocks. A fully parseable accumulation yields exact values; otherwise the
// engine falls back to extracting partial string values for named-argument
// bindings. Non-string partials are never guessed.
func (p *StatePredictor) Ingest(chunk string) []agui.Event {
	if p == nil || chunk == "" {
		return nil
	}
	p.buf.WriteString(chunk)
	acc := p.buf.String()

	var parsed map[string]any
	if err := json.Unmarshal([]byte(acc), &parsed); err == nil {
		return p.fromParsed(parsed)
	}
	return p.fromPartial(acc)
}

func (p *StatePredictor) fromParsed(args map[string]any) []agui.Event {
	var events []agui.Event
	for _, b := range p.bindings {
		if b.tool != p.tool {
			continue
		}
		value, ok := bindingValue(b.argument, args)
		if !ok {
			continue
		}
		if reflect.DeepEqual(p.lastSent[b.stateKey], value) {
			continue
		}
		p.lastSent[b.stateKey] = value
		events = append(events, agui.NewReplaceStateDelta(b.stateKey, value))
	}
	return events
}

func (p *StatePredictor) fromPartial(acc string) []agui.Event {
	var events []agui.Event
	for _, b := range p.bindings {
		if b.tool != p.tool || b.partial == nil {
			continue
		}
		m := b.partial.FindStringSubmatch(acc)
		if m == nil {
			continue
		}
		value := unescapePartial(m[1])
		if prev, ok := p.lastSent[b.stateKey].(string); ok && prev == value {
			continue
		}
		p.lastSent[b.stateKey] = value
		events = append(events, agui.NewReplaceStateDelta(b.stateKey, value))
	}
	return events
}

// Apply copies the last predicted values into state and clears the
// accumulator. It reports whether any value was applied, which is the cue to
// emit a StateSnapshot.
func (p *StatePredictor) Apply(state map[string]any) bool {
	if p == nil || len(p.lastSent) == 0 {
		return false
	}
	keys := make([]string, 0, len(p.lastSent))
	for k := range p.lastSent {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		state[k] = p.lastSent[k]
	}
	p.buf.Reset()
	return true
}

// ExtractFromArgs resolves the bound state values for a tool from a complete
// argument object. Used on the non-streaming paths, where full arguments are
// available up front.
func (p *StatePredictor) ExtractFromArgs(tool string, args map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any)
	for _, b := range p.bindings {
		if b.tool != tool {
			continue
		}
		if value, ok := bindingValue(b.argument, args); ok {
			out[b.stateKey] = value
		}
	}
	return out
}

func bindingValue(argument string, args map[string]any) (any, bool) {
	if argument == "" || argument == agui.WildcardArgument {
		return args, true
	}
	value, ok := args[argument]
	return value, ok
}

// unescapePartial undoes the JSON string escapes that can appear inside a
// truncated value. The replacement order is fixed: newlines and quotes first,
// double backslashes last, so a lone escaped backslash is not mangled.
func unescapePartial(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}
