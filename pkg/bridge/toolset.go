package bridge

import (
	"context"
	"fmt"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// ============================================================================
// TOOL MERGING
// ============================================================================
// A run sees the union of server-declared tools and the request's client
// tools. Client tools live in the browser, so they are registered as
// declarations only: the model may call them, but the server never executes
// them. The merge is scoped to the request and never touches the agent's own
// registry.

// Toolset is the per-request merged tool view.
type Toolset struct {
	tools  []agent.Tool
	byName map[string]agent.Tool

	hasClient bool
}

// NewToolset merges server tools with client declarations, deduplicated by
// name with the server winning.
func NewToolset(server []agent.Tool, client []agui.ToolSpec) *Toolset {
	ts := &Toolset{byName: make(map[string]agent.Tool)}
	for _, t := range server {
		ts.add(t)
	}
	for _, spec := range client {
		ts.hasClient = true
		ts.add(&clientTool{spec: spec})
	}
	return ts
}

func (ts *Toolset) add(t agent.Tool) {
	if _, exists := ts.byName[t.Name()]; exists {
		return
	}
	ts.byName[t.Name()] = t
	ts.tools = append(ts.tools, t)
}

// RunTools returns the tool list to pass to the inner agent. When the server
// tools need no approval and the client declared nothing, it returns nil so
// the agent falls back to its own configured tools.
func (ts *Toolset) RunTools() []agent.Tool {
	if !ts.hasClient && !ts.needsApproval() {
		return nil
	}
	return ts.tools
}

func (ts *Toolset) needsApproval() bool {
	for _, t := range ts.tools {
		if t.ApprovalMode() == agent.ApprovalAlways {
			return true
		}
	}
	return false
}

// Lookup returns the merged tool with the given name.
func (ts *Toolset) Lookup(name string) (agent.Tool, bool) {
	t, ok := ts.byName[name]
	return t, ok
}

// Executable reports whether name resolves to a tool the server can run.
func (ts *Toolset) Executable(name string) bool {
	t, ok := ts.byName[name]
	return ok && !t.DeclarationOnly()
}

// clientTool adapts a client declaration to the tool interface. Execution is
// a contract violation; results for these calls come back in the next run's
// message history.
type clientTool struct {
	spec agui.ToolSpec
}

func (t *clientTool) Name() string                     { return t.spec.Name }
func (t *clientTool) Description() string              { return t.spec.Description }
func (t *clientTool) Parameters() map[string]any       { return t.spec.Parameters }
func (t *clientTool) ApprovalMode() agent.ApprovalMode { return agent.ApprovalNever }
func (t *clientTool) DeclarationOnly() bool            { return true }

func (t *clientTool) Execute(context.Context, map[string]any) (any, error) {
	return nil, fmt.Errorf("tool %q is client-side and cannot be executed by the server", t.spec.Name)
}
