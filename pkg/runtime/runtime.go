// Package runtime assembles a running bridge from configuration: the
// observability manager, LLM providers, the tool registry, and one bridged
// endpoint per configured agent.
//
// Assembly is failure-tolerant at the agent level. An agent that cannot be
// built is skipped with a warning so one bad entry does not take the rest
// down; New fails only when nothing could be built at all.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agent/a2aagent"
	"github.com/kadirpekel/aguibridge/pkg/agent/llmagent"
	"github.com/kadirpekel/aguibridge/pkg/bridge"
	"github.com/kadirpekel/aguibridge/pkg/config"
	"github.com/kadirpekel/aguibridge/pkg/llms"
	"github.com/kadirpekel/aguibridge/pkg/observability"
	"github.com/kadirpekel/aguibridge/pkg/tools"
	"github.com/kadirpekel/aguibridge/pkg/tools/builtin"
	"github.com/kadirpekel/aguibridge/pkg/tools/mcptoolset"
	"github.com/kadirpekel/aguibridge/pkg/transport"
)

const closeTimeout = 5 * time.Second

// Runtime holds the assembled components of one bridge process.
type Runtime struct {
	config    *config.Config
	obs       *observability.Manager
	registry  *tools.Registry
	providers map[string]llms.Provider
	endpoints []*transport.Endpoint
}

// New assembles a runtime from configuration. Shared infrastructure
// (observability, tools, LLM providers) must come up cleanly; per-agent
// failures are tolerated as long as at least one agent survives.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	obs := observability.NoopManager()
	if cfg.Server.Observability != nil {
		obs = observability.NewManager(*cfg.Server.Observability)
		if err := obs.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize observability: %w", err)
		}
	}

	rt := &Runtime{
		config:    cfg,
		obs:       obs,
		registry:  tools.NewRegistry(),
		providers: make(map[string]llms.Provider, len(cfg.LLMs)),
	}

	cleanup := func() {
		if err := rt.Close(); err != nil {
			slog.Warn("Runtime cleanup failed", "error", err)
		}
	}

	if err := builtin.Register(rt.registry); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}

	// MCP toolsets register lazily; no server is contacted until an agent
	// that references one is built.
	for name, mcpCfg := range cfg.MCPServers {
		toolset, err := mcptoolset.New(mcpCfg.ToolsetConfig(name))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("mcp server %q: %w", name, err)
		}
		if err := rt.registry.RegisterToolset(toolset); err != nil {
			cleanup()
			return nil, fmt.Errorf("mcp server %q: %w", name, err)
		}
	}

	for name, llmCfg := range cfg.LLMs {
		provider, err := llms.New(llmCfg)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("llm %q: %w", name, err)
		}
		rt.providers[name] = provider
	}

	// Sorted agent order keeps discovery output stable across restarts.
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	for _, name := range names {
		agentCfg := cfg.Agents[name]
		endpoint, err := rt.buildEndpoint(ctx, name, agentCfg)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			slog.Warn("Skipping agent", "agent", name, "error", err)
			continue
		}
		rt.endpoints = append(rt.endpoints, endpoint)
		slog.Info("Agent ready",
			"agent", name,
			"type", string(agentCfg.Type),
			"tools", len(endpoint.Tools))
	}

	if len(rt.endpoints) == 0 {
		cleanup()
		if len(failures) > 0 {
			return nil, fmt.Errorf("failed to initialize any agents (attempted %d): %s",
				len(cfg.Agents), strings.Join(failures, "; "))
		}
		return nil, fmt.Errorf("no agents configured")
	}
	if len(failures) > 0 {
		slog.Warn("Some agents failed to initialize",
			"failed", len(failures), "total", len(cfg.Agents))
	}

	return rt, nil
}

// buildEndpoint constructs the agent named in the configuration and wraps it
// in a bridge orchestrator behind a transport endpoint.
func (r *Runtime) buildEndpoint(ctx context.Context, name string, cfg *config.AgentConfig) (*transport.Endpoint, error) {
	var (
		inner   agent.Agent
		toolset []agent.Tool
	)

	switch cfg.Type {
	case config.AgentTypeA2A:
		remote, err := a2aagent.New(a2aagent.Config{
			Name:        name,
			Description: cfg.Description,
			URL:         cfg.URL,
			Headers:     cfg.Headers,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = remote

	default:
		provider, ok := r.providers[cfg.LLM]
		if !ok {
			return nil, fmt.Errorf("unknown llm %q", cfg.LLM)
		}

		resolved, err := r.registry.Resolve(ctx, cfg.Tools)
		if err != nil {
			return nil, err
		}
		toolset = resolved

		local, err := llmagent.New(llmagent.Config{
			Name:           name,
			Description:    cfg.Description,
			Provider:       provider,
			Instructions:   cfg.Instructions,
			Tools:          toolset,
			ResponseFormat: responseFormat(cfg.ResponseFormat),
			MaxIterations:  cfg.MaxIterations,
			Observability:  r.obs,
		})
		if err != nil {
			return nil, err
		}
		inner = local
	}

	orchestrator := bridge.NewOrchestrator(bridge.Config{
		Agent:               inner,
		Tools:               toolset,
		StateSchema:         cfg.StateSchema,
		PredictState:        cfg.PredictState,
		RequireConfirmation: cfg.RequireConfirmation,
		ResponseFormat:      responseFormat(cfg.ResponseFormat),
		Metrics:             r.obs.Metrics(),
	})

	return &transport.Endpoint{
		Name:        name,
		Description: cfg.Description,
		Tools:       transport.ToolSpecs(toolset),
		Runner:      orchestrator,
	}, nil
}

func responseFormat(cfg *config.ResponseFormatConfig) *agent.ResponseFormat {
	if cfg == nil {
		return nil
	}
	return &agent.ResponseFormat{
		Name:   cfg.Name,
		Schema: cfg.Schema,
		Strict: cfg.IsStrict(),
	}
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.config
}

// Observability returns the shared observability manager.
func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// Registry returns the tool registry backing the runtime's agents.
func (r *Runtime) Registry() *tools.Registry {
	return r.registry
}

// Endpoints returns the bridged endpoints in discovery order.
func (r *Runtime) Endpoints() []*transport.Endpoint {
	return r.endpoints
}

// Close releases everything the runtime holds: toolset connections and the
// observability pipeline.
func (r *Runtime) Close() error {
	var errs []error

	if err := r.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("tool registry: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := r.obs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	return errors.Join(errs...)
}
