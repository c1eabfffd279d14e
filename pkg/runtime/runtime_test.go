package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/aguibridge/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"main": {Provider: config.LLMProviderOpenAI, Model: "gpt-4o", APIKey: "test-key"},
		},
		Agents: map[string]*config.AgentConfig{
			"writer":    {Type: config.AgentTypeLLM, LLM: "main"},
			"assistant": {Type: config.AgentTypeLLM, LLM: "main", Description: "General helper"},
		},
	}
}

func mustClose(t *testing.T, rt *Runtime) {
	t.Helper()
	if err := rt.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewBuildsEndpoints(t *testing.T) {
	rt, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer mustClose(t, rt)

	endpoints := rt.Endpoints()
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}
	if endpoints[0].Name != "assistant" || endpoints[1].Name != "writer" {
		t.Errorf("endpoints not in name order: %s, %s", endpoints[0].Name, endpoints[1].Name)
	}
	if endpoints[0].Description != "General helper" {
		t.Errorf("Description = %q, want %q", endpoints[0].Description, "General helper")
	}
	for _, ep := range endpoints {
		if ep.Runner == nil {
			t.Errorf("endpoint %q has no runner", ep.Name)
		}
	}
}

func TestNewRegistersBuiltinTools(t *testing.T) {
	rt, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer mustClose(t, rt)

	for _, name := range []string{"fetch_url", "current_time"} {
		if _, ok := rt.Registry().Tool(name); !ok {
			t.Errorf("built-in tool %q not registered", name)
		}
	}
}

func TestNewResolvesAgentTools(t *testing.T) {
	cfg := testConfig()
	cfg.Agents["assistant"].Tools = []string{"current_time"}

	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer mustClose(t, rt)

	assistant := rt.Endpoints()[0]
	if assistant.Name != "assistant" {
		t.Fatalf("expected assistant first, got %q", assistant.Name)
	}
	if len(assistant.Tools) != 1 || assistant.Tools[0].Name != "current_time" {
		t.Errorf("unexpected tool specs: %+v", assistant.Tools)
	}
	if assistant.Tools[0].Parameters == nil {
		t.Error("tool spec has no parameters schema")
	}
}

func TestNewSkipsFailingAgents(t *testing.T) {
	cfg := testConfig()
	// No URL, so the remote agent fails to build.
	cfg.Agents["remote"] = &config.AgentConfig{Type: config.AgentTypeA2A}

	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer mustClose(t, rt)

	if len(rt.Endpoints()) != 2 {
		t.Fatalf("expected 2 endpoints after skipping, got %d", len(rt.Endpoints()))
	}
	for _, ep := range rt.Endpoints() {
		if ep.Name == "remote" {
			t.Error("failing agent should not be exposed")
		}
	}
}

func TestNewAllAgentsFail(t *testing.T) {
	cfg := &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"main": {Provider: config.LLMProviderOpenAI, Model: "gpt-4o", APIKey: "test-key"},
		},
		Agents: map[string]*config.AgentConfig{
			"broken": {Type: config.AgentTypeA2A},
			"orphan": {Type: config.AgentTypeLLM, LLM: "missing"},
		},
	}

	_, err := New(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error when every agent fails")
	}
	if !strings.Contains(err.Error(), "failed to initialize any agents") {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "broken") || !strings.Contains(err.Error(), "orphan") {
		t.Errorf("error should name each failed agent: %v", err)
	}
}

func TestNewNoAgents(t *testing.T) {
	cfg := &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"main": {Provider: config.LLMProviderOpenAI, Model: "gpt-4o", APIKey: "test-key"},
		},
	}

	_, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "no agents configured") {
		t.Errorf("expected no-agents error, got %v", err)
	}
}

func TestNewUnknownToolFailsAgent(t *testing.T) {
	cfg := testConfig()
	delete(cfg.Agents, "writer")
	cfg.Agents["assistant"].Tools = []string{"no_such_tool"}

	_, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("expected unknown tool error, got %v", err)
	}
}

func TestNewNilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewRegistersMCPToolsets(t *testing.T) {
	cfg := testConfig()
	cfg.MCPServers = map[string]*config.MCPServerConfig{
		"files": {Command: "mcp-files-server"},
	}

	// No agent references the toolset, so nothing connects to it; the
	// registration alone must succeed.
	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer mustClose(t, rt)

	if _, ok := rt.Registry().Toolset("files"); !ok {
		t.Error("mcp toolset not registered")
	}
}

func TestResponseFormat(t *testing.T) {
	if responseFormat(nil) != nil {
		t.Error("nil config should map to nil format")
	}

	rf := responseFormat(&config.ResponseFormatConfig{
		Name:   "weather",
		Schema: map[string]any{"type": "object"},
		Strict: config.BoolPtr(false),
	})
	if rf.Name != "weather" {
		t.Errorf("Name = %q, want %q", rf.Name, "weather")
	}
	if rf.Strict {
		t.Error("Strict should follow the explicit false")
	}
	if rf.Schema["type"] != "object" {
		t.Errorf("Schema not carried over: %+v", rf.Schema)
	}
}

func TestRuntimeAccessors(t *testing.T) {
	cfg := testConfig()
	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer mustClose(t, rt)

	if rt.Config() != cfg {
		t.Error("Config() should return the source configuration")
	}
	if rt.Observability() == nil {
		t.Error("Observability() should never be nil")
	}
	if rt.Registry() == nil {
		t.Error("Registry() should never be nil")
	}
}
