package llms

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/config"
)

func TestNew_OpenAI(t *testing.T) {
	provider, err := New(&config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test-key",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := provider.(*OpenAIProvider); !ok {
		t.Fatalf("New() = %T, want *OpenAIProvider", provider)
	}
	if provider.ModelName() != "gpt-4o" {
		t.Errorf("ModelName() = %q, want gpt-4o", provider.ModelName())
	}
}

func TestNew_Gemini(t *testing.T) {
	provider, err := New(&config.LLMConfig{
		Provider: config.LLMProviderGemini,
		Model:    "gemini-2.0-flash",
		APIKey:   "test-api-key",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := provider.(*GeminiProvider); !ok {
		t.Fatalf("New() = %T, want *GeminiProvider", provider)
	}
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New(&config.LLMConfig{Provider: "anthropic", Model: "claude"})
	if err == nil {
		t.Fatal("New() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "unsupported llm provider") {
		t.Errorf("error = %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) error = nil, want error")
	}
}

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "a fake tool" }
func (f *fakeTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (f *fakeTool) ApprovalMode() agent.ApprovalMode {
	return agent.ApprovalNever
}
func (f *fakeTool) DeclarationOnly() bool { return false }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return "ok", nil
}

func TestDefinitions(t *testing.T) {
	defs := Definitions([]agent.Tool{&fakeTool{name: "search"}, &fakeTool{name: "fetch"}})

	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Name != "search" || defs[1].Name != "fetch" {
		t.Errorf("definitions = %+v", defs)
	}
	if defs[0].Description != "a fake tool" {
		t.Errorf("description = %q", defs[0].Description)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("parameters = %+v", defs[0].Parameters)
	}
}
