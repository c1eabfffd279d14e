package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/config"
)

// GeminiProvider streams generations from Google Gemini through the official
// genai SDK.
type GeminiProvider struct {
	client *genai.Client
	config *config.LLMConfig
}

// NewGeminiProvider builds a provider for the configured model.
func NewGeminiProvider(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		config: cfg,
	}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

// GenerateStreaming opens a generation stream and converts its responses to
// chunks on the returned channel.
func (p *GeminiProvider) GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	contents, system := messagesToGemini(req.Messages)
	genConfig := p.buildConfig(req, system)

	out := make(chan StreamChunk, streamBuffer)
	go p.processStream(ctx, contents, genConfig, out)
	return out, nil
}

func (p *GeminiProvider) processStream(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig, out chan<- StreamChunk) {
	defer close(out)

	// Gemini may redeliver a function call across chunks; the stable id
	// makes the duplicate visible.
	emitted := make(map[string]bool)
	var completed []*ToolCall
	var usage *Usage

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, genConfig) {
		if err != nil {
			out <- StreamChunk{Type: ChunkError, Err: fmt.Errorf("gemini stream failed: %w", err)}
			return
		}

		if resp.UsageMetadata != nil {
			usage = &Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				if part.Thought {
					out <- StreamChunk{Type: ChunkReasoning, Text: part.Text}
				} else {
					out <- StreamChunk{Type: ChunkText, Text: part.Text}
				}
			}

			if part.FunctionCall == nil {
				continue
			}

			callID := part.FunctionCall.ID
			if callID == "" {
				callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
			}
			if emitted[callID] {
				continue
			}
			emitted[callID] = true

			call := &ToolCall{
				ID:        callID,
				Name:      part.FunctionCall.Name,
				Arguments: encodeArgs(part.FunctionCall.Args),
			}
			// Gemini delivers calls whole, so the delta carries the full
			// argument document at once.
			out <- StreamChunk{Type: ChunkToolCallDelta, ToolCall: call}
			completed = append(completed, call)
		}
	}

	for _, call := range completed {
		out <- StreamChunk{Type: ChunkToolCall, ToolCall: call}
	}
	out <- StreamChunk{Type: ChunkDone, Usage: usage}
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// messagesToGemini splits the conversation into contents and a system
// instruction. Function results need the original call's name, so calls seen
// earlier in the conversation are tracked by id.
func messagesToGemini(messages []*agent.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system *genai.Content
	callNames := make(map[string]string)

	for _, msg := range messages {
		if msg.Role == agent.RoleSystem {
			if text := msg.Text(); text != "" {
				if system == nil {
					system = &genai.Content{Role: "user"}
				}
				system.Parts = append(system.Parts, &genai.Part{Text: text})
			}
			continue
		}

		if content := messageToGeminiContent(msg, callNames); content != nil {
			contents = append(contents, content)
		}
	}

	return contents, system
}

func messageToGeminiContent(msg *agent.Message, callNames map[string]string) *genai.Content {
	var parts []*genai.Part

	for _, c := range msg.Contents {
		switch v := c.(type) {
		case *agent.TextContent:
			if v.Text != "" {
				parts = append(parts, &genai.Part{Text: v.Text})
			}

		case *agent.DataContent:
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: v.MIMEType,
					Data:     v.Data,
				},
			})

		case *agent.URIContent:
			parts = append(parts, &genai.Part{
				FileData: &genai.FileData{
					MIMEType: v.MIMEType,
					FileURI:  v.URI,
				},
			})

		case *agent.FunctionCallContent:
			args, err := v.ParsedArguments()
			if err != nil {
				args = map[string]any{}
			}
			callNames[v.CallID] = v.Name
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   v.CallID,
					Name: v.Name,
					Args: args,
				},
			})

		case *agent.FunctionResultContent:
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       v.CallID,
					Name:     callNames[v.CallID],
					Response: map[string]any{"result": v.ResultString()},
				},
			})
		}
	}

	if len(parts) == 0 {
		return nil
	}

	role := "user"
	if msg.Role == agent.RoleAssistant {
		role = "model"
	}

	return &genai.Content{Parts: parts, Role: role}
}

func (p *GeminiProvider) buildConfig(req *Request, system *genai.Content) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}

	if t := resolveTemperature(req.Temperature, p.config.Temperature); t != nil {
		genConfig.Temperature = genai.Ptr(float32(*t))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	if req.ResponseFormat != nil {
		genConfig.ResponseMIMEType = "application/json"
		if req.ResponseFormat.Schema != nil {
			genConfig.ResponseSchema = toGeminiSchema(req.ResponseFormat.Schema)
		}
	}

	if len(req.Tools) > 0 {
		genConfig.Tools = toolsToGemini(req.Tools)
	}

	return genConfig
}

func toolsToGemini(tools []ToolDefinition) []*genai.Tool {
	out := make([]*genai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  toGeminiSchema(t.Parameters),
				},
			},
		})
	}
	return out
}

// toGeminiSchema converts a JSON-schema object to the SDK schema type.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		s.Required = append(s.Required, required...)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}
