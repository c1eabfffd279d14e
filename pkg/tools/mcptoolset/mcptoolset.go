// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptoolset provides a Toolset backed by an MCP server.
//
// MCP (Model Context Protocol) allows connecting to external tool servers
// that expose tools via a standardized protocol.
//
// The toolset uses lazy initialization - the MCP connection is only
// established when Tools() is first called.
//
// Transport Support: stdio (subprocess), sse, streamable-http.
package mcptoolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/aguibridge/pkg/agent"
)

// Transport names accepted in Config.Transport.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

const protocolVersion = "2024-11-05"

// Config configures an MCP toolset.
type Config struct {
	// Name identifies this toolset.
	Name string

	// URL is the MCP server URL (for HTTP transports).
	URL string

	// Transport specifies the MCP transport (sse, streamable-http, stdio).
	// Defaults to streamable-http when a URL is set, stdio when a command is.
	Transport string

	// Command for stdio transport.
	Command string

	// Args for stdio transport.
	Args []string

	// Env for stdio transport.
	Env map[string]string

	// Filter limits which tools are exposed.
	Filter []string

	// Approval gates every tool in this set behind a user decision.
	Approval agent.ApprovalMode
}

// Toolset is an MCP-backed toolset with lazy initialization.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	tools     []agent.Tool
	connected bool
	filterSet map[string]bool
}

// New creates a new MCP toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}

	if cfg.Transport == "" {
		if cfg.Command != "" {
			cfg.Transport = TransportStdio
		} else {
			cfg.Transport = TransportStreamableHTTP
		}
	}
	switch cfg.Transport {
	case TransportStdio, TransportSSE, TransportStreamableHTTP:
	default:
		return nil, fmt.Errorf("unsupported MCP transport '%s'", cfg.Transport)
	}
	if cfg.Transport == TransportStdio && cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command")
	}
	if cfg.Transport != TransportStdio && cfg.URL == "" {
		return nil, fmt.Errorf("%s transport requires a url", cfg.Transport)
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &Toolset{
		cfg:       cfg,
		filterSet: filterSet,
	}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Tools returns the available tools, connecting lazily if needed.
func (t *Toolset) Tools(ctx context.Context) ([]agent.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
		}
	}

	return t.tools, nil
}

// connect establishes the MCP connection and lists the server's tools.
func (t *Toolset) connect(ctx context.Context) error {
	mcpClient, err := t.newClient()
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "aguibridge",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	t.client = mcpClient
	t.tools = t.wrapTools(listResp.Tools)
	t.connected = true

	slog.Info("Connected to MCP server",
		"name", t.cfg.Name,
		"transport", t.cfg.Transport,
		"tools", len(t.tools),
	)

	return nil
}

// newClient builds the transport-specific mcp-go client.
func (t *Toolset) newClient() (*client.Client, error) {
	switch t.cfg.Transport {
	case TransportStdio:
		return client.NewStdioMCPClient(t.cfg.Command, convertEnv(t.cfg.Env), t.cfg.Args...)
	case TransportSSE:
		return client.NewSSEMCPClient(t.cfg.URL)
	default:
		return client.NewStreamableHttpClient(t.cfg.URL)
	}
}

// wrapTools converts the server's tool list, applying the filter.
func (t *Toolset) wrapTools(mcpTools []mcp.Tool) []agent.Tool {
	var tools []agent.Tool
	for _, mcpTool := range mcpTools {
		if t.filterSet != nil && !t.filterSet[mcpTool.Name] {
			continue
		}

		tools = append(tools, &mcpToolWrapper{
			toolset: t,
			name:    mcpTool.Name,
			desc:    mcpTool.Description,
			schema:  convertSchema(mcpTool.InputSchema),
		})
	}
	return tools
}

// convertEnv converts map to slice of "KEY=VALUE".
func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// Close closes the MCP connection.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.connected = false
	t.tools = nil
	return err
}

// mcpToolWrapper wraps one MCP server tool as an agent.Tool.
type mcpToolWrapper struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
}

func (w *mcpToolWrapper) Name() string {
	return w.name
}

func (w *mcpToolWrapper) Description() string {
	return w.desc
}

func (w *mcpToolWrapper) Parameters() map[string]any {
	return w.schema
}

func (w *mcpToolWrapper) ApprovalMode() agent.ApprovalMode {
	if w.toolset.cfg.Approval == "" {
		return agent.ApprovalNever
	}
	return w.toolset.cfg.Approval
}

func (w *mcpToolWrapper) DeclarationOnly() bool {
	return false
}

// Execute calls the tool on the MCP server.
func (w *mcpToolWrapper) Execute(ctx context.Context, args map[string]any) (any, error) {
	w.toolset.mu.Lock()
	mcpClient := w.toolset.client
	w.toolset.mu.Unlock()

	if mcpClient == nil {
		return nil, fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	return parseToolResult(resp)
}

// parseToolResult collects the text content of an MCP result. An IsError
// result becomes an error carrying the server's message.
func parseToolResult(resp *mcp.CallToolResult) (string, error) {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	if resp.IsError {
		if len(texts) > 0 {
			return "", errors.New(strings.Join(texts, "\n"))
		}
		return "", errors.New("unknown error")
	}

	return strings.Join(texts, "\n"), nil
}

// convertSchema converts MCP tool schema to map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	// Marshal and unmarshal to get a clean map
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	return result
}

// Ensure interfaces are implemented
var _ agent.Tool = (*mcpToolWrapper)(nil)
