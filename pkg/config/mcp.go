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

package config

import (
	"fmt"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/tools/mcptoolset"
)

// MCPServerConfig configures a connection to an MCP server. Each server
// becomes a toolset in the registry under its configured name.
type MCPServerConfig struct {
	// URL of the MCP server (SSE or streamable HTTP transports).
	URL string `yaml:"url,omitempty"`

	// Transport selects the MCP transport (stdio, sse, streamable-http).
	// Defaults to stdio when Command is set, streamable-http otherwise.
	Transport string `yaml:"transport,omitempty"`

	// Command to launch a local MCP server (stdio transport).
	Command string `yaml:"command,omitempty"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty"`

	// Env sets environment variables for Command.
	Env map[string]string `yaml:"env,omitempty"`

	// Filter limits which tools are exposed. Empty means all.
	Filter []string `yaml:"filter,omitempty"`

	// Approval applies to every tool from this server.
	// Values: "never_require" (default), "always_require".
	Approval agent.ApprovalMode `yaml:"approval,omitempty"`
}

// SetDefaults applies default values. Transport defaulting is left to the
// toolset, which picks it from Command/URL.
func (c *MCPServerConfig) SetDefaults() {
	if c.Approval == "" {
		c.Approval = agent.ApprovalNever
	}
}

// Validate checks the MCP server configuration.
func (c *MCPServerConfig) Validate() error {
	if c.URL == "" && c.Command == "" {
		return fmt.Errorf("either url or command is required")
	}

	switch c.Transport {
	case "", mcptoolset.TransportStdio, mcptoolset.TransportSSE, mcptoolset.TransportStreamableHTTP:
		// valid
	default:
		return fmt.Errorf("invalid transport %q (valid: stdio, sse, streamable-http)", c.Transport)
	}

	switch c.Approval {
	case "", agent.ApprovalNever, agent.ApprovalAlways:
		// valid
	default:
		return fmt.Errorf("invalid approval %q (valid: never_require, always_require)", c.Approval)
	}

	return nil
}

// ToolsetConfig converts to the toolset configuration under the given name.
func (c *MCPServerConfig) ToolsetConfig(name string) mcptoolset.Config {
	return mcptoolset.Config{
		Name:      name,
		URL:       c.URL,
		Transport: c.Transport,
		Command:   c.Command,
		Args:      c.Args,
		Env:       c.Env,
		Filter:    c.Filter,
		Approval:  c.Approval,
	}
}
