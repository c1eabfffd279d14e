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
	"regexp"
	"time"

	"github.com/kadirpekel/aguibridge/pkg/agui"
)

// AgentType identifies how an agent is backed.
type AgentType string

const (
	// AgentTypeLLM runs a chat loop against a configured LLM provider.
	AgentTypeLLM AgentType = "llm"

	// AgentTypeA2A delegates runs to a remote A2A server.
	AgentTypeA2A AgentType = "a2a"
)

// Agent names become URL path segments, so they are restricted.
var agentNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// AgentConfig configures an agent exposed over AG-UI.
type AgentConfig struct {
	// Type specifies the agent type.
	// Values:
	//   - "llm" (default): LLM-powered agent
	//   - "a2a": remote A2A agent
	Type AgentType `yaml:"type,omitempty"`

	// Description describes what the agent does. Shown in discovery.
	Description string `yaml:"description,omitempty"`

	// LLM references a configured LLM by name. Only used when Type="llm".
	LLM string `yaml:"llm,omitempty"`

	// Instructions is the system prompt for the agent.
	Instructions string `yaml:"instructions,omitempty"`

	// Tools lists tool and toolset names this agent can use.
	// Resolved against the tool registry at startup.
	Tools []string `yaml:"tools,omitempty"`

	// URL is the base URL of the remote A2A server. Required when Type="a2a".
	URL string `yaml:"url,omitempty"`

	// Headers are custom HTTP headers for remote agent requests.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Timeout is the request timeout for remote agents.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// StateSchema seeds the shared state for new threads.
	StateSchema map[string]any `yaml:"state_schema,omitempty"`

	// PredictState binds state keys to streaming tool arguments so clients
	// see state updates while arguments are still being generated.
	PredictState agui.PredictStateConfig `yaml:"predict_state_config,omitempty"`

	// RequireConfirmation holds predicted state changes until the client
	// confirms them instead of applying them when the tool call completes.
	RequireConfirmation bool `yaml:"require_confirmation,omitempty"`

	// ResponseFormat constrains the agent's final answer to a JSON schema.
	// Only valid when Type="llm".
	ResponseFormat *ResponseFormatConfig `yaml:"response_format,omitempty"`

	// MaxIterations is a safety limit on the tool-calling loop, not the
	// primary termination condition. The loop ends when the model stops
	// requesting tools.
	// Default: 100
	MaxIterations int `yaml:"max_iterations,omitempty"`
}

// SetDefaults applies default values. defaultLLM names the LLM to fall back
// to when the agent does not reference one.
func (c *AgentConfig) SetDefaults(defaultLLM string) {
	if c.Type == "" {
		c.Type = AgentTypeLLM
	}

	if c.LLM == "" {
		c.LLM = defaultLLM
	}

	// Discovery always carries a description.
	if c.Description == "" {
		c.Description = "A helpful AI agent"
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.MaxIterations == 0 {
		c.MaxIterations = 100
	}

	if c.ResponseFormat != nil {
		c.ResponseFormat.SetDefaults()
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	switch c.Type {
	case "", AgentTypeLLM, AgentTypeA2A:
		// valid
	default:
		return fmt.Errorf("invalid type %q (valid: llm, a2a)", c.Type)
	}

	if c.Type == AgentTypeA2A {
		if c.URL == "" {
			return fmt.Errorf("url is required for a2a agents")
		}
		if len(c.Tools) > 0 {
			return fmt.Errorf("tools are not supported for a2a agents")
		}
		if c.ResponseFormat != nil {
			return fmt.Errorf("response_format is not supported for a2a agents")
		}
	}

	if c.ResponseFormat != nil {
		if err := c.ResponseFormat.Validate(); err != nil {
			return fmt.Errorf("response_format: %w", err)
		}
	}

	for key, binding := range c.PredictState {
		if binding.Tool == "" {
			return fmt.Errorf("predict_state_config key %q: tool is required", key)
		}
	}

	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}

// ResponseFormatConfig configures JSON schema response format.
// When set, the LLM returns a final answer matching the schema.
//
// Example:
//
//	response_format:
//	  schema:
//	    type: object
//	    properties:
//	      sentiment:
//	        type: string
//	        enum: ["positive", "negative", "neutral"]
//	      confidence:
//	        type: number
//	    required: ["sentiment", "confidence"]
type ResponseFormatConfig struct {
	// Schema is the JSON schema the response must conform to.
	Schema map[string]any `yaml:"schema,omitempty"`

	// Strict enables strict schema validation.
	// Default: true
	Strict *bool `yaml:"strict,omitempty"`

	// Name is an optional name for the schema (used by some providers).
	// Default: "response"
	Name string `yaml:"name,omitempty"`
}

// SetDefaults applies default values.
func (c *ResponseFormatConfig) SetDefaults() {
	if c.Strict == nil {
		c.Strict = BoolPtr(true)
	}
	if c.Name == "" {
		c.Name = "response"
	}
}

// Validate checks the response format configuration.
func (c *ResponseFormatConfig) Validate() error {
	if c.Schema == nil {
		return fmt.Errorf("schema is required")
	}
	return nil
}

// IsStrict returns whether strict mode is enabled.
func (c *ResponseFormatConfig) IsStrict() bool {
	return c.Strict == nil || *c.Strict
}
