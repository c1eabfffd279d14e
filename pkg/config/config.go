// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the bridge configuration: the HTTP server, logging,
// LLM providers, MCP servers, and the agents exposed over AG-UI.
//
// Configuration is loaded from a YAML (or JSON) file, environment variables
// are expanded, defaults are applied per section, and the result is
// validated. Every section follows the same convention: a SetDefaults method
// that fills zero values and a Validate method that checks the rest.
package config

import (
	"fmt"
	"time"

	"github.com/kadirpekel/aguibridge/pkg/logger"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

// DefaultAgentName is the agent created when no agents are configured.
const DefaultAgentName = "assistant"

// Config is the root configuration.
type Config struct {
	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server,omitempty"`

	// Logging configures log level and format.
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// LLMs maps provider names to LLM configurations.
	LLMs map[string]*LLMConfig `yaml:"llms,omitempty"`

	// MCPServers maps toolset names to MCP server configurations.
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`

	// Agents maps agent names to agent configurations. The name is the
	// path segment clients use: POST {base_path}/{name}.
	Agents map[string]*AgentConfig `yaml:"agents,omitempty"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()

	if len(c.LLMs) == 0 {
		c.LLMs = map[string]*LLMConfig{"default": {}}
	}
	for _, l := range c.LLMs {
		l.SetDefaults()
	}

	for _, m := range c.MCPServers {
		m.SetDefaults()
	}

	// When exactly one LLM is configured, agents fall back to it by name.
	defaultLLM := "default"
	if len(c.LLMs) == 1 {
		for name := range c.LLMs {
			defaultLLM = name
		}
	}

	if len(c.Agents) == 0 {
		c.Agents = map[string]*AgentConfig{DefaultAgentName: {}}
	}
	for _, a := range c.Agents {
		a.SetDefaults(defaultLLM)
	}
}

// Validate checks the whole configuration, including cross-references.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	for name, l := range c.LLMs {
		if name == "" {
			return fmt.Errorf("llm name cannot be empty")
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}

	for name, m := range c.MCPServers {
		if name == "" {
			return fmt.Errorf("mcp server name cannot be empty")
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mcp_server %q: %w", name, err)
		}
	}

	for name, a := range c.Agents {
		if !agentNamePattern.MatchString(name) {
			return fmt.Errorf("invalid agent name %q (must match %s)", name, agentNamePattern)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		if a.Type == AgentTypeLLM {
			if _, ok := c.LLMs[a.LLM]; !ok {
				return fmt.Errorf("agent %q references unknown llm %q", name, a.LLM)
			}
		}
	}

	return nil
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// BasePath is the URL prefix agents are served under.
	// An agent named "support" is reachable at POST {base_path}/support.
	BasePath string `yaml:"base_path,omitempty"`

	// CORS configuration.
	CORS *CORSConfig `yaml:"cors,omitempty"`

	// ReadHeaderTimeout bounds how long reading request headers may take.
	// There is no write timeout: event streams stay open indefinitely.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// Observability configures tracing and metrics.
	Observability *observability.Config `yaml:"observability,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BasePath == "" {
		c.BasePath = "/agui"
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	// Default CORS for development
	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}

	if c.Observability != nil {
		c.Observability.SetDefaults()
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.BasePath != "" && c.BasePath[0] != '/' {
		return fmt.Errorf("base_path must start with '/', got %q", c.BasePath)
	}

	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}

	return nil
}

// Address returns the host:port to listen on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`

	// AllowCredentials allows credentials.
	AllowCredentials *bool `yaml:"allow_credentials,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level specifies the log level (debug, info, warn, error).
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format specifies the log format ("text" or "json").
	// Default: text
	Format string `yaml:"format,omitempty"`

	// File specifies the log file path.
	// If empty, logs go to stderr.
	File string `yaml:"file,omitempty"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = logger.FormatText
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return err
	}
	if c.Format != logger.FormatText && c.Format != logger.FormatJSON {
		return fmt.Errorf("invalid log format %q (valid: text, json)", c.Format)
	}
	return nil
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue returns the value of a bool pointer, or def when nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
