package aguibridge

import (
	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/config"
	"github.com/kadirpekel/aguibridge/pkg/runtime"
	"github.com/kadirpekel/aguibridge/pkg/transport"
)

// Re-export commonly used types
type (
	// Config is the root bridge configuration.
	Config = config.Config
	// AgentConfig declares one agent.
	AgentConfig = config.AgentConfig
	// LLMConfig declares one LLM provider.
	LLMConfig = config.LLMConfig

	// Agent is the inner-agent contract implementations satisfy.
	Agent = agent.Agent
	// Tool is one executable tool exposed to agents.
	Tool = agent.Tool

	// Runtime holds the assembled components of one bridge process.
	Runtime = runtime.Runtime
	// Server is the AG-UI HTTP server.
	Server = transport.Server
	// Endpoint is one agent behind the server.
	Endpoint = transport.Endpoint
)

// Re-export commonly used functions
var (
	// LoadConfig reads, expands, and validates a configuration file.
	LoadConfig = config.Load
	// NewRuntime assembles a runtime from configuration.
	NewRuntime = runtime.New
	// NewServer builds the HTTP server for a set of endpoints.
	NewServer = transport.NewServer
)
