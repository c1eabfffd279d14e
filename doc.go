// Package aguibridge bridges Agent Framework agents onto the AG-UI protocol.
//
// The bridge speaks AG-UI on the outside: each agent is an HTTP endpoint
// that accepts a run input and answers with a Server-Sent Events stream of
// lifecycle, text, tool-call, and state events. On the inside it assembles
// agents from configuration: chat-loop agents over OpenAI-compatible or
// Gemini providers, or remote agents proxied over A2A, with MCP and native
// tools, human-in-the-loop approval, and predictive state streaming.
//
// # Quick Start
//
// Install:
//
//	go install github.com/kadirpekel/aguibridge/cmd/aguibridge@latest
//
// Create a configuration:
//
//	llms:
//	  main:
//	    provider: openai
//	    model: gpt-4o
//	    api_key: ${OPENAI_API_KEY}
//
//	agents:
//	  assistant:
//	    llm: main
//	    instructions: "You are a helpful assistant."
//
// Start the server:
//
//	aguibridge serve --config config.yaml
//
// Each agent is then reachable at POST /agui/{name}, and GET /agents lists
// the cards. Without a config file, serve runs in zero-config mode from
// flags and environment variables:
//
//	aguibridge serve --provider openai --model gpt-4o
//
// # Using as a Go Library
//
// The root package re-exports the common entry points:
//
//	cfg, err := aguibridge.LoadConfig("config.yaml")
//	rt, err := aguibridge.NewRuntime(ctx, cfg)
//	defer rt.Close()
//
//	srv := aguibridge.NewServer(&cfg.Server, rt.Observability())
//	srv.SetEndpoints(rt.Endpoints())
//	err = srv.Run(ctx)
//
// Sub-packages can be imported directly for finer control: pkg/bridge holds
// the protocol orchestrator, pkg/agent the inner-agent contract, pkg/agui
// the wire types, pkg/tools the tool registry.
package aguibridge
