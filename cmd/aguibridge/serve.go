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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/aguibridge/pkg/config"
	"github.com/kadirpekel/aguibridge/pkg/runtime"
	"github.com/kadirpekel/aguibridge/pkg/transport"
)

// ServeCmd starts the AG-UI bridge server.
type ServeCmd struct {
	// Zero-config options
	Provider     string `help:"LLM provider (openai, gemini)."`
	Model        string `help:"Model name."`
	APIKey       string `name:"api-key" help:"API key (defaults to environment variable)."`
	BaseURL      string `name:"base-url" help:"Custom API base URL."`
	Instructions string `help:"System instructions for the agent."`

	// Server options
	Port  int  `help:"Port to listen on." default:"8080"`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := c.loadConfig(cli.Config)
	if err != nil {
		return err
	}

	// Config-file logging applies only when CLI flags and env vars left
	// the defaults in place.
	if cli.Config != "" && !loggerOverridden(cli.LogLevel, cli.LogFile, cli.LogFormat) {
		cleanup, err := initLoggerFromConfig(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("invalid logging config: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
	}

	// Override port if explicitly specified
	if c.Port != 0 && c.Port != 8080 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}

	srv := transport.NewServer(&cfg.Server, rt.Observability())
	srv.SetEndpoints(rt.Endpoints())

	// The active runtime changes under --watch, so closing goes through
	// the holder.
	var (
		mu     sync.Mutex
		active = rt
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if err := active.Close(); err != nil {
			slog.Warn("Runtime close failed", "error", err)
		}
	}()

	if c.Watch && cli.Config != "" {
		reload := func(next *config.Config) {
			nextRT, err := runtime.New(ctx, next)
			if err != nil {
				slog.Error("Config reload failed", "error", err)
				return
			}
			srv.SetEndpoints(nextRT.Endpoints())

			mu.Lock()
			old := active
			active = nextRT
			mu.Unlock()

			// Closing the old runtime drops its MCP connections; runs
			// still on them surface the failure as run errors.
			if err := old.Close(); err != nil {
				slog.Warn("Failed to close replaced runtime", "error", err)
			}
			slog.Info("Configuration reloaded", "agents", len(nextRT.Endpoints()))
		}

		loader := config.NewLoader(cli.Config, config.WithOnChange(reload))
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
		slog.Info("Watching config for changes", "path", cli.Config)
	}

	printStartupInfo(cfg, rt, srv)

	// Blocks until a shutdown signal or listener failure.
	return srv.Run(ctx)
}

func printStartupInfo(cfg *config.Config, rt *runtime.Runtime, srv *transport.Server) {
	accentColor := "\033[38;2;59;130;246m"
	resetColor := "\033[0m"

	fmt.Printf("\n%s🚀 AG-UI bridge ready!%s\n", accentColor, resetColor)
	fmt.Printf("   Discovery:   http://%s/agents\n", srv.Address())
	fmt.Printf("   Health:      http://%s/healthz\n", srv.Address())
	if rt.Observability().MetricsEnabled() {
		fmt.Printf("   Metrics:     http://%s%s\n", srv.Address(), rt.Observability().MetricsPath())
	}

	fmt.Println("\n   Agents (AG-UI run endpoints):")
	for _, endpoint := range rt.Endpoints() {
		fmt.Printf("     - http://%s%s/%s\n", srv.Address(), cfg.Server.BasePath, endpoint.Name)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}

// loadConfig loads configuration from file or builds a zero-config setup
// from the serve flags.
func (c *ServeCmd) loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if c.zeroConfigFlagsSet() {
			return nil, fmt.Errorf("cannot combine --config with zero-config flags (--provider, --model, --api-key, --base-url, --instructions)")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		slog.Info("Loaded configuration", "path", path)
		return cfg, nil
	}

	cfg := &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"default": {
				Provider: config.LLMProvider(c.Provider),
				Model:    c.Model,
				APIKey:   c.APIKey,
				BaseURL:  c.BaseURL,
			},
		},
	}
	if c.Instructions != "" {
		cfg.Agents = map[string]*config.AgentConfig{
			config.DefaultAgentName: {Instructions: c.Instructions},
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("zero-config validation failed: %w", err)
	}
	slog.Info("Using zero-config mode",
		"provider", cfg.LLMs["default"].Provider,
		"model", cfg.LLMs["default"].Model)
	return cfg, nil
}

func (c *ServeCmd) zeroConfigFlagsSet() bool {
	return c.Provider != "" || c.Model != "" || c.APIKey != "" ||
		c.BaseURL != "" || c.Instructions != ""
}
