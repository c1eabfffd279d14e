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
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/kadirpekel/aguibridge/pkg/cli"
)

// ChatCmd opens an interactive chat with an agent on a running bridge
// server.
type ChatCmd struct {
	Agent   string `arg:"" optional:"" help:"Agent name to chat with."`
	Server  string `help:"Bridge server base URL." default:"http://localhost:8080"`
	Verbose bool   `short:"v" help:"Show tool activity and state updates."`
	NoColor bool   `name:"no-color" help:"Disable colored output."`
}

func (c *ChatCmd) Run() error {
	ctx := context.Background()

	client := cli.NewClient(c.Server)
	agents, err := client.Discover(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach bridge server at %s: %w", c.Server, err)
	}
	if len(agents) == 0 {
		return fmt.Errorf("server at %s has no agents", c.Server)
	}

	name := c.Agent
	if name == "" {
		if len(agents) == 1 {
			name = agents[0].Name
		} else {
			cli.DisplayAgentList(agents, c.Server)
			return nil
		}
	}

	useColors := !c.NoColor && stdoutIsTerminal()
	renderer := cli.NewRenderer(c.Verbose, useColors)
	session := cli.NewChatSession(client, name, renderer, bufio.NewReader(os.Stdin))
	return session.Interactive(ctx)
}
