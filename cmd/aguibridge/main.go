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

// Command aguibridge exposes Agent Framework agents over the AG-UI protocol.
//
// Usage:
//
//	aguibridge serve --config config.yaml
//	aguibridge serve --provider openai --model gpt-4o
//	aguibridge chat assistant
//	aguibridge validate config.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/aguibridge"
	"github.com/kadirpekel/aguibridge/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the AG-UI bridge server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with an agent on a running server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := aguibridge.Version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("aguibridge version %s\n", version)
	return nil
}

// stdoutIsTerminal reports whether stdout is attached to a terminal.
func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// printBanner prints the colored ASCII banner.
func printBanner() {
	if !stdoutIsTerminal() {
		return
	}

	// AG-UI blue: #3b82f6 = RGB(59, 130, 246)
	accentColor := "\033[38;2;59;130;246m"
	resetColor := "\033[0m"

	banner := `
 █████╗  ██████╗ ██╗   ██╗██╗
██╔══██╗██╔════╝ ██║   ██║██║
███████║██║  ███╗██║   ██║██║
██╔══██║██║   ██║██║   ██║██║
██║  ██║╚██████╔╝╚██████╔╝██║
╚═╝  ╚═╝ ╚═════╝  ╚═════╝ ╚═╝
`
	fmt.Printf("%s%s%s\n", accentColor, banner, resetColor)
}

// shouldSkipBanner reports whether the banner should be suppressed. Chat,
// validate, and version are informational or interactive; only serve shows
// the banner.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}
	for _, arg := range args {
		if arg == "chat" || arg == "validate" || arg == "version" {
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aguibridge"),
		kong.Description("AG-UI bridge for Agent Framework agents"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
