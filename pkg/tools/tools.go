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

// Package tools holds the server-side tool layer: a registry that resolves
// tools and toolsets by name, plus the constructors agents are wired with.
//
// Individual tools implement agent.Tool directly. Toolsets group related
// tools behind a single name and resolve them lazily, which lets expensive
// sources (an MCP server, for example) defer their connection until an agent
// actually needs the tools.
//
// Concrete implementations live in subpackages:
//   - functool: tools built from typed Go functions with generated schemas
//   - mcptoolset: tools served by an external MCP server
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kadirpekel/aguibridge/pkg/agent"
)

// Toolset is a named source of tools, resolved when an agent needs them.
type Toolset interface {
	// Name returns the name this toolset is referenced by.
	Name() string

	// Tools returns the tools currently available from this source.
	Tools(ctx context.Context) ([]agent.Tool, error)
}

// Registry resolves tool and toolset names to tools. Agents reference their
// tools by name in configuration; the registry turns those references into
// the concrete set handed to a run.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]agent.Tool
	toolsets map[string]Toolset
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]agent.Tool),
		toolsets: make(map[string]Toolset),
	}
}

// Register adds a standalone tool.
func (r *Registry) Register(t agent.Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	if _, exists := r.toolsets[name]; exists {
		return fmt.Errorf("name '%s' already registered as a toolset", name)
	}

	r.tools[name] = t
	return nil
}

// RegisterToolset adds a named toolset.
func (r *Registry) RegisterToolset(ts Toolset) error {
	name := ts.Name()
	if name == "" {
		return fmt.Errorf("toolset name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.toolsets[name]; exists {
		return fmt.Errorf("toolset '%s' already registered", name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("name '%s' already registered as a tool", name)
	}

	r.toolsets[name] = ts
	return nil
}

// Tool looks up a standalone tool by name.
func (r *Registry) Tool(name string) (agent.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Toolset looks up a toolset by name.
func (r *Registry) Toolset(name string) (Toolset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts, ok := r.toolsets[name]
	return ts, ok
}

// Names returns all registered tool and toolset names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools)+len(r.toolsets))
	for name := range r.tools {
		names = append(names, name)
	}
	for name := range r.toolsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve expands a list of tool and toolset names into tools. Toolset names
// expand to every tool the set currently serves. When the same tool name
// appears more than once the first occurrence wins.
func (r *Registry) Resolve(ctx context.Context, names []string) ([]agent.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var resolved []agent.Tool
	seen := make(map[string]bool)

	add := func(t agent.Tool) {
		if seen[t.Name()] {
			return
		}
		seen[t.Name()] = true
		resolved = append(resolved, t)
	}

	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			add(t)
			continue
		}
		ts, ok := r.toolsets[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool or toolset '%s'", name)
		}
		tools, err := ts.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving toolset '%s': %w", name, err)
		}
		for _, t := range tools {
			add(t)
		}
	}

	return resolved, nil
}

// Close shuts down every toolset that holds a connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, ts := range r.toolsets {
		if closer, ok := ts.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
