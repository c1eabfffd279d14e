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

// Package functool creates tools from typed Go functions, with the parameter
// schema generated from struct tags.
//
// # Basic Usage
//
//	type RefundArgs struct {
//	    OrderID string  `json:"order_id" jsonschema:"required,description=Order to refund"`
//	    Amount  float64 `json:"amount,omitempty" jsonschema:"description=Partial refund amount,minimum=0"`
//	}
//
//	refundTool, err := functool.New(
//	    functool.Config{
//	        Name:        "issue_refund",
//	        Description: "Refund an order",
//	        Approval:    agent.ApprovalAlways,
//	    },
//	    func(ctx context.Context, args RefundArgs) (any, error) {
//	        // Implementation
//	        return map[string]any{"status": "refunded"}, nil
//	    },
//	)
//
// Use functool for simple, stateless tools. For tools with internal state or
// a dynamic schema, implement agent.Tool directly.
package functool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/aguibridge/pkg/agent"
)

// Config defines the configuration for a function tool.
type Config struct {
	// Name is the unique identifier for this tool (required).
	Name string

	// Description explains what the tool does (required).
	// This is shown to the LLM to help it decide when to use the tool.
	Description string

	// Approval gates execution behind a user decision. Zero value means the
	// tool runs without asking.
	Approval agent.ApprovalMode
}

// New creates an agent.Tool from a typed function.
//
// The function signature must be:
//
//	func(context.Context, Args) (any, error)
//
// Where Args is a struct with json and jsonschema tags defining the
// parameters. String results are passed to the model verbatim; everything
// else is JSON-encoded.
func New[Args any](cfg Config, fn func(context.Context, Args) (any, error)) (agent.Tool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &funcTool[Args]{
		config: cfg,
		fn:     fn,
		schema: schema,
	}, nil
}

// NewWithValidation creates a function tool with custom argument validation.
// The validation function runs before the main function, for checks beyond
// what struct tags can express.
//
// Example:
//
//	functool.NewWithValidation(
//	    cfg,
//	    myFunction,
//	    func(args MyArgs) error {
//	        if strings.Contains(args.Path, "..") {
//	            return fmt.Errorf("path traversal not allowed")
//	        }
//	        return nil
//	    },
//	)
func NewWithValidation[Args any](
	cfg Config,
	fn func(context.Context, Args) (any, error),
	validate func(Args) error,
) (agent.Tool, error) {
	base, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}

	return &funcToolWithValidation[Args]{
		funcTool: base.(*funcTool[Args]),
		validate: validate,
	}, nil
}

// funcTool implements agent.Tool by wrapping a typed function.
type funcTool[Args any] struct {
	config Config
	fn     func(context.Context, Args) (any, error)
	schema map[string]any
}

// Name returns the tool name.
func (t *funcTool[Args]) Name() string {
	return t.config.Name
}

// Description returns the tool description.
func (t *funcTool[Args]) Description() string {
	return t.config.Description
}

// Parameters returns the JSON schema generated from the Args type.
func (t *funcTool[Args]) Parameters() map[string]any {
	return t.schema
}

// ApprovalMode returns the configured approval gate.
func (t *funcTool[Args]) ApprovalMode() agent.ApprovalMode {
	if t.config.Approval == "" {
		return agent.ApprovalNever
	}
	return t.config.Approval
}

// DeclarationOnly returns false; function tools execute server-side.
func (t *funcTool[Args]) DeclarationOnly() bool {
	return false
}

// Execute runs the function with typed arguments.
func (t *funcTool[Args]) Execute(ctx context.Context, args map[string]any) (any, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}

	return t.fn(ctx, typedArgs)
}

// funcToolWithValidation wraps a function tool with custom validation.
type funcToolWithValidation[Args any] struct {
	*funcTool[Args]
	validate func(Args) error
}

// Execute runs validation before calling the function.
func (t *funcToolWithValidation[Args]) Execute(ctx context.Context, args map[string]any) (any, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}

	if err := t.validate(typedArgs); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", t.config.Name, err)
	}

	return t.fn(ctx, typedArgs)
}

// validateConfig checks that the configuration is valid.
func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return fmt.Errorf("tool description is required")
	}
	return nil
}

// Verify interface compliance at compile time
var _ agent.Tool = (*funcTool[struct{}])(nil)
var _ agent.Tool = (*funcToolWithValidation[struct{}])(nil)
