// Package agent drives the turn-by-turn conversation loop: it submits
// requests to a provider, forwards streamed text and reasoning as
// lifecycle events, routes tool calls through the permission engine and
// tool registry, and resubmits tool results until the model ends its turn
// or a limit is reached.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is a named operation the model may invoke. Execute receives the
// argument payload already validated against Schema.
type Tool interface {
	Name() string
	Description() string

	// Schema is the JSON schema for the tool's arguments.
	Schema() json.RawMessage

	// SideEffectFree reports whether the tool only reads state. A turn's
	// calls run in parallel only when every call is side-effect-free.
	SideEffectFree() bool

	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolResult is what a tool hands back to the loop.
type ToolResult struct {
	Content string
	IsError bool
}

// SchemaFor derives a JSON schema from a Go argument struct. Built-in
// tools use this instead of hand-writing schema documents.
func SchemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tool schema reflection failed: %v", err))
	}
	return data
}

// FuncTool adapts plain functions to the Tool interface.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	InputSchema     json.RawMessage
	ReadOnly        bool
	Handler         func(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

func (t *FuncTool) Name() string            { return t.ToolName }
func (t *FuncTool) Description() string     { return t.ToolDescription }
func (t *FuncTool) Schema() json.RawMessage { return t.InputSchema }
func (t *FuncTool) SideEffectFree() bool    { return t.ReadOnly }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	return t.Handler(ctx, args)
}
