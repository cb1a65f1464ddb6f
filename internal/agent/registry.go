package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vellum-dev/vellum/internal/providers"
)

// maxToolArgsSize caps the argument payload accepted for a single call.
const maxToolArgsSize = 10 << 20

// Registry holds the available tools with their compiled argument
// schemas. Registration and lookup are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its declared schema. A tool with the
// same name is replaced.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		resource := name + ".schema.json"
		if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %s: schema does not compile: %w", name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.schemas[name] = compiled
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the registered tools as provider tool declarations,
// sorted by name for stable request payloads.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates the arguments against the tool's schema and invokes
// the handler. Unknown tools and schema mismatches produce error results
// without invoking anything; the loop feeds those back to the model.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	if len(args) > maxToolArgsSize {
		return &ToolResult{
			Content: fmt.Sprintf("invalid_argument: payload exceeds %d bytes", maxToolArgsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{Content: "unknown tool: " + name, IsError: true}, nil
	}

	if schema != nil {
		var value any
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if err := json.Unmarshal(args, &value); err != nil {
			return &ToolResult{
				Content: "invalid_argument: arguments are not valid JSON: " + err.Error(),
				IsError: true,
			}, nil
		}
		if err := schema.Validate(value); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("invalid_argument: %v", err),
				IsError: true,
			}, nil
		}
	}

	return tool.Execute(ctx, args)
}

// SideEffectFree reports whether every named call targets a tool declared
// side-effect-free. Unknown tools count as side-effectful.
func (r *Registry) SideEffectFree(names []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok || !tool.SideEffectFree() {
			return false
		}
	}
	return true
}
