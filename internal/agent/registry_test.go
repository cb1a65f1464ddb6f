package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func echoTool(name string, readOnly bool) *FuncTool {
	return &FuncTool{
		ToolName:    name,
		InputSchema: SchemaFor[readFileArgs](),
		ReadOnly:    readOnly,
		Handler: func(_ context.Context, args json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: string(args)}, nil
		},
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool("read_file", true)); err != nil {
		t.Fatal(err)
	}

	res, err := registry.Execute(context.Background(), "read_file", json.RawMessage(`{"path":"a.txt"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("valid arguments rejected: %s", res.Content)
	}

	res, err = registry.Execute(context.Background(), "read_file", json.RawMessage(`{"wrong":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.HasPrefix(res.Content, "invalid_argument") {
		t.Fatalf("schema mismatch result = %+v, want invalid_argument error", res)
	}

	res, err = registry.Execute(context.Background(), "read_file", json.RawMessage(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.HasPrefix(res.Content, "invalid_argument") {
		t.Fatalf("non-JSON result = %+v, want invalid_argument error", res)
	}
}

func TestRegistryUnknownToolIsErrorResult(t *testing.T) {
	registry := NewRegistry()
	res, err := registry.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Fatalf("result = %+v, want unknown tool error", res)
	}
}

func TestRegistryOversizedPayloadRejected(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool("read_file", true)); err != nil {
		t.Fatal(err)
	}

	huge := json.RawMessage(`{"path":"` + strings.Repeat("a", maxToolArgsSize) + `"}`)
	res, err := registry.Execute(context.Background(), "read_file", huge)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.HasPrefix(res.Content, "invalid_argument") {
		t.Fatalf("oversized payload result = %+v, want invalid_argument error", res)
	}
}

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(&FuncTool{
		ToolName:    "broken",
		InputSchema: json.RawMessage(`{"type": 42}`),
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			return &ToolResult{}, nil
		},
	})
	if err == nil {
		t.Fatal("registering a tool with an invalid schema should fail")
	}
}

func TestRegistrySideEffectFree(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool("reader", true)); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(echoTool("writer", false)); err != nil {
		t.Fatal(err)
	}

	if !registry.SideEffectFree([]string{"reader", "reader"}) {
		t.Error("all-reader batch should be side-effect-free")
	}
	if registry.SideEffectFree([]string{"reader", "writer"}) {
		t.Error("mixed batch should not be side-effect-free")
	}
	if registry.SideEffectFree([]string{"reader", "unknown"}) {
		t.Error("unknown tools must count as side-effectful")
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := registry.Register(echoTool(name, true)); err != nil {
			t.Fatal(err)
		}
	}

	defs := registry.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if defs[i].Name != want {
			t.Errorf("definition %d = %s, want %s", i, defs[i].Name, want)
		}
	}
}
