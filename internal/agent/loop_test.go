package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vellum-dev/vellum/internal/permissions"
	"github.com/vellum-dev/vellum/internal/providers"
	"github.com/vellum-dev/vellum/internal/sessions"
	"github.com/vellum-dev/vellum/pkg/models"
)

// script is one provider response: an open error, or a replayed event
// sequence optionally terminated by a stream error.
type script struct {
	openErr   error
	events    []models.StreamEvent
	streamErr error
}

// scriptedProvider replays canned responses in call order.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  []script
	requests []*providers.Request
}

func (p *scriptedProvider) Name() string             { return "scripted" }
func (p *scriptedProvider) SupportsReasoning() bool  { return false }
func (p *scriptedProvider) Models() []providers.ModelInfo {
	return []providers.ModelInfo{{ID: "scripted-1", ContextWindow: 8000}}
}

func (p *scriptedProvider) Stream(_ context.Context, req *providers.Request) (*providers.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.scripts) == 0 {
		return nil, errors.New("scripted provider exhausted")
	}
	s := p.scripts[0]
	p.scripts = p.scripts[1:]
	if s.openErr != nil {
		return nil, s.openErr
	}
	return providers.NewScriptedStream(s.streamErr, s.events...), nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	st, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return providers.Collect(st)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textEnd(text string) []models.StreamEvent {
	return []models.StreamEvent{
		{Type: models.StreamText, Content: text},
		{Type: models.StreamUsage, Usage: &models.Usage{InputTokens: 10, OutputTokens: 5}},
		{Type: models.StreamEnd, StopReason: models.StopEndTurn},
	}
}

func toolUseTurn(callID, name, args string) []models.StreamEvent {
	return []models.StreamEvent{
		{Type: models.StreamToolCallStart, Index: 0, ToolCallID: callID, ToolName: name},
		{Type: models.StreamToolCallDelta, Index: 0, ToolCallID: callID, ArgumentsFragment: args},
		{Type: models.StreamToolCallEnd, Index: 0, ToolCallID: callID},
		{Type: models.StreamEnd, StopReason: models.StopToolUse},
	}
}

func newTestSession(t *testing.T, store sessions.Store) string {
	t.Helper()
	session := &models.Session{Metadata: models.SessionMetadata{Provider: "scripted", Model: "scripted-1"}}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	return session.Metadata.ID
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event channel did not close; got %d events", len(out))
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func approvingEngine(resp permissions.Response) *permissions.Engine {
	engine := permissions.NewEngine("test", permissions.TrustAsk,
		permissions.ResponderFunc(func(_ context.Context, _ *permissions.Request) (*permissions.Response, error) {
			r := resp
			return &r, nil
		}))
	return engine
}

func TestLoopHappyPathTurn(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)
	provider := &scriptedProvider{scripts: []script{{events: textEnd("hi")}}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, nil, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := drain(t, events)
	if len(got) != 2 || got[0].Type != EventText || got[0].Content != "hi" {
		t.Fatalf("events = %v, want [text complete]", eventTypes(got))
	}
	if got[1].Type != EventComplete || got[1].Reason != CompleteEndTurn {
		t.Fatalf("final event = %+v, want complete(end_turn)", got[1])
	}
	if got[1].Usage == nil || got[1].Usage.OutputTokens != 5 {
		t.Error("complete event lost usage")
	}

	msgs, err := store.Messages(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Role != models.RoleAssistant || msgs[1].Content != "hi" {
		t.Fatalf("session messages = %d, want [user assistant]", len(msgs))
	}
}

func TestLoopToolUseWithApproval(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)
	provider := &scriptedProvider{scripts: []script{
		{events: toolUseTurn("t1", "read_file", `{"path":"/etc/hosts"}`)},
		{events: textEnd("the file lists localhost")},
	}}

	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName:        "read_file",
		ToolDescription: "read a file",
		InputSchema:     SchemaFor[readFileArgs](),
		ReadOnly:        true,
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "127.0.0.1 localhost"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	engine := approvingEngine(permissions.Response{Approved: true})
	engine.RegisterProfile("read_file", permissions.ToolProfile{BaseRisk: permissions.RiskLow})

	loop := NewLoop(&RuntimeContext{Sessions: store, Permissions: engine}, provider, registry, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "read /etc/hosts"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	want := []EventType{
		EventPermissionRequired, EventPermissionGranted,
		EventToolStart, EventToolEnd,
		EventText, EventComplete,
	}
	types := eventTypes(got)
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, types[i], want[i], types)
		}
	}

	for _, ev := range got[:4] {
		if ev.CallID != "t1" {
			t.Errorf("%s callID = %q, want t1", ev.Type, ev.CallID)
		}
	}
	if got[3].Result == nil || got[3].Result.IsError {
		t.Error("toolEnd result should be a success")
	}

	msgs, _ := store.Messages(context.Background(), id)
	// user, assistant(tool call), tool result, assistant text
	if len(msgs) != 4 {
		t.Fatalf("session messages = %d, want 4", len(msgs))
	}
	if msgs[2].Role != models.RoleTool || msgs[2].ToolResults[0].Content != "127.0.0.1 localhost" {
		t.Error("tool result message not appended")
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}
}

func TestLoopPermissionDeniedIsTerminalForCall(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)
	provider := &scriptedProvider{scripts: []script{
		{events: toolUseTurn("t1", "shell_execute", `{"command":"ls"}`)},
		{events: textEnd("understood")},
	}}

	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName:    "shell_execute",
		InputSchema: SchemaFor[shellExecuteArgs](),
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			t.Error("denied tool must not execute")
			return &ToolResult{}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	engine := approvingEngine(permissions.Response{Approved: false})
	engine.RegisterProfile("shell_execute", permissions.ToolProfile{BaseRisk: permissions.RiskHigh})

	loop := NewLoop(&RuntimeContext{Sessions: store, Permissions: engine}, provider, registry, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "run ls"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	types := eventTypes(got)
	want := []EventType{EventPermissionRequired, EventPermissionDenied, EventText, EventComplete}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}

	// The denial is fed back to the model as an error result.
	msgs, _ := store.Messages(context.Background(), id)
	if len(msgs) != 4 {
		t.Fatalf("session messages = %d, want 4", len(msgs))
	}
	res := msgs[2].ToolResults[0]
	if !res.IsError || res.ToolCallID != "t1" {
		t.Errorf("denied call result = %+v, want error for t1", res)
	}
}

func TestLoopRateLimitRetry(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)

	rateErr := providers.NewError("scripted", "scripted-1", errors.New("rate limit exceeded")).
		WithStatus(429).
		WithRetryAfter(50 * time.Millisecond)
	provider := &scriptedProvider{scripts: []script{
		{openErr: rateErr},
		{events: textEnd("recovered")},
	}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, nil, nil, Config{Model: "scripted-1"})
	start := time.Now()
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("retry waited %v, want at least the server hint", elapsed)
	}
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteEndTurn {
		t.Fatalf("final event = %+v, want complete(end_turn)", final)
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}
}

func TestLoopCredentialErrorNotRetried(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)

	authErr := providers.NewError("scripted", "scripted-1", errors.New("invalid api key")).WithStatus(401)
	provider := &scriptedProvider{scripts: []script{{openErr: authErr}, {events: textEnd("never")}}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, nil, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteError {
		t.Fatalf("final event = %+v, want complete(error)", final)
	}
	if providers.IsRetryable(final.Err) {
		t.Error("credential error reported as retryable")
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount())
	}
}

func TestLoopErrorAfterPartialTextRetainsText(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)

	netErr := providers.NewError("scripted", "scripted-1", errors.New("connection reset"))
	provider := &scriptedProvider{scripts: []script{
		{
			events:    []models.StreamEvent{{Type: models.StreamText, Content: "partial answer"}},
			streamErr: netErr,
		},
		{events: textEnd("never reached")},
	}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, nil, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteError {
		t.Fatalf("final event = %+v, want complete(error)", final)
	}
	// Retrying after partial output would duplicate text.
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount())
	}

	msgs, _ := store.Messages(context.Background(), id)
	if len(msgs) != 2 || msgs[1].Content != "partial answer" {
		t.Error("partial assistant text was not retained")
	}
}

func TestLoopCancellationMidTool(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)
	provider := &scriptedProvider{scripts: []script{
		{events: toolUseTurn("t1", "slow_tool", `{}`)},
		{events: textEnd("never reached")},
	}}

	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName: "slow_tool",
		Handler: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			<-ctx.Done()
			return &ToolResult{Content: "canceled", IsError: true}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, registry, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(ctx, id, &models.Message{Role: models.RoleUser, Content: "go"})
	if err != nil {
		t.Fatal(err)
	}

	var got []Event
	sawToolEnd := false
	timeout := time.After(10 * time.Second)
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			got = append(got, ev)
			if ev.Type == EventToolStart {
				cancel()
			}
			if ev.Type == EventToolEnd {
				sawToolEnd = true
				if ev.Result == nil || !ev.Result.IsError {
					t.Error("canceled tool should report a failure result")
				}
			}
		case <-timeout:
			t.Fatal("loop did not terminate after cancellation")
		}
	}
	cancel()

	if !sawToolEnd {
		t.Error("toolEnd was not emitted for the started call")
	}
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteCanceled {
		t.Fatalf("final event = %+v, want complete(canceled)", final)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times after cancel, want 1 (no resubmission)", provider.callCount())
	}
}

func TestLoopMaxTurns(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)

	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName: "noop",
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	provider := &scriptedProvider{scripts: []script{
		{events: toolUseTurn("t1", "noop", `{}`)},
		{events: toolUseTurn("t2", "noop", `{}`)},
		{events: toolUseTurn("t3", "noop", `{}`)},
	}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, registry, nil, Config{Model: "scripted-1", MaxTurns: 2})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "go"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteMaxTurns {
		t.Fatalf("final event = %+v, want complete(max_turns)", final)
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}
}

func TestLoopMaxToolCalls(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)

	registry := NewRegistry()
	executed := 0
	if err := registry.Register(&FuncTool{
		ToolName: "noop",
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			executed++
			return &ToolResult{Content: "ok"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	provider := &scriptedProvider{scripts: []script{
		{events: toolUseTurn("t1", "noop", `{}`)},
		{events: toolUseTurn("t2", "noop", `{}`)},
	}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, registry, nil, Config{Model: "scripted-1", MaxToolCalls: 1})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "go"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteMaxToolCalls {
		t.Fatalf("final event = %+v, want complete(max_tool_calls)", final)
	}
	if executed != 1 {
		t.Errorf("executed %d calls, want 1", executed)
	}
}

func TestLoopMalformedToolArgumentsWarn(t *testing.T) {
	store := sessions.NewMemoryStore()
	id := newTestSession(t, store)

	registry := NewRegistry()
	var receivedArgs string
	if err := registry.Register(&FuncTool{
		ToolName: "probe",
		Handler: func(_ context.Context, args json.RawMessage) (*ToolResult, error) {
			receivedArgs = string(args)
			return &ToolResult{Content: "ok"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	provider := &scriptedProvider{scripts: []script{
		{events: toolUseTurn("t1", "probe", `{"broken":`)},
		{events: textEnd("done")},
	}}

	loop := NewLoop(&RuntimeContext{Sessions: store}, provider, registry, nil, Config{Model: "scripted-1"})
	events, err := loop.Run(context.Background(), id, &models.Message{Role: models.RoleUser, Content: "go"})
	if err != nil {
		t.Fatal(err)
	}

	got := drain(t, events)
	sawWarning := false
	for _, ev := range got {
		if ev.Type == EventWarning {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Error("malformed argument JSON did not surface a warning event")
	}
	if receivedArgs != "{}" {
		t.Errorf("tool received args %q, want coerced empty object", receivedArgs)
	}
	final := got[len(got)-1]
	if final.Type != EventComplete || final.Reason != CompleteEndTurn {
		t.Fatalf("final event = %+v, want complete(end_turn)", final)
	}
}
