package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vellum-dev/vellum/pkg/models"
)

func approvedExec(t *testing.T, name, args string) *models.ToolExecution {
	t.Helper()
	ex := models.NewToolExecution(models.ToolCall{
		ID:        "call-" + name,
		Name:      name,
		Arguments: json.RawMessage(args),
	})
	if err := ex.Transition(models.ExecutionApproved); err != nil {
		t.Fatal(err)
	}
	return ex
}

func TestExecutorRunsReadOnlyBatchInParallel(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	inFlight, peak := 0, 0
	release := make(chan struct{})
	if err := registry.Register(&FuncTool{
		ToolName: "reader",
		ReadOnly: true,
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			<-release
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &ToolResult{Content: "ok"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(registry, ExecutorConfig{MaxConcurrency: 4, DefaultTimeout: 5 * time.Second})
	execs := []*models.ToolExecution{
		approvedExec(t, "reader", `{}`),
		approvedExec(t, "reader", `{}`),
		approvedExec(t, "reader", `{}`),
	}

	done := make(chan struct{})
	go func() {
		executor.ExecuteAll(context.Background(), execs)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := inFlight
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d executions in flight, want 3 concurrent", n)
		case <-time.After(time.Millisecond):
		}
	}
	close(release)
	<-done

	if peak != 3 {
		t.Errorf("peak concurrency = %d, want 3", peak)
	}
	for _, ex := range execs {
		if ex.State != models.ExecutionComplete {
			t.Errorf("execution %s state = %s, want complete", ex.Call.ID, ex.State)
		}
	}
}

func TestExecutorRunsMixedBatchSerially(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	inFlight, peak := 0, 0
	handler := func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &ToolResult{Content: "ok"}, nil
	}
	if err := registry.Register(&FuncTool{ToolName: "reader", ReadOnly: true, Handler: handler}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(&FuncTool{ToolName: "writer", Handler: handler}); err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(registry, ExecutorConfig{MaxConcurrency: 4, DefaultTimeout: 5 * time.Second})
	execs := []*models.ToolExecution{
		approvedExec(t, "reader", `{}`),
		approvedExec(t, "writer", `{}`),
		approvedExec(t, "reader", `{}`),
	}
	executor.ExecuteAll(context.Background(), execs)

	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1 for a batch with side effects", peak)
	}
}

func TestExecutorTimeout(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName: "slow",
		Handler: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}); err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(registry, ExecutorConfig{
		MaxConcurrency: 1,
		DefaultTimeout: time.Minute,
		ToolTimeouts:   map[string]time.Duration{"slow": 10 * time.Millisecond},
	})
	ex := approvedExec(t, "slow", `{}`)
	executor.Execute(context.Background(), ex)

	if ex.State != models.ExecutionError {
		t.Fatalf("state = %s, want error", ex.State)
	}
	if ex.Result == nil || !ex.Result.IsError {
		t.Fatal("timed-out execution must carry an error result")
	}
	if !strings.Contains(ex.Result.Content, ErrToolTimeout.Error()) {
		t.Errorf("result content = %q, want a timeout message", ex.Result.Content)
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName: "bomb",
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			panic("boom")
		},
	}); err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(registry, DefaultExecutorConfig())
	ex := approvedExec(t, "bomb", `{}`)
	executor.Execute(context.Background(), ex)

	if ex.State != models.ExecutionError {
		t.Fatalf("state = %s, want error", ex.State)
	}
	if !strings.Contains(ex.Result.Content, "panicked") {
		t.Errorf("result content = %q, want panic report", ex.Result.Content)
	}
}

func TestExecutorCanceledBeforeStart(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&FuncTool{
		ToolName: "noop",
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			t.Error("handler must not run after cancellation")
			return &ToolResult{}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Hold the only semaphore slot so Execute blocks on acquisition and
	// observes the canceled context.
	executor := NewExecutor(registry, ExecutorConfig{MaxConcurrency: 1, DefaultTimeout: time.Second})
	executor.sem <- struct{}{}
	defer func() { <-executor.sem }()

	ex := approvedExec(t, "noop", `{}`)
	executor.Execute(ctx, ex)

	if ex.State != models.ExecutionError {
		t.Fatalf("state = %s, want error", ex.State)
	}
	if ex.Result == nil || ex.Result.Content != "canceled" {
		t.Fatalf("result = %+v, want canceled", ex.Result)
	}
}

func TestExecutorToolErrorIsNotRetried(t *testing.T) {
	registry := NewRegistry()
	attempts := 0
	if err := registry.Register(&FuncTool{
		ToolName: "flaky",
		Handler: func(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
			attempts++
			return nil, errors.New("transient failure")
		},
	}); err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(registry, DefaultExecutorConfig())
	ex := approvedExec(t, "flaky", `{}`)
	executor.Execute(context.Background(), ex)

	if attempts != 1 {
		t.Errorf("handler ran %d times, want exactly 1", attempts)
	}
	if ex.State != models.ExecutionError {
		t.Errorf("state = %s, want error", ex.State)
	}
}
