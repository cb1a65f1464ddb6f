package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vellum-dev/vellum/pkg/models"
)

// ErrToolTimeout marks a tool execution that exceeded its time budget.
var ErrToolTimeout = errors.New("tool execution timed out")

// ExecutorConfig bounds tool execution.
type ExecutorConfig struct {
	// MaxConcurrency caps in-flight executions across the loop.
	MaxConcurrency int

	// DefaultTimeout applies to tools without their own declared timeout.
	DefaultTimeout time.Duration

	// ToolTimeouts overrides the timeout per tool name.
	ToolTimeouts map[string]time.Duration
}

// DefaultExecutorConfig returns the standard bounds: five concurrent
// executions, 30 second timeout.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
	}
}

// Executor runs approved tool executions against the registry with
// bounded concurrency, per-tool timeouts, and panic recovery. It never
// retries: a failed execution is reported back to the model instead.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	sem      chan struct{}
}

// NewExecutor creates an executor over a registry.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultExecutorConfig().DefaultTimeout
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteAll runs a turn's approved executions. They run in parallel only
// when every targeted tool is side-effect-free; otherwise serially in
// emission order. Each execution's state and result are updated in place.
func (e *Executor) ExecuteAll(ctx context.Context, execs []*models.ToolExecution) {
	if len(execs) == 0 {
		return
	}

	names := make([]string, len(execs))
	for i, ex := range execs {
		names[i] = ex.Call.Name
	}

	if e.registry.SideEffectFree(names) {
		var wg sync.WaitGroup
		for _, ex := range execs {
			wg.Add(1)
			go func(ex *models.ToolExecution) {
				defer wg.Done()
				e.Execute(ctx, ex)
			}(ex)
		}
		wg.Wait()
		return
	}

	for _, ex := range execs {
		e.Execute(ctx, ex)
	}
}

// Execute runs one approved execution to a terminal state.
func (e *Executor) Execute(ctx context.Context, ex *models.ToolExecution) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		e.finishError(ex, ctx.Err())
		return
	}

	if err := ex.Transition(models.ExecutionRunning); err != nil {
		e.finishError(ex, err)
		return
	}

	result, err := e.runWithTimeout(ctx, ex.Call)
	if err != nil {
		e.finishError(ex, err)
		return
	}

	ex.Result = &models.ToolResult{
		ToolCallID: ex.Call.ID,
		Content:    result.Content,
		IsError:    result.IsError,
	}
	if result.IsError {
		ex.Err = result.Content
	}
	_ = ex.Transition(models.ExecutionComplete)
}

func (e *Executor) finishError(ex *models.ToolExecution, err error) {
	msg := "canceled"
	if err != nil && !errors.Is(err, context.Canceled) {
		msg = err.Error()
	}
	ex.Err = msg
	ex.Result = &models.ToolResult{
		ToolCallID: ex.Call.ID,
		Content:    msg,
		IsError:    true,
	}
	switch ex.State {
	case models.ExecutionRunning:
		_ = ex.Transition(models.ExecutionError)
	case models.ExecutionApproved:
		if ex.Transition(models.ExecutionRunning) == nil {
			_ = ex.Transition(models.ExecutionError)
		}
	}
}

// runWithTimeout invokes the registry with the tool's time budget,
// converting panics in handlers into errors.
func (e *Executor) runWithTimeout(ctx context.Context, call models.ToolCall) (*ToolResult, error) {
	timeout := e.config.DefaultTimeout
	if t, ok := e.config.ToolTimeouts[call.Name]; ok && t > 0 {
		timeout = t
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v\n%s", call.Name, r, debug.Stack())}
			}
		}()
		result, err := e.registry.Execute(execCtx, call.Name, call.Arguments)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrToolTimeout, timeout)
	}
}
