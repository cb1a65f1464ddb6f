package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vellum-dev/vellum/internal/backoff"
	"github.com/vellum-dev/vellum/internal/contextmgr"
	"github.com/vellum-dev/vellum/internal/permissions"
	"github.com/vellum-dev/vellum/internal/providers"
	"github.com/vellum-dev/vellum/pkg/models"
)

// eventBufferSize is the lifecycle channel capacity.
const eventBufferSize = 64

// Config tunes one loop instance.
type Config struct {
	Model  string
	System string

	MaxTokens   int
	Temperature *float64
	Thinking    *providers.ThinkingConfig

	// MaxTurns bounds provider round trips per run. Default 10.
	MaxTurns int

	// MaxToolCalls bounds total tool calls per run. 0 means unlimited.
	MaxToolCalls int

	// MaxRetries bounds retries of a failed provider request when no
	// output has been delivered yet. Default 2.
	MaxRetries int

	// ContextWindow is the model's context window in tokens, used for
	// compaction decisions. 0 disables context management.
	ContextWindow int

	// IncludeSummaries controls whether summary messages are sent to the
	// provider. Defaults to true.
	IncludeSummaries *bool
}

func (c Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return 10
	}
	return c.MaxTurns
}

func (c Config) maxRetries() int {
	if c.MaxRetries < 0 {
		return 0
	}
	if c.MaxRetries == 0 {
		return 2
	}
	return c.MaxRetries
}

func (c Config) includeSummaries() bool {
	return c.IncludeSummaries == nil || *c.IncludeSummaries
}

// Loop drives the request/response/tool cycle for one session.
type Loop struct {
	rc       *RuntimeContext
	provider providers.Provider
	registry *Registry
	executor *Executor
	config   Config
	policy   backoff.Policy
}

// NewLoop wires a loop from its collaborators. The registry may be empty;
// the executor is created with default bounds when nil.
func NewLoop(rc *RuntimeContext, provider providers.Provider, registry *Registry, executor *Executor, config Config) *Loop {
	if rc == nil {
		rc = &RuntimeContext{}
	}
	rc.normalize()
	if registry == nil {
		registry = NewRegistry()
	}
	if executor == nil {
		executor = NewExecutor(registry, DefaultExecutorConfig())
	}
	return &Loop{
		rc:       rc,
		provider: provider,
		registry: registry,
		executor: executor,
		config:   config,
		policy:   backoff.DefaultPolicy(),
	}
}

// Run appends the user message and drives the loop until the model ends
// its turn, a limit is reached, an error aborts the run, or ctx is
// canceled. Lifecycle events stream on the returned channel, which closes
// after the final complete event.
func (l *Loop) Run(ctx context.Context, sessionID string, msg *models.Message) (<-chan Event, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if l.rc.Sessions == nil {
		return nil, errors.New("no session store configured")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := l.rc.Sessions.AppendMessage(ctx, sessionID, msg); err != nil {
		return nil, err
	}

	events := make(chan Event, eventBufferSize)
	go func() {
		defer close(events)
		l.run(ctx, sessionID, events)
	}()
	return events, nil
}

func (l *Loop) run(ctx context.Context, sessionID string, events chan<- Event) {
	logger := l.rc.Logger.With("session_id", sessionID)
	totalToolCalls := 0

	var lastUsage *models.Usage

	for turn := 0; turn < l.config.maxTurns(); turn++ {
		if ctx.Err() != nil {
			l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteCanceled, Usage: lastUsage})
			return
		}

		messages, err := l.prepareHistory(ctx, sessionID)
		if err != nil {
			l.fail(ctx, events, &LoopError{Phase: PhaseInit, Turn: turn, Cause: err})
			return
		}

		out := l.streamTurn(ctx, messages, events)
		if out.usage != nil {
			lastUsage = out.usage
		}
		if out.err != nil {
			l.appendPartialText(sessionID, out.text)
			if out.canceled {
				l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteCanceled, Usage: lastUsage})
				return
			}
			l.fail(ctx, events, &LoopError{Phase: PhaseStream, Turn: turn, Cause: out.err})
			return
		}

		if out.text != "" || len(out.calls) > 0 || out.thinking != "" {
			assistant := &models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   out.text,
				Thinking:  out.thinking,
				ToolCalls: out.calls,
				CreatedAt: time.Now(),
			}
			if err := l.rc.Sessions.AppendMessage(ctx, sessionID, assistant); err != nil {
				l.fail(ctx, events, &LoopError{Phase: PhaseStream, Turn: turn, Cause: err})
				return
			}
		}

		if out.canceled {
			l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteCanceled, Usage: lastUsage})
			return
		}

		if len(out.calls) == 0 {
			l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteEndTurn, Usage: lastUsage})
			return
		}

		if l.config.MaxToolCalls > 0 && totalToolCalls+len(out.calls) > l.config.MaxToolCalls {
			logger.Warn("tool call budget exhausted", "budget", l.config.MaxToolCalls)
			l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteMaxToolCalls, Usage: lastUsage})
			return
		}
		totalToolCalls += len(out.calls)

		results, canceled := l.executeTools(ctx, out.calls, events)
		toolMsg := &models.Message{
			ID:          uuid.NewString(),
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now(),
		}
		if err := l.rc.Sessions.AppendMessage(ctx, sessionID, toolMsg); err != nil {
			l.fail(ctx, events, &LoopError{Phase: PhaseExecuteTools, Turn: turn, Cause: err})
			return
		}

		if canceled {
			l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteCanceled, Usage: lastUsage})
			return
		}
	}

	l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteMaxTurns, Usage: lastUsage})
}

// prepareHistory loads the session's messages, compacting first when the
// context manager reports pressure, and returns the effective history.
func (l *Loop) prepareHistory(ctx context.Context, sessionID string) ([]*models.Message, error) {
	messages, err := l.rc.Sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if l.config.ContextWindow > 0 && l.rc.Context.NeedsCompaction(messages, l.config.Model, l.config.ContextWindow) {
		summarizer := &contextmgr.ProviderSummarizer{Provider: l.provider, Model: l.config.Model}
		compacted, err := l.rc.Context.Compact(ctx, messages, l.config.Model, l.config.ContextWindow, summarizer)
		if err != nil {
			return nil, err
		}
		if err := l.rc.Sessions.ReplaceMessages(ctx, sessionID, compacted); err != nil {
			return nil, err
		}
		l.rc.Metrics.compaction()
		messages = compacted
	}

	return contextmgr.EffectiveHistory(messages, l.config.includeSummaries()), nil
}

// turnOutcome is what one stream phase produced.
type turnOutcome struct {
	text     string
	thinking string
	calls    []models.ToolCall
	usage    *models.Usage
	stop     models.StopReason
	canceled bool
	err      error
}

// streamTurn issues the provider request and consumes the stream,
// forwarding text and reasoning as events. Failed requests are retried
// with backoff while nothing has been delivered; once partial output is
// out, errors surface instead (a retry would duplicate text).
func (l *Loop) streamTurn(ctx context.Context, history []*models.Message, events chan<- Event) *turnOutcome {
	req := &providers.Request{
		Model:       l.config.Model,
		System:      l.config.System,
		Messages:    history,
		Tools:       l.registry.Definitions(),
		MaxTokens:   l.config.MaxTokens,
		Temperature: l.config.Temperature,
		Thinking:    l.config.Thinking,
	}

	var out *turnOutcome
	for attempt := 1; ; attempt++ {
		out = l.consumeStream(ctx, req, events)
		if out.err == nil || out.canceled {
			l.rc.Metrics.providerRequest(l.provider.Name(), "ok")
			return out
		}

		delivered := out.text != "" || out.thinking != "" || len(out.calls) > 0
		if delivered || !providers.IsRetryable(out.err) || attempt > l.config.maxRetries() {
			l.rc.Metrics.providerRequest(l.provider.Name(), "error")
			return out
		}
		l.rc.Metrics.providerRequest(l.provider.Name(), "retry")

		delay := l.policy.Delay(attempt)
		if perr, ok := providers.AsError(out.err); ok {
			if hint := perr.RetryDelay(); hint > 0 {
				delay = hint
			}
		}
		l.rc.Logger.Warn("provider request failed, retrying",
			"provider", l.provider.Name(), "attempt", attempt, "delay", delay, "error", out.err)
		if err := backoff.Sleep(ctx, delay); err != nil {
			out.canceled = true
			return out
		}
	}
}

// consumeStream drives one provider stream to completion.
func (l *Loop) consumeStream(ctx context.Context, req *providers.Request, events chan<- Event) *turnOutcome {
	out := &turnOutcome{stop: models.StopEndTurn}

	st, err := l.provider.Stream(ctx, req)
	if err != nil {
		out.err = err
		return out
	}
	defer st.Close()

	asm := providers.NewAssembler()
	var text, thinking strings.Builder

	for st.Next() {
		ev := st.Event()
		switch ev.Type {
		case models.StreamText:
			text.WriteString(ev.Content)
			l.send(ctx, events, Event{Type: EventText, Content: ev.Content})
		case models.StreamReasoning:
			thinking.WriteString(ev.Content)
			l.send(ctx, events, Event{Type: EventReasoning, Content: ev.Content})
		case models.StreamToolCallStart, models.StreamToolCallDelta, models.StreamToolCallEnd:
			asm.Feed(ev)
		case models.StreamUsage:
			if ev.Usage != nil {
				usage := *ev.Usage
				out.usage = &usage
			}
		case models.StreamWarning:
			l.send(ctx, events, Event{Type: EventWarning, Content: ev.Content})
		case models.StreamEnd:
			out.stop = ev.StopReason
		}

		if ctx.Err() != nil {
			break
		}
	}

	out.text = text.String()
	out.thinking = thinking.String()
	out.calls = asm.Calls()
	for _, warn := range asm.Warnings() {
		l.send(ctx, events, Event{Type: EventWarning, Content: warn})
	}

	if ctx.Err() != nil {
		out.canceled = true
		return out
	}
	if err := st.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			out.canceled = true
			return out
		}
		out.err = err
	}
	return out
}

// executeTools routes a turn's calls through the permission engine and
// executor, emitting the per-call lifecycle events. Results come back in
// emission order. The second return is true when cancellation interrupted
// the phase; the caller must not resubmit.
func (l *Loop) executeTools(ctx context.Context, calls []models.ToolCall, events chan<- Event) ([]models.ToolResult, bool) {
	execs := make([]*models.ToolExecution, len(calls))
	var approved []*models.ToolExecution

	for i, call := range calls {
		ex := models.NewToolExecution(call)
		execs[i] = ex

		outcome := l.evaluatePermission(ctx, call, events)
		if outcome.Decision != permissions.DecisionAllowed {
			_ = ex.Transition(models.ExecutionRejected)
			ex.Result = &models.ToolResult{
				ToolCallID: call.ID,
				Content:    "permission denied: " + outcome.Reason,
				IsError:    true,
			}
			l.send(ctx, events, Event{
				Type:     EventPermissionDenied,
				CallID:   call.ID,
				ToolName: call.Name,
				Risk:     outcome.Risk,
			})
			l.rc.Metrics.toolExecution(call.Name, "denied")
			continue
		}

		_ = ex.Transition(models.ExecutionApproved)
		l.send(ctx, events, Event{
			Type:     EventPermissionGranted,
			CallID:   call.ID,
			ToolName: call.Name,
			Risk:     outcome.Risk,
		})
		approved = append(approved, ex)
	}

	for _, ex := range approved {
		l.send(ctx, events, Event{
			Type:     EventToolStart,
			CallID:   ex.Call.ID,
			ToolName: ex.Call.Name,
			Input:    ex.Call.Arguments,
		})
	}

	l.executor.ExecuteAll(ctx, approved)

	for _, ex := range approved {
		outcome := "ok"
		if ex.Result != nil && ex.Result.IsError {
			outcome = "error"
		}
		l.rc.Metrics.toolExecution(ex.Call.Name, outcome)
		l.send(ctx, events, Event{
			Type:     EventToolEnd,
			CallID:   ex.Call.ID,
			ToolName: ex.Call.Name,
			Result:   ex.Result,
		})
	}

	results := make([]models.ToolResult, len(execs))
	for i, ex := range execs {
		if ex.Result != nil {
			results[i] = *ex.Result
		} else {
			results[i] = models.ToolResult{
				ToolCallID: ex.Call.ID,
				Content:    "tool execution produced no result",
				IsError:    true,
			}
		}
	}
	return results, ctx.Err() != nil
}

// evaluatePermission consults the engine; a missing engine approves
// everything, for embedding contexts that gate elsewhere.
func (l *Loop) evaluatePermission(ctx context.Context, call models.ToolCall, events chan<- Event) *permissions.Outcome {
	engine := l.rc.Permissions
	if engine == nil {
		return &permissions.Outcome{Decision: permissions.DecisionAllowed}
	}

	engine.OnPrompt(func(req *permissions.Request) {
		l.send(ctx, events, Event{
			Type:     EventPermissionRequired,
			CallID:   call.ID,
			ToolName: call.Name,
			Input:    req.Arguments,
			Risk:     req.Risk,
		})
	})

	outcome, err := engine.Evaluate(ctx, call)
	if err != nil {
		return &permissions.Outcome{
			Decision: permissions.DecisionDenied,
			Reason:   err.Error(),
		}
	}
	return outcome
}

// appendPartialText retains text already streamed before a failure.
func (l *Loop) appendPartialText(sessionID, text string) {
	if text == "" {
		return
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if err := l.rc.Sessions.AppendMessage(context.Background(), sessionID, msg); err != nil {
		l.rc.Logger.Warn("failed to retain partial assistant text", "error", err)
	}
}

func (l *Loop) fail(ctx context.Context, events chan<- Event, loopErr *LoopError) {
	l.rc.Logger.Error("agent loop aborted", "phase", loopErr.Phase, "turn", loopErr.Turn, "error", loopErr.Cause)
	l.complete(ctx, events, Event{Type: EventComplete, Reason: CompleteError, Err: loopErr})
}

// complete emits the terminal event. It must reach the consumer even when
// ctx is already canceled, so it sends unconditionally.
func (l *Loop) complete(_ context.Context, events chan<- Event, ev Event) {
	events <- ev
}

// send delivers a non-terminal event, giving up when the run is canceled
// and the consumer stopped draining.
func (l *Loop) send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
		select {
		case events <- ev:
		default:
		}
	}
}
