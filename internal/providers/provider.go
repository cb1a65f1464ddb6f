// Package providers implements the LLM provider adapters for the Vellum
// runtime and the stream normalizer that maps every provider's wire format
// onto a single event vocabulary.
//
// Each adapter exposes the same two entry points: Stream, returning a
// pull-based iterator of normalized events so the agent loop controls
// back-pressure, and Complete, which drains a stream into an aggregated
// result. Adapters classify failures into the shared error taxonomy and
// never retry internally; retry policy belongs to the caller.
package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vellum-dev/vellum/pkg/models"
)

// DefaultRequestTimeout bounds a provider request when the caller supplies
// no deadline of its own.
const DefaultRequestTimeout = 60 * time.Second

// ReasoningEffort levels recognized by the thinking config.
const (
	EffortNone    = "none"
	EffortMinimal = "minimal"
	EffortLow     = "low"
	EffortMedium  = "medium"
	EffortHigh    = "high"
	EffortXHigh   = "xhigh"
)

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ThinkingConfig requests extended reasoning from models that support it.
// Adapters for providers without reasoning silently ignore it.
type ThinkingConfig struct {
	Enabled         bool   `json:"enabled"`
	BudgetTokens    int    `json:"budget_tokens,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// Request is the provider-independent completion request.
// System-role messages in Messages are surfaced as a dedicated system
// prompt for providers that demand it.
type Request struct {
	Model         string
	System        string
	Messages      []*models.Message
	Tools         []ToolDefinition
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
	Thinking      *ThinkingConfig
}

// Result aggregates a complete response.
type Result struct {
	Text       string
	Thinking   string
	ToolCalls  []models.ToolCall
	Usage      models.Usage
	StopReason models.StopReason

	// Warnings records non-fatal normalization notices surfaced while
	// draining the stream.
	Warnings []string
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ContextWindow     int    `json:"context_window"`
	SupportsReasoning bool   `json:"supports_reasoning"`
}

// Provider is the interface all adapters implement.
//
// Implementations must be safe for concurrent use; each Stream call owns
// an independent goroutine and iterator.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Models returns the models this adapter knows about.
	Models() []ModelInfo

	// SupportsReasoning reports whether thinking config is honored.
	SupportsReasoning() bool

	// Stream issues the request and returns a pull-based iterator of
	// normalized events.
	Stream(ctx context.Context, req *Request) (*Stream, error)

	// Complete issues the request and drains the stream into a Result.
	Complete(ctx context.Context, req *Request) (*Result, error)
}

// CredentialValidator is the two-phase credential check adapters implement.
// ValidateFormat is synchronous and purely syntactic; Probe issues one
// minimal live request and distinguishes auth failure from other errors.
// Probe must never be called from a format-only path.
type CredentialValidator interface {
	ValidateFormat(key string) error
	Probe(ctx context.Context, key string) error
}

// requestContext applies the default timeout when the caller set none.
func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}

// systemPrompt merges an explicit system prompt with any system-role
// messages, which take the dedicated slot on providers that demand it.
func systemPrompt(req *Request) string {
	out := req.System
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem && m.Content != "" {
			if out != "" {
				out += "\n\n"
			}
			out += m.Content
		}
	}
	return out
}
