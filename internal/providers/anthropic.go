package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/vellum-dev/vellum/pkg/models"
)

// AnthropicProvider adapts Anthropic's Messages API to the normalized
// stream vocabulary.
//
// The provider handles several responsibilities:
//   - Converting the provider-independent request into MessageNewParams
//   - Mapping SSE events (message_start, content_block_start/delta/stop,
//     message_delta, message_stop) onto normalized stream events
//   - Classifying API failures into the shared error taxonomy
//
// Thread safety: AnthropicProvider is safe for concurrent use. Each
// Stream call owns an independent SSE stream and goroutine.
type AnthropicProvider struct {
	client       anthropic.Client
	apiKey       string
	defaultModel string
}

// AnthropicConfig holds the settings for creating an AnthropicProvider.
// APIKey is required; everything else has defaults.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// DefaultModel is used when Request.Model is empty.
	DefaultModel string
}

// NewAnthropicProvider creates an Anthropic provider from the config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		apiKey:       config.APIKey,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// SupportsReasoning reports extended thinking support.
func (p *AnthropicProvider) SupportsReasoning() bool {
	return true
}

// Models returns the known Claude models.
func (p *AnthropicProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsReasoning: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsReasoning: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000},
	}
}

// Stream issues the request and returns a normalized event stream.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (*Stream, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := requestContext(ctx)
	sse := p.client.Messages.NewStreaming(ctx, params)

	st, producer := newStream(cancel)
	go p.pump(ctx, sse, producer, p.model(req.Model))
	return st, nil
}

// Complete issues the request and drains the stream into a Result.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	st, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(st)
}

// anthropicEventStream is the slice of ssestream.Stream the pump needs.
// Narrowing to an interface keeps the event mapping testable without a
// live SSE connection.
type anthropicEventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

// pump consumes the SSE stream and emits normalized events.
//
// Anthropic streams parallel content blocks keyed by index. Block kinds
// arrive on content_block_start; text and thinking deltas are forwarded
// immediately, tool argument JSON is forwarded as delta fragments, and
// content_block_stop closes the open tool call at that index. Usage
// arrives split across message_start (input) and message_delta (output).
func (p *AnthropicProvider) pump(ctx context.Context, sse anthropicEventStream, producer *streamProducer, model string) {
	defer sse.Close()

	blockKinds := make(map[int64]string)
	usage := models.Usage{}
	stopReason := ""

	for sse.Next() {
		event := sse.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(start.Message.Usage.CacheReadInputTokens)
			usage.CacheWriteTokens = int(start.Message.Usage.CacheCreationInputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			block := blockStart.ContentBlock
			blockKinds[blockStart.Index] = block.Type
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				if !producer.send(ctx, models.StreamEvent{
					Type:       models.StreamToolCallStart,
					Index:      int(blockStart.Index),
					ToolCallID: toolUse.ID,
					ToolName:   toolUse.Name,
				}) {
					return
				}
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			delta := blockDelta.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !producer.send(ctx, models.StreamEvent{
					Type:    models.StreamText,
					Index:   int(blockDelta.Index),
					Content: delta.Text,
				}) {
					return
				}
			case "thinking_delta":
				if delta.Thinking != "" && !producer.send(ctx, models.StreamEvent{
					Type:    models.StreamReasoning,
					Index:   int(blockDelta.Index),
					Content: delta.Thinking,
				}) {
					return
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && !producer.send(ctx, models.StreamEvent{
					Type:              models.StreamToolCallDelta,
					Index:             int(blockDelta.Index),
					ArgumentsFragment: delta.PartialJSON,
				}) {
					return
				}
			}

		case "content_block_stop":
			blockStop := event.AsContentBlockStop()
			if blockKinds[blockStop.Index] == "tool_use" {
				if !producer.send(ctx, models.StreamEvent{
					Type:  models.StreamToolCallEnd,
					Index: int(blockStop.Index),
				}) {
					return
				}
			}
			delete(blockKinds, blockStop.Index)

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			if msgDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(msgDelta.Usage.OutputTokens)
			}
			if msgDelta.Delta.StopReason != "" {
				stopReason = string(msgDelta.Delta.StopReason)
			}

		case "message_stop":
			if !producer.send(ctx, models.StreamEvent{Type: models.StreamUsage, Usage: &usage}) {
				return
			}
			producer.send(ctx, models.StreamEvent{
				Type:       models.StreamEnd,
				StopReason: models.NormalizeStopReason(stopReason),
			})
			producer.finish()
			return
		}
	}

	if err := sse.Err(); err != nil {
		producer.fail(p.wrapError(err, model))
		return
	}

	// Stream ended without message_stop; treat as a normal end of turn.
	producer.send(ctx, models.StreamEvent{Type: models.StreamUsage, Usage: &usage})
	producer.send(ctx, models.StreamEvent{Type: models.StreamEnd, StopReason: models.StopEndTurn})
	producer.finish()
}

// buildParams converts the request to Anthropic's wire format.
func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}

	if system := systemPrompt(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		budget := int64(req.Thinking.BudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

// convertMessages maps the internal message list onto Anthropic content
// blocks. System messages are skipped here; they ride in params.System.
// Tool results become user-role tool_result blocks, tool calls become
// assistant-role tool_use blocks.
func (p *AnthropicProvider) convertMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// maxTokens applies the generation cap default shared by all adapters.
func maxTokens(requested int) int {
	if requested <= 0 {
		return 4096
	}
	return requested
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError maps SDK errors onto the shared taxonomy, pulling status,
// error type, and request ID out of the API error payload when present.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := NewError("anthropic", model, err).WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					pe = pe.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					pe = pe.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					pe = pe.WithRequestID(payload.RequestID)
				}
			}
		}
		if apiErr.RequestID != "" && pe.RequestID == "" {
			pe = pe.WithRequestID(apiErr.RequestID)
		}
		if apiErr.Response != nil {
			pe = pe.WithRetryAfter(retryAfterFromHeader(apiErr.Response.Header))
		}
		return pe
	}

	return NewError("anthropic", model, err)
}

// ValidateFormat checks the key shape without touching the network.
func (p *AnthropicProvider) ValidateFormat(key string) error {
	return ValidateKeyFormat("anthropic", key)
}

// Probe issues a minimal live request to verify the key works.
func (p *AnthropicProvider) Probe(ctx context.Context, key string) error {
	probe, err := NewAnthropicProvider(AnthropicConfig{APIKey: key, DefaultModel: p.defaultModel})
	if err != nil {
		return err
	}
	return Probe(ctx, probe, probe.defaultModel)
}
