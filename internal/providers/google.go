package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/vellum-dev/vellum/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider adapts Google's Gemini API to the normalized stream
// vocabulary using the Gen AI SDK's Go 1.23 iterator streams.
//
// Gemini differs from the other providers in two ways the pump has to
// absorb: function calls arrive whole inside a single response part
// rather than as incremental fragments, and calls carry no IDs, so the
// adapter mints them. Whole calls are still emitted as a
// start/delta/end triple to keep the event contract uniform.
type GoogleProvider struct {
	client       *genai.Client
	apiKey       string
	defaultModel string
}

// GoogleConfig holds the settings for creating a GoogleProvider.
type GoogleConfig struct {
	// APIKey is the Google AI API key. Format: AIza...
	APIKey string

	// DefaultModel is used when Request.Model is empty.
	DefaultModel string
}

// NewGoogleProvider creates a Google provider from the config.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		apiKey:       config.APIKey,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return "google"
}

// SupportsReasoning reports thinking support on Gemini 2.x models.
func (p *GoogleProvider) SupportsReasoning() bool {
	return true
}

// Models returns the known Gemini models.
func (p *GoogleProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1000000},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextWindow: 1000000},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2000000},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextWindow: 1000000},
	}
}

// Stream issues the request and returns a normalized event stream.
func (p *GoogleProvider) Stream(ctx context.Context, req *Request) (*Stream, error) {
	model := p.model(req.Model)
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	config := p.buildConfig(req)

	ctx, cancel := requestContext(ctx)
	streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)

	st, producer := newStream(cancel)
	go p.pump(ctx, streamIter, producer, model)
	return st, nil
}

// Complete issues the request and drains the stream into a Result.
func (p *GoogleProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	st, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(st)
}

// pump consumes the response iterator and emits normalized events.
func (p *GoogleProvider) pump(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], producer *streamProducer, model string) {
	usage := models.Usage{}
	finish := ""
	nextIndex := 0

	for resp, err := range streamIter {
		if err != nil {
			producer.fail(p.wrapError(err, model))
			return
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			usage.CacheReadTokens = int(resp.UsageMetadata.CachedContentTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			if candidate.FinishReason != "" {
				finish = strings.ToLower(string(candidate.FinishReason))
			}

			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}

				if part.Text != "" {
					eventType := models.StreamText
					if part.Thought {
						eventType = models.StreamReasoning
					}
					if !producer.send(ctx, models.StreamEvent{
						Type:    eventType,
						Content: part.Text,
					}) {
						return
					}
				}

				if part.FunctionCall != nil {
					args, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						args = []byte("{}")
					}

					index := nextIndex
					nextIndex++
					id := mintToolCallID(part.FunctionCall.Name)

					if !producer.send(ctx, models.StreamEvent{
						Type:       models.StreamToolCallStart,
						Index:      index,
						ToolCallID: id,
						ToolName:   part.FunctionCall.Name,
					}) {
						return
					}
					if !producer.send(ctx, models.StreamEvent{
						Type:              models.StreamToolCallDelta,
						Index:             index,
						ArgumentsFragment: string(args),
					}) {
						return
					}
					if !producer.send(ctx, models.StreamEvent{
						Type:  models.StreamToolCallEnd,
						Index: index,
					}) {
						return
					}
				}
			}
		}
	}

	// Gemini maps tool-call turns to a STOP finish reason; report tool_use
	// when calls were emitted so callers branch uniformly.
	stop := models.NormalizeStopReason(finish)
	if nextIndex > 0 && stop == models.StopEndTurn {
		stop = models.StopToolUse
	}

	if !producer.send(ctx, models.StreamEvent{Type: models.StreamUsage, Usage: &usage}) {
		return
	}
	producer.send(ctx, models.StreamEvent{Type: models.StreamEnd, StopReason: stop})
	producer.finish()
}

// convertMessages maps the internal message list onto Gemini contents.
// System messages ride in SystemInstruction; assistant turns map to the
// model role; tool results become function response parts.
func (p *GoogleProvider) convertMessages(messages []*models.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{
					"result": tr.Content,
					"error":  tr.IsError,
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCallID(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *GoogleProvider) convertTools(tools []ToolDefinition) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema genai.Schema
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  &schema,
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}, nil
}

func (p *GoogleProvider) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if system := systemPrompt(req); system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	// #nosec G115 -- generation caps stay far below int32
	config.MaxOutputTokens = int32(maxTokens(req.MaxTokens))

	if tools, err := p.convertTools(req.Tools); err == nil && tools != nil {
		config.Tools = tools
	}

	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.TopP != nil {
		t := float32(*req.TopP)
		config.TopP = &t
	}
	if len(req.StopSequences) > 0 {
		config.StopSequences = req.StopSequences
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		// #nosec G115 -- thinking budgets stay far below int32
		budget := int32(req.Thinking.BudgetTokens)
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  &budget,
		}
	}

	return config
}

func (p *GoogleProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError maps Gen AI SDK errors onto the shared taxonomy. The SDK
// reports API failures as *genai.APIError with a status code; everything
// else is classified from the message.
func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError("google", model, err).WithStatus(apiErr.Code)
		if apiErr.Message != "" {
			pe = pe.WithMessage(apiErr.Message)
		}
		if apiErr.Status != "" {
			pe = pe.WithCode(apiErr.Status)
		}
		return pe
	}

	pe := NewError("google", model, err)
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "unauthenticated"):
		pe = pe.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "permission denied"):
		pe = pe.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "resource exhausted"):
		pe = pe.WithStatus(http.StatusTooManyRequests)
	}
	return pe
}

// ValidateFormat checks the key shape without touching the network.
func (p *GoogleProvider) ValidateFormat(key string) error {
	return ValidateKeyFormat("google", key)
}

// Probe issues a minimal live request to verify the key works.
func (p *GoogleProvider) Probe(ctx context.Context, key string) error {
	probe, err := NewGoogleProvider(GoogleConfig{APIKey: key, DefaultModel: p.defaultModel})
	if err != nil {
		return err
	}
	return Probe(ctx, probe, probe.defaultModel)
}

// mintToolCallID fabricates an ID for providers that do not assign them.
func mintToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameForCallID resolves a tool result back to the function name its
// call used, which Gemini requires on function responses.
func toolNameForCallID(toolCallID string, messages []*models.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
