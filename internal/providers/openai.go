package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"github.com/vellum-dev/vellum/pkg/models"
)

// Default endpoints for the OpenAI-compatible providers.
const (
	deepseekBaseURL = "https://api.deepseek.com"
	mistralBaseURL  = "https://api.mistral.ai/v1"
	ollamaBaseURL   = "http://localhost:11434/v1"
)

// OpenAIProvider adapts the Chat Completions API to the normalized stream
// vocabulary. DeepSeek, Azure OpenAI, Mistral, and Ollama all speak the
// same wire protocol, so their adapters share this implementation and
// differ only in client config, name, and model catalog.
//
// Tool calls arrive incrementally: the first chunk for an index carries
// the ID and function name, later chunks carry argument fragments, and a
// finish reason of "tool_calls" closes everything still open.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	reasoning    bool
	catalog      []ModelInfo
}

// NewOpenAIProvider creates an adapter for the OpenAI API.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		name:         "openai",
		defaultModel: "gpt-4o",
		catalog: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000},
			{ID: "o3-mini", Name: "o3-mini", ContextWindow: 200000, SupportsReasoning: true},
		},
	}, nil
}

// NewDeepSeekProvider creates an adapter for DeepSeek's OpenAI-compatible
// API. deepseek-reasoner streams reasoning content before its answer.
func NewDeepSeekProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("deepseek: API key is required")
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		name:         "deepseek",
		defaultModel: "deepseek-chat",
		reasoning:    true,
		catalog: []ModelInfo{
			{ID: "deepseek-chat", Name: "DeepSeek Chat", ContextWindow: 64000},
			{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", ContextWindow: 64000, SupportsReasoning: true},
		},
	}, nil
}

// NewAzureProvider creates an adapter for an Azure OpenAI deployment.
// The model field of a request names the deployment.
func NewAzureProvider(apiKey, endpoint string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	if endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	config := openai.DefaultAzureConfig(apiKey, endpoint)
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		name:         "azure",
		defaultModel: "gpt-4o",
		catalog: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o (Azure)", ContextWindow: 128000},
		},
	}, nil
}

// NewMistralProvider creates an adapter for Mistral's OpenAI-compatible API.
func NewMistralProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("mistral: API key is required")
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = mistralBaseURL
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		name:         "mistral",
		defaultModel: "mistral-large-latest",
		catalog: []ModelInfo{
			{ID: "mistral-large-latest", Name: "Mistral Large", ContextWindow: 128000},
			{ID: "mistral-small-latest", Name: "Mistral Small", ContextWindow: 32000},
		},
	}, nil
}

// NewOllamaProvider creates an adapter for a local Ollama server via its
// OpenAI-compatible endpoint. No API key is involved; baseURL defaults to
// localhost.
func NewOllamaProvider(baseURL string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	config := openai.DefaultConfig("ollama")
	config.BaseURL = baseURL
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		name:         "ollama",
		defaultModel: "llama3.1",
		catalog: []ModelInfo{
			{ID: "llama3.1", Name: "Llama 3.1", ContextWindow: 128000},
			{ID: "qwen2.5-coder", Name: "Qwen 2.5 Coder", ContextWindow: 32000},
		},
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// SupportsReasoning reports whether reasoning content may stream.
func (p *OpenAIProvider) SupportsReasoning() bool {
	return p.reasoning
}

// Models returns the known models for this endpoint.
func (p *OpenAIProvider) Models() []ModelInfo {
	return p.catalog
}

// Stream issues the request and returns a normalized event stream.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (*Stream, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := requestContext(ctx)
	chatStream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		cancel()
		return nil, p.wrapError(err, chatReq.Model)
	}

	st, producer := newStream(cancel)
	go p.pump(ctx, chatStream, producer, chatReq.Model)
	return st, nil
}

// Complete issues the request and drains the stream into a Result.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	st, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(st)
}

// chatStream is the slice of openai.ChatCompletionStream the pump needs.
type chatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// pump consumes the chat completion stream and emits normalized events.
func (p *OpenAIProvider) pump(ctx context.Context, stream chatStream, producer *streamProducer, model string) {
	defer stream.Close()

	// Open tracks indexes with an emitted tool_call_start awaiting close.
	open := make(map[int]bool)
	var usage *models.Usage
	finish := ""

	closeOpenCalls := func() bool {
		for index := range open {
			if !producer.send(ctx, models.StreamEvent{
				Type:  models.StreamToolCallEnd,
				Index: index,
			}) {
				return false
			}
			delete(open, index)
		}
		return true
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !closeOpenCalls() {
					return
				}
				if usage != nil && !producer.send(ctx, models.StreamEvent{Type: models.StreamUsage, Usage: usage}) {
					return
				}
				producer.send(ctx, models.StreamEvent{
					Type:       models.StreamEnd,
					StopReason: models.NormalizeStopReason(finish),
				})
				producer.finish()
				return
			}
			producer.fail(p.wrapError(err, model))
			return
		}

		// The final usage frame has no choices when stream usage is on.
		if response.Usage != nil {
			usage = &models.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
			if d := response.Usage.PromptTokensDetails; d != nil {
				usage.CacheReadTokens = d.CachedTokens
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !producer.send(ctx, models.StreamEvent{
				Type:    models.StreamText,
				Content: delta.Content,
			}) {
				return
			}
		}

		if delta.ReasoningContent != "" {
			if !producer.send(ctx, models.StreamEvent{
				Type:    models.StreamReasoning,
				Content: delta.ReasoningContent,
			}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			if !open[index] && (tc.ID != "" || tc.Function.Name != "") {
				open[index] = true
				if !producer.send(ctx, models.StreamEvent{
					Type:       models.StreamToolCallStart,
					Index:      index,
					ToolCallID: tc.ID,
					ToolName:   tc.Function.Name,
				}) {
					return
				}
			}

			if tc.Function.Arguments != "" {
				if !producer.send(ctx, models.StreamEvent{
					Type:              models.StreamToolCallDelta,
					Index:             index,
					ArgumentsFragment: tc.Function.Arguments,
				}) {
					return
				}
			}
		}

		if choice.FinishReason != "" {
			finish = string(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls {
				if !closeOpenCalls() {
					return
				}
			}
		}
	}
}

// buildRequest converts the request to the chat completions wire format.
func (p *OpenAIProvider) buildRequest(req *Request) (openai.ChatCompletionRequest, error) {
	messages, err := p.convertMessages(req)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
		MaxTokens: maxTokens(req.MaxTokens),
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}
	if req.Thinking != nil && req.Thinking.Enabled && req.Thinking.ReasoningEffort != "" {
		chatReq.ReasoningEffort = req.Thinking.ReasoningEffort
	}

	return chatReq, nil
}

// convertMessages maps the internal message list onto chat messages.
// The system prompt rides as the first message; each tool result becomes
// a separate tool-role message keyed by its call ID.
func (p *OpenAIProvider) convertMessages(req *Request) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if system := systemPrompt(req); system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}

		if oaiMsg.Content != "" || len(oaiMsg.ToolCalls) > 0 {
			result = append(result, oaiMsg)
		}

		for _, tr := range msg.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}

	return result, nil
}

func (p *OpenAIProvider) convertTools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError maps go-openai SDK errors onto the shared taxonomy.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
		if apiErr.Type != "" {
			pe = pe.WithCode(apiErr.Type)
		} else if code, ok := apiErr.Code.(string); ok && code != "" {
			pe = pe.WithCode(code)
		}
		return pe
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewError(p.name, model, err)
}

// ValidateFormat checks the key shape without touching the network.
func (p *OpenAIProvider) ValidateFormat(key string) error {
	return ValidateKeyFormat(p.name, key)
}

// Probe issues a minimal live request to verify the key works.
func (p *OpenAIProvider) Probe(ctx context.Context, key string) error {
	config := openai.DefaultConfig(key)
	probe := &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		name:         p.name,
		defaultModel: p.defaultModel,
	}
	return Probe(ctx, probe, probe.defaultModel)
}
