package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	awshttp "github.com/aws/smithy-go/transport/http"
	"github.com/vellum-dev/vellum/pkg/models"
)

// BedrockProvider adapts the AWS Bedrock Converse API to the normalized
// stream vocabulary. Authentication rides on AWS credentials rather than
// an API key, so credential checks defer to the SDK's default chain.
//
// Thread safety: BedrockProvider is safe for concurrent use.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

// BedrockConfig holds configuration for the Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1).
	Region string

	// AccessKeyID for explicit credentials; the default chain is used
	// when empty.
	AccessKeyID string

	// SecretAccessKey for explicit credentials.
	SecretAccessKey string

	// SessionToken for temporary credentials.
	SessionToken string

	// DefaultModel is used when Request.Model is empty.
	DefaultModel string
}

// NewBedrockProvider creates a Bedrock provider from the config.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
	}, nil
}

// Name returns "bedrock".
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// SupportsReasoning reports reasoning support; Converse exposes thinking
// only through model-specific fields this adapter does not request.
func (p *BedrockProvider) SupportsReasoning() bool {
	return false
}

// Models returns the known Bedrock models. Actual availability depends on
// the AWS account's model access.
func (p *BedrockProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", ContextWindow: 200000},
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextWindow: 200000},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextWindow: 200000},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextWindow: 8192},
		{ID: "mistral.mistral-large-2407-v1:0", Name: "Mistral Large (Bedrock)", ContextWindow: 128000},
	}
}

// Stream issues the request and returns a normalized event stream.
func (p *BedrockProvider) Stream(ctx context.Context, req *Request) (*Stream, error) {
	model := p.model(req.Model)

	converseReq, err := p.buildInput(req, model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := requestContext(ctx)
	output, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		cancel()
		return nil, p.wrapError(err, model)
	}

	st, producer := newStream(cancel)
	go p.pump(ctx, output, producer, model)
	return st, nil
}

// Complete issues the request and drains the stream into a Result.
func (p *BedrockProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	st, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(st)
}

// pump consumes Converse stream events and emits normalized events.
// Converse mirrors the Anthropic block model: content blocks keyed by
// index with explicit start/delta/stop, a MessageStop carrying the stop
// reason, and usage in a trailing Metadata event.
func (p *BedrockProvider) pump(ctx context.Context, output *bedrockruntime.ConverseStreamOutput, producer *streamProducer, model string) {
	eventStream := output.GetStream()
	defer eventStream.Close()

	toolBlocks := make(map[int32]bool)
	usage := models.Usage{}
	stopReason := ""
	sawUsage := false

	for event := range eventStream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			index := aws.ToInt32(ev.Value.ContentBlockIndex)
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				toolBlocks[index] = true
				if !producer.send(ctx, models.StreamEvent{
					Type:       models.StreamToolCallStart,
					Index:      int(index),
					ToolCallID: aws.ToString(toolUse.Value.ToolUseId),
					ToolName:   aws.ToString(toolUse.Value.Name),
				}) {
					return
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			index := aws.ToInt32(ev.Value.ContentBlockIndex)
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" && !producer.send(ctx, models.StreamEvent{
					Type:    models.StreamText,
					Index:   int(index),
					Content: delta.Value,
				}) {
					return
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil && !producer.send(ctx, models.StreamEvent{
					Type:              models.StreamToolCallDelta,
					Index:             int(index),
					ArgumentsFragment: *delta.Value.Input,
				}) {
					return
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			index := aws.ToInt32(ev.Value.ContentBlockIndex)
			if toolBlocks[index] {
				delete(toolBlocks, index)
				if !producer.send(ctx, models.StreamEvent{
					Type:  models.StreamToolCallEnd,
					Index: int(index),
				}) {
					return
				}
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = string(ev.Value.StopReason)

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				usage.InputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
				usage.OutputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				sawUsage = true
			}
		}
	}

	if err := eventStream.Err(); err != nil {
		producer.fail(p.wrapError(err, model))
		return
	}

	if sawUsage {
		if !producer.send(ctx, models.StreamEvent{Type: models.StreamUsage, Usage: &usage}) {
			return
		}
	}
	producer.send(ctx, models.StreamEvent{
		Type:       models.StreamEnd,
		StopReason: models.NormalizeStopReason(stopReason),
	})
	producer.finish()
}

// buildInput converts the request to Converse wire format.
func (p *BedrockProvider) buildInput(req *Request, model string) (*bedrockruntime.ConverseStreamInput, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}

	if system := systemPrompt(req); system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	inference := &types.InferenceConfiguration{
		// #nosec G115 -- generation caps stay far below int32
		MaxTokens: aws.Int32(int32(maxTokens(req.MaxTokens))),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		inference.Temperature = &t
	}
	if req.TopP != nil {
		t := float32(*req.TopP)
		inference.TopP = &t
	}
	if len(req.StopSequences) > 0 {
		inference.StopSequences = req.StopSequences
	}
	input.InferenceConfig = inference

	if len(req.Tools) > 0 {
		toolConfig, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}

	return input, nil
}

// convertMessages maps the internal message list onto Converse messages.
func (p *BedrockProvider) convertMessages(messages []*models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock

		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		for _, tr := range msg.ToolResults {
			block := types.ToolResultBlock{
				ToolUseId: aws.String(tr.ToolCallID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: tr.Content},
				},
			}
			if tr.IsError {
				block.Status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: block})
		}

		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(tc.Arguments, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result, nil
}

func (p *BedrockProvider) convertTools(tools []ToolDefinition) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func (p *BedrockProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError maps SDK errors onto the shared taxonomy. AWS surfaces
// throttling as ThrottlingException and carries Retry-After on the HTTP
// response when the service provides one.
func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	pe := NewError("bedrock", model, err)

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		pe = pe.WithStatus(respErr.HTTPStatusCode())
		if respErr.Response != nil {
			pe = pe.WithRetryAfter(retryAfterFromHeader(respErr.Response.Header))
		}
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "ThrottlingException"),
		strings.Contains(errMsg, "TooManyRequestsException"):
		pe = pe.WithCode("rate_limit_exceeded")
	case strings.Contains(errMsg, "AccessDeniedException"),
		strings.Contains(errMsg, "UnrecognizedClientException"):
		pe = pe.WithCode("authentication_error")
	case strings.Contains(errMsg, "ServiceUnavailableException"),
		strings.Contains(errMsg, "ModelErrorException"):
		pe = pe.WithCode("server_error")
	}

	return pe
}

// ValidateFormat checks credential shape; Bedrock uses the AWS chain, so
// only non-emptiness of an explicit key is checked.
func (p *BedrockProvider) ValidateFormat(key string) error {
	return ValidateKeyFormat("bedrock", key)
}

// Probe issues a minimal live request to verify the credentials work.
func (p *BedrockProvider) Probe(ctx context.Context, _ string) error {
	return Probe(ctx, p, p.defaultModel)
}
