package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

const defaultOpenAIModel = "gpt-5.1"

// OpenAIProvider implements Provider with go-openai. The same client
// serves OpenAI-compatible endpoints and Azure OpenAI deployments.
type OpenAIProvider struct {
	client    *openai.Client
	service   string
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// OpenAIOptions configures NewOpenAIProvider.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// AzureOptions configures NewAzureProvider.
type AzureOptions struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
	MaxTokens  int
	HTTPClient *http.Client
}

// NewOpenAIProvider creates a provider for api.openai.com or a compatible base URL.
func NewOpenAIProvider(opts OpenAIOptions, logger zerolog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		service:   "openai",
		model:     model,
		maxTokens: opts.MaxTokens,
		logger:    logger.With().Str("component", "llm_openai").Logger(),
	}
}

// NewAzureProvider creates a provider for an Azure OpenAI deployment. The
// deployment name is used as the model.
func NewAzureProvider(opts AzureOptions, logger zerolog.Logger) *OpenAIProvider {
	cfg := openai.DefaultAzureConfig(opts.APIKey, opts.Endpoint)
	if opts.APIVersion != "" {
		cfg.APIVersion = opts.APIVersion
	}
	deployment := opts.Deployment
	cfg.AzureModelMapperFunc = func(string) string { return deployment }
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		service:   "azure-openai",
		model:     deployment,
		maxTokens: opts.MaxTokens,
		logger:    logger.With().Str("component", "llm_azure").Logger(),
	}
}

func (p *OpenAIProvider) ModelID() string { return p.model }

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		creq.MaxCompletionTokens = req.MaxTokens
	} else if p.maxTokens > 0 {
		creq.MaxCompletionTokens = p.maxTokens
	}
	if req.Temperature > 0 {
		creq.Temperature = float32(req.Temperature)
	}
	if req.JSONOutput {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, perrors.NewAPIError(p.service, http.StatusBadGateway, "no choices returned")
	}

	choice := resp.Choices[0]
	text, thinking := SplitThinking(choice.Message.Content)
	out := &CompletionResponse{
		Text:         text,
		Thinking:     thinking,
		StopReason:   StopReasonEndTurn,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if choice.FinishReason == openai.FinishReasonLength {
		out.StopReason = StopReasonMaxTokens
	}

	p.logger.Debug().
		Str("model", model).
		Str("finish_reason", string(choice.FinishReason)).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("chat completion")
	return out, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &perrors.APIError{Service: p.service, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &perrors.APIError{Service: p.service, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", p.service, perrors.ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", p.service, perrors.ErrUnavailable, err)
}
