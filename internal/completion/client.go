package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/models"
)

// ErrEmptyPrompt is returned when a request carries no non-empty messages.
var ErrEmptyPrompt = errors.New("completion: at least one non-empty message is required")

// UpstreamError wraps a provider failure so callers can distinguish it from
// validation problems. The upstream message is kept for logs only.
type UpstreamError struct {
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion: upstream call for %s failed: %v", e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Options configure the completion client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Extra   []option.RequestOption
}

// Client wraps the OpenAI SDK for non-streaming chat completions.
type Client struct {
	client  *openai.Client
	timeout time.Duration
}

// New creates a completion client using the provided API key and optional base URL.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("completion: api key required")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	client := openai.NewClient(requestOpts...)
	return &Client{client: &client, timeout: timeout}, nil
}

// Complete performs a single non-streaming chat completion against the
// provider model behind the catalog entry. The call is bounded by the
// configured timeout; caller cancellation propagates through ctx.
func (c *Client) Complete(ctx context.Context, model catalog.Model, messages []models.ChatMessage, maxTokens int64) (models.CompletionResult, error) {
	params, err := buildParams(model, messages, maxTokens)
	if err != nil {
		return models.CompletionResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return models.CompletionResult{}, err
		}
		return models.CompletionResult{}, &UpstreamError{Model: model.Alias, Err: err}
	}
	return convertResponse(model, *resp), nil
}

func buildParams(model catalog.Model, messages []models.ChatMessage, maxTokens int64) (openai.ChatCompletionNewParams, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case models.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Content))
		case models.RoleAssistant:
			converted = append(converted, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			converted = append(converted, openai.UserMessage(msg.Content))
		}
	}
	if len(converted) == 0 {
		return openai.ChatCompletionNewParams{}, ErrEmptyPrompt
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model.ProviderModel),
		Messages: converted,
	}
	if maxTokens <= 0 || (model.MaxOutput > 0 && maxTokens > int64(model.MaxOutput)) {
		maxTokens = int64(model.MaxOutput)
	}
	if maxTokens > 0 {
		params.MaxTokens = param.NewOpt(maxTokens)
	}
	return params, nil
}

func convertResponse(model catalog.Model, resp openai.ChatCompletion) models.CompletionResult {
	result := models.CompletionResult{
		Model:         model.Alias,
		Created:       time.Unix(resp.Created, 0).UTC(),
		ProviderTrace: resp.ID,
		ReportedUsage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		result.Text = resp.Choices[0].Message.Content
	}
	return result
}
