package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-resty/resty/v2"
)

const (
	defaultAnthropicModel  = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAIEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultMaxTokens       = 300
	defaultTemperature     = 0.3
	maxErrorMessageInBytes = 512
)

// completer sends one system/user prompt pair and returns the model's text.
type completer interface {
	complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// --- Anthropic ---

type anthropicCompleter struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

func newAnthropicCompleter(opts Options) *anthropicCompleter {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Retries belong to the caller; the gateway makes exactly one attempt.
		option.WithMaxRetries(0),
	}
	if opts.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Endpoint))
	}
	return &anthropicCompleter{
		client:      anthropic.NewClient(reqOpts...),
		model:       opts.Model,
		maxTokens:   int64(opts.MaxTokens),
		temperature: temperatureOf(opts),
	}
}

func (c *anthropicCompleter) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in anthropic response")
}

// --- OpenAI-compatible ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAICompleter struct {
	client      *resty.Client
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
}

func newOpenAICompleter(opts Options) *openAICompleter {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	client := resty.New().
		SetAuthToken(opts.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)
	return &openAICompleter{
		client:      client,
		endpoint:    endpoint,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: temperatureOf(opts),
	}
}

func (c *openAICompleter) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out openAIResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(openAIRequest{
			Model: c.model,
			Messages: []openAIMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
		}).
		SetResult(&out).
		SetError(&out).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		if len(msg) > maxErrorMessageInBytes {
			msg = msg[:maxErrorMessageInBytes]
		}
		return "", &statusError{StatusCode: resp.StatusCode(), Message: msg}
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return out.Choices[0].Message.Content, nil
}

func temperatureOf(opts Options) float64 {
	if opts.Temperature == nil {
		return defaultTemperature
	}
	return *opts.Temperature
}
