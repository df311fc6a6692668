package classifier

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI uses the chat completions API through go-openai. Any endpoint that
// speaks the same protocol works via WithBaseURL.
type OpenAI struct {
	client *openai.Client
	model  string
	opts   options
}

func NewOpenAI(apiKey, model string, opts ...Option) *OpenAI {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = o.httpClient()

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		opts:   o,
	}
}

func (c *OpenAI) Name() string  { return "openai" }
func (c *OpenAI) Model() string { return c.model }

func (c *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.opts.temperature),
		MaxTokens:   c.opts.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		perr := &ProviderError{Provider: c.Name(), Err: err}
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			perr.StatusCode = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			perr.StatusCode = reqErr.HTTPStatusCode
		}
		return "", perr
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: c.Name(), Err: errEmptyProviderReply}
	}
	return resp.Choices[0].Message.Content, nil
}
