package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicAPI = "https://api.anthropic.com/v1"

// Anthropic talks to the messages API over plain HTTP.
type Anthropic struct {
	apiKey string
	model  string
	opts   options
	client *http.Client
}

func NewAnthropic(apiKey, model string, opts ...Option) *Anthropic {
	o := defaultOptions()
	o.baseURL = anthropicAPI
	for _, opt := range opts {
		opt(&o)
	}
	return &Anthropic{
		apiKey: apiKey,
		model:  model,
		opts:   o,
		client: o.httpClient(),
	}
}

func (a *Anthropic) Name() string  { return "anthropic" }
func (a *Anthropic) Model() string { return a.model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.opts.maxTokens,
		Temperature: a.opts.temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", a.fail(0, fmt.Errorf("marshal request: %w", err))
	}

	url := strings.TrimRight(a.opts.baseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", a.fail(0, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", a.fail(0, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", a.fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", a.fail(resp.StatusCode, fmt.Errorf("api error: %s", snippet(body)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", a.fail(resp.StatusCode, fmt.Errorf("unmarshal response: %w", err))
	}
	if apiResp.Error != nil {
		return "", a.fail(resp.StatusCode, fmt.Errorf("api error: %s", apiResp.Error.Message))
	}
	if len(apiResp.Content) == 0 {
		return "", a.fail(resp.StatusCode, errEmptyProviderReply)
	}

	return apiResp.Content[0].Text, nil
}

func (a *Anthropic) fail(status int, err error) error {
	return &ProviderError{Provider: a.Name(), StatusCode: status, Err: err}
}

// snippet keeps error bodies readable in logs.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
