package classifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pbaille/jot/internal/config"
)

// Provider sends one prompt to a classification backend and returns the raw
// text of its reply.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

type options struct {
	baseURL          string
	temperature      float64
	maxTokens        int
	timeout          time.Duration
	maxResponseBytes int64
	transport        http.RoundTripper
}

func defaultOptions() options {
	return options{
		temperature:      0.3,
		maxTokens:        1024,
		timeout:          30 * time.Second,
		maxResponseBytes: 1 << 20,
	}
}

// Option configures a provider.
type Option func(*options)

func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxResponseBytes caps how much of a reply body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(o *options) { o.maxResponseBytes = n }
}

// WithTransport replaces the HTTP transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrMissingAPIKey)
	}

	opts := []Option{
		WithTemperature(cfg.Temperature),
		WithMaxTokens(cfg.MaxTokens),
		WithTimeout(cfg.Timeout),
		WithMaxResponseBytes(cfg.MaxResponseBytes),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.Model, opts...), nil
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (o options) httpClient() *http.Client {
	base := o.transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   o.timeout,
		Transport: limitedTransport{base: base, max: o.maxResponseBytes},
	}
}

// limitedTransport fails reads past max bytes of any response body.
type limitedTransport struct {
	base http.RoundTripper
	max  int64
}

func (t limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || t.max <= 0 {
		return resp, err
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: t.max}
	return resp, nil
}

type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, errResponseTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return 0, errResponseTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error { return b.rc.Close() }
