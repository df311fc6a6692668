package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/domain"
)

// fakeProvider returns canned replies and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	panics  bool
	calls   int
	prompts []string
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.panics {
		panic("provider exploded")
	}
	return f.reply, f.err
}

func newTestClassifier(t *testing.T, p Provider) *Classifier {
	return New(p, config.Default().LLM, zaptest.NewLogger(t))
}

func TestClassifySuccess(t *testing.T) {
	p := &fakeProvider{reply: `{"type":"task","title":"Email Sarah","confidence":0.9,"people":["sarah"]}`}
	c := newTestClassifier(t, p)

	res := c.Classify(context.Background(), "Email Sarah about the contract tomorrow")

	assert.Equal(t, domain.TypeTask, res.Type)
	assert.Equal(t, domain.StatusClassified, res.Status)
	assert.Nil(t, res.Failure)
	assert.Equal(t, "fake-model", res.Model)
	assert.Equal(t, p.reply, res.RawOutput)
	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "Email Sarah about the contract tomorrow")
	assert.Contains(t, p.prompts[0], time.Now().Format("2006-01-02"))
}

func TestClassifySchemaFailureDegrades(t *testing.T) {
	p := &fakeProvider{reply: `{"type":"idea","title":"x","confidence":0.99}`}
	c := newTestClassifier(t, p)

	res := c.Classify(context.Background(), "some note")

	assert.Equal(t, domain.TypeThought, res.Type)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Equal(t, domain.StatusClassified, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureSchema, res.Failure.Kind)
	assert.Equal(t, "some note", res.Title)
	assert.Equal(t, "some note", res.Body)
	assert.Equal(t, p.reply, res.RawOutput)
}

func TestClassifyProviderFailureFallsBack(t *testing.T) {
	p := &fakeProvider{err: &ProviderError{Provider: "fake", StatusCode: 503, Err: errors.New("unavailable")}}
	c := newTestClassifier(t, p)

	res := c.Classify(context.Background(), "some note")

	assert.Equal(t, domain.TypeThought, res.Type)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, domain.StatusFallback, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureProvider, res.Failure.Kind)
	assert.Contains(t, res.Failure.Reason, "503")
	assert.Equal(t, "fake-model", res.Model)
}

func TestClassifyRecoversPanics(t *testing.T) {
	c := newTestClassifier(t, &fakeProvider{panics: true})

	res := c.Classify(context.Background(), "boom")

	assert.Equal(t, domain.StatusFallback, res.Status)
	assert.Equal(t, domain.TypeThought, res.Type)
	assert.Contains(t, res.Failure.Reason, "provider exploded")
}

func TestClassifyWithoutProvider(t *testing.T) {
	c := newTestClassifier(t, nil)
	res := c.Classify(context.Background(), "note")
	assert.Equal(t, domain.StatusFallback, res.Status)
}

func TestClassifyIsTotal(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"line one\nline two\ttabbed",
		strings.Repeat("long ", 500),
		"\x00\x01 binary-ish",
	}
	replies := []string{
		"",
		"null",
		"[]",
		`{"type":"task"}`,
		`{"type":"task","title":"t","confidence":"high"}`,
		"```json\n{\"type\":\"person\",\"title\":\"Jake\",\"confidence\":0.8}\n```",
	}

	for _, in := range inputs {
		for _, reply := range replies {
			c := newTestClassifier(t, &fakeProvider{reply: reply})
			res := c.Classify(context.Background(), in)

			assert.True(t, res.Type.Valid(), "type %q for reply %q", res.Type, reply)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
			assert.LessOrEqual(t, res.Confidence, 1.0)
			assert.NotEmpty(t, res.Title)
			assert.LessOrEqual(t, len([]rune(res.Title)), maxTitleLen)
		}
	}
}

func TestClassifyTitleFromInput(t *testing.T) {
	c := newTestClassifier(t, &fakeProvider{err: errors.New("down")})

	long := strings.Repeat("é", 150)
	res := c.Classify(context.Background(), long)
	assert.Equal(t, strings.Repeat("é", 100), res.Title)
	assert.Equal(t, long, res.Body)

	res = c.Classify(context.Background(), "")
	assert.Equal(t, emptyTitle, res.Title)
}

func TestBreakerShortCircuits(t *testing.T) {
	p := &fakeProvider{err: errors.New("connection refused")}
	cfg := config.Default().LLM
	cfg.FailureThreshold = 3
	cfg.Cooldown = time.Minute
	c := New(p, cfg, zaptest.NewLogger(t))

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.breaker.now = c.now

	for i := 0; i < 5; i++ {
		res := c.Classify(context.Background(), "x")
		assert.Equal(t, domain.StatusFallback, res.Status)
	}
	assert.Equal(t, 3, p.calls)

	// after the cooldown a single probe goes through and fails again
	now = now.Add(2 * time.Minute)
	c.Classify(context.Background(), "x")
	c.Classify(context.Background(), "x")
	assert.Equal(t, 4, p.calls)

	// a successful probe closes the circuit
	now = now.Add(2 * time.Minute)
	p.err = nil
	p.reply = `{"type":"task","title":"t","confidence":0.9}`
	assert.Equal(t, domain.StatusClassified, c.Classify(context.Background(), "x").Status)
	assert.Equal(t, domain.StatusClassified, c.Classify(context.Background(), "x").Status)
	assert.Equal(t, 6, p.calls)
}

// blockingProvider waits for the caller to give up.
type blockingProvider struct {
	fakeProvider
	started chan struct{}
}

func (b *blockingProvider) Complete(ctx context.Context, prompt string) (string, error) {
	b.fakeProvider.Complete(ctx, prompt)
	close(b.started)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCancelledCallDoesNotTripBreaker(t *testing.T) {
	cfg := config.Default().LLM
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Hour

	for i := 0; i < 2; i++ {
		p := &blockingProvider{started: make(chan struct{})}
		c := New(p, cfg, zaptest.NewLogger(t))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-p.started
			cancel()
		}()
		res := c.Classify(ctx, "x")
		assert.Equal(t, domain.StatusFallback, res.Status)
		assert.Equal(t, stateClosed, c.breaker.state)
	}
}

func TestSchemaFailureDoesNotTripBreaker(t *testing.T) {
	p := &fakeProvider{reply: "garbage"}
	cfg := config.Default().LLM
	cfg.FailureThreshold = 1
	c := New(p, cfg, zaptest.NewLogger(t))

	c.Classify(context.Background(), "x")
	c.Classify(context.Background(), "x")
	assert.Equal(t, 2, p.calls)
}

func TestClassifyUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewAnthropic("k", "claude-test", WithBaseURL(url), WithTimeout(time.Second))
	c := newTestClassifier(t, p)

	text := "Email Sarah about the contract tomorrow"
	res := c.Classify(context.Background(), text)

	assert.Equal(t, domain.TypeThought, res.Type)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, domain.StatusFallback, res.Status)
	assert.Equal(t, text, res.Title)
	assert.Equal(t, text, res.Body)
	assert.Equal(t, "claude-test", res.Model)
	assert.Greater(t, res.Latency, time.Duration(0))
}

func TestPromptIncludesLinkedPage(t *testing.T) {
	p := &fakeProvider{reply: `{"type":"thought","title":"t","confidence":0.9}`}
	c := newTestClassifier(t, p)

	c.ClassifyWithContext(context.Background(), "https://example.com", "Example Domain")
	assert.Contains(t, p.prompts[0], "Example Domain")
}
