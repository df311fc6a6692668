package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/metrics"
)

const (
	degradedConfidence = 0.5
	fallbackConfidence = 0.0
	emptyTitle         = "(empty capture)"
)

// Classifier turns raw capture text into a ClassificationResult with one
// provider call. Classify always returns a usable result.
type Classifier struct {
	provider Provider
	breaker  *breaker
	logger   *zap.Logger
	now      func() time.Time
}

// New wraps p with the failure handling configured in cfg. A nil p is
// allowed: every capture then falls back.
func New(p Provider, cfg config.LLMConfig, logger *zap.Logger) *Classifier {
	c := &Classifier{
		provider: p,
		breaker:  newBreaker(cfg.FailureThreshold, cfg.Cooldown),
		logger:   logger,
		now:      time.Now,
	}
	c.breaker.onChange = func(from, to breakerState) {
		logger.Warn("classifier circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if to == stateOpen {
			metrics.BreakerOpen.Set(1)
		} else {
			metrics.BreakerOpen.Set(0)
		}
	}
	return c
}

// Model returns the model identifier recorded on results.
func (c *Classifier) Model() string {
	if c.provider == nil {
		return ""
	}
	return c.provider.Model()
}

// Classify classifies text.
func (c *Classifier) Classify(ctx context.Context, text string) domain.ClassificationResult {
	return c.ClassifyWithContext(ctx, text, "")
}

// ClassifyWithContext classifies text, giving the backend extra as
// supporting material (a fetched page, for instance). Provider failures
// yield a fallback result, invalid replies a degraded one.
func (c *Classifier) ClassifyWithContext(ctx context.Context, text, extra string) (res domain.ClassificationResult) {
	start := c.now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classifier panic", zap.Any("panic", r))
			res = fallback(text, fmt.Sprintf("panic: %v", r))
		}
		res.Model = c.Model()
		res.Latency = c.now().Sub(start)
		c.observe(res)
	}()

	if c.provider == nil {
		return fallback(text, "no provider configured")
	}
	if err := c.breaker.allow(); err != nil {
		return fallback(text, (&ProviderError{Provider: c.provider.Name(), Err: err}).Error())
	}

	raw, err := c.provider.Complete(ctx, buildPrompt(text, start, extra))
	if err != nil {
		// an aborted call says nothing about the backend
		if ctx.Err() == nil {
			c.breaker.failure()
		}
		var perr *ProviderError
		if !errors.As(err, &perr) {
			err = &ProviderError{Provider: c.provider.Name(), Err: err}
		}
		c.logger.Warn("classification backend failed", zap.Error(err))
		return fallback(text, err.Error())
	}
	c.breaker.success()

	parsed, err := parseReply(raw)
	if err != nil {
		c.logger.Warn("classification reply rejected", zap.Error(err))
		res = degraded(text, err.Error())
		res.RawOutput = raw
		return res
	}
	parsed.RawOutput = raw
	return parsed
}

func (c *Classifier) observe(res domain.ClassificationResult) {
	kind := "none"
	if res.Failure != nil {
		kind = string(res.Failure.Kind)
	}
	metrics.ClassificationsTotal.WithLabelValues(string(res.Status), kind).Inc()

	name := "none"
	if c.provider != nil {
		name = c.provider.Name()
	}
	metrics.ClassifyDuration.WithLabelValues(name).Observe(res.Latency.Seconds())
	if res.Failure == nil {
		metrics.ClassifyConfidence.Observe(res.Confidence)
	}
}

// degraded is returned when the backend answered with something unusable.
func degraded(text, reason string) domain.ClassificationResult {
	return domain.ClassificationResult{
		Type:       domain.TypeThought,
		Title:      titleFrom(text),
		Body:       text,
		Confidence: degradedConfidence,
		Status:     domain.StatusClassified,
		Failure:    &domain.Failure{Kind: domain.FailureSchema, Reason: reason},
	}
}

// fallback is returned when the backend could not be used at all.
func fallback(text, reason string) domain.ClassificationResult {
	return domain.ClassificationResult{
		Type:       domain.TypeThought,
		Title:      titleFrom(text),
		Body:       text,
		Confidence: fallbackConfidence,
		Status:     domain.StatusFallback,
		Failure:    &domain.Failure{Kind: domain.FailureProvider, Reason: reason},
	}
}

func titleFrom(text string) string {
	title := domain.Truncate(strings.TrimSpace(text), maxTitleLen)
	if title == "" {
		return emptyTitle
	}
	return title
}
