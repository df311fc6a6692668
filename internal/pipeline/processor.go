// Package pipeline runs pending captures through the classifier and router.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/fetcher"
	"github.com/pbaille/jot/internal/ingress"
	"github.com/pbaille/jot/internal/ledger"
	"github.com/pbaille/jot/internal/metrics"
	"github.com/pbaille/jot/internal/router"
)

type Classifier interface {
	ClassifyWithContext(ctx context.Context, text, extra string) domain.ClassificationResult
}

type Router interface {
	Route(ctx context.Context, rec domain.CaptureRecord, res domain.ClassificationResult) (*router.Outcome, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Page, error)
}

// Summary counts what one run did.
type Summary struct {
	Pending      int
	Classified   int
	ManualReview int
	// Failed items are counted as manual review too; they stay pending.
	Failed int
}

// Processor is one batch run over the inbox.
type Processor struct {
	inbox      *ingress.Log
	ledger     *ledger.Ledger
	classifier Classifier
	router     Router
	fetcher    PageFetcher
	out        io.Writer
	logger     *zap.Logger
}

// New builds a processor writing progress lines to out. f may be nil to
// disable link enrichment.
func New(inbox *ingress.Log, l *ledger.Ledger, c Classifier, r Router, f PageFetcher, out io.Writer, logger *zap.Logger) *Processor {
	if out == nil {
		out = io.Discard
	}
	return &Processor{
		inbox:      inbox,
		ledger:     l,
		classifier: c,
		router:     r,
		fetcher:    f,
		out:        out,
		logger:     logger,
	}
}

// Pending returns the captures not yet in the ledger, in log order.
func (p *Processor) Pending() ([]domain.CaptureRecord, error) {
	records, err := p.inbox.Records()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	return p.ledger.Pending(records), nil
}

// Run processes every pending capture. One failing item never stops the
// run; only cancellation of ctx does.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	pending, err := p.Pending()
	if err != nil {
		return nil, err
	}

	sum := &Summary{Pending: len(pending)}
	if len(pending) == 0 {
		fmt.Fprintln(p.out, "Nothing to process.")
		return sum, nil
	}

	p.logger.Info("processing captures", zap.Int("pending", len(pending)))
	fmt.Fprintf(p.out, "Processing %d capture(s)...\n", len(pending))

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			p.printSummary(sum)
			return sum, err
		}

		out, err := p.processOne(ctx, rec)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			p.logger.Info("run interrupted", zap.String("id", rec.ID))
			p.printSummary(sum)
			return sum, err
		}
		switch {
		case err != nil:
			sum.Failed++
			sum.ManualReview++
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			p.logger.Error("capture failed", zap.String("id", rec.ID), zap.Error(err))
			fmt.Fprintf(p.out, "  ✗ [%s] failed: %v\n", rec.ID, err)
		case out.Destination == router.DestManualReview:
			sum.ManualReview++
			metrics.BatchItemsTotal.WithLabelValues("manual_review").Inc()
			fmt.Fprintf(p.out, "  ? [%s] %s: %s (%.2f) -> manual review: %s\n",
				rec.ID, out.Entry.Type, out.Entry.Title, out.Entry.Confidence, out.Reason)
		default:
			sum.Classified++
			metrics.BatchItemsTotal.WithLabelValues("classified").Inc()
			fmt.Fprintf(p.out, "  ✓ [%s] %s: %s (%.2f)\n",
				rec.ID, out.Entry.Type, out.Entry.Title, out.Entry.Confidence)
		}
	}

	p.printSummary(sum)
	return sum, nil
}

func (p *Processor) printSummary(sum *Summary) {
	fmt.Fprintf(p.out, "\nDone. %d classified, %d manual review.\n", sum.Classified, sum.ManualReview)
}

// processOne classifies and routes a single capture, turning a panic
// anywhere below into an error.
func (p *Processor) processOne(ctx context.Context, rec domain.CaptureRecord) (out *router.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res := p.classifier.ClassifyWithContext(ctx, rec.Text, p.linkContext(ctx, rec.Text))
	// an interrupted classification is not a result; leave the capture pending
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.router.Route(ctx, rec, res)
}

// linkContext fetches the page behind a capture that is only a link.
// Fetch failures just mean no extra context.
func (p *Processor) linkContext(ctx context.Context, text string) string {
	if p.fetcher == nil {
		return ""
	}
	u, ok := fetcher.LinkOnly(text)
	if !ok {
		return ""
	}
	page, err := p.fetcher.Fetch(ctx, u)
	if err != nil {
		p.logger.Debug("link fetch failed", zap.String("url", u), zap.Error(err))
		return ""
	}
	return page.Summary()
}
