package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/ledger"
	"github.com/pbaille/jot/internal/metrics"
	"github.com/pbaille/jot/internal/store"
)

// ErrRoutingInvariant marks a result whose type is outside the four buckets.
var ErrRoutingInvariant = errors.New("routing invariant violated")

// Destination is where the router sends a capture.
type Destination string

const (
	DestStorage      Destination = "entries"
	DestManualReview Destination = "manual_review"
)

// EntryStore is the part of the storage engine the router writes to.
type EntryStore interface {
	InsertEntry(e *domain.Entry) error
	SetDocumentPath(id, path string) error
	LogClassification(l *domain.ClassifierLogEntry) error
}

// Marker records that a capture has been processed.
type Marker interface {
	Mark(m ledger.Mark) error
}

// Outcome describes what Route did with one capture.
type Outcome struct {
	ID          string
	Destination Destination
	RoutedTo    string
	Status      ledger.Status
	Entry       *domain.Entry
	Reason      string
	// Duplicate is set when the entry was already stored by an earlier run.
	Duplicate bool
}

// Router is the confidence gate between the classifier and storage, and the
// only writer of the classification audit trail.
type Router struct {
	store         EntryStore
	ledger        Marker
	review        *ReviewQueue
	docs          *Documents
	notifier      Notifier
	threshold     float64
	bodyThreshold int
	logger        *zap.Logger
	now           func() time.Time
}

func New(cfg *config.Config, s EntryStore, l Marker, n Notifier, logger *zap.Logger) *Router {
	if n == nil {
		n = NopNotifier{}
	}
	return &Router{
		store:         s,
		ledger:        l,
		review:        NewReviewQueue(cfg.ManualReviewPath()),
		docs:          NewDocuments(cfg.ThoughtsDir(), cfg.PeopleDir()),
		notifier:      n,
		threshold:     cfg.Classifier.ConfidenceThreshold,
		bodyThreshold: cfg.Classifier.ThoughtBodyThreshold,
		logger:        logger,
		now:           time.Now,
	}
}

// Decide picks the destination for res and explains a manual review. An
// invalid type is coerced to thought and reported as ErrRoutingInvariant.
func (r *Router) Decide(res *domain.ClassificationResult) (Destination, string, error) {
	var err error
	if !res.Type.Valid() {
		err = fmt.Errorf("%w: type %q", ErrRoutingInvariant, res.Type)
		res.Type = domain.TypeThought
	}

	switch {
	case err != nil:
		return DestManualReview, err.Error(), err
	case res.Status == domain.StatusFallback:
		return DestManualReview, failureReason(res, "classifier unavailable"), nil
	case res.Failure != nil:
		return DestManualReview, failureReason(res, "invalid classifier reply"), nil
	case res.Confidence < r.threshold:
		return DestManualReview, fmt.Sprintf("low confidence (%.2f < %.2f)", res.Confidence, r.threshold), nil
	default:
		return DestStorage, "", nil
	}
}

func failureReason(res *domain.ClassificationResult, def string) string {
	if res.Failure != nil && res.Failure.Reason != "" {
		return fmt.Sprintf("%s: %s", res.Failure.Kind, res.Failure.Reason)
	}
	return def
}

// Route persists rec under res, writes the audit record and marks the ledger.
// Storage and audit failures are returned and leave the ledger untouched so
// the capture is retried on the next run.
func (r *Router) Route(ctx context.Context, rec domain.CaptureRecord, res domain.ClassificationResult) (*Outcome, error) {
	dest, reason, err := r.Decide(&res)
	if err != nil {
		r.logger.Error("routing invariant violated",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}

	entry := domain.NewEntry(rec, res)
	entry.NeedsReclassification = dest == DestManualReview

	out := &Outcome{
		ID:          rec.ID,
		Destination: dest,
		RoutedTo:    string(dest),
		Entry:       entry,
		Reason:      reason,
	}

	if err := r.store.InsertEntry(entry); err != nil {
		if !errors.Is(err, store.ErrDuplicateEntry) {
			return nil, fmt.Errorf("insert entry %s: %w", rec.ID, err)
		}
		r.logger.Warn("capture already stored, processed twice",
			zap.String("id", rec.ID),
		)
		out.Duplicate = true
	}

	if !out.Duplicate {
		switch dest {
		case DestManualReview:
			r.flag(ctx, rec, res, reason)
		case DestStorage:
			if path := r.writeDocument(entry); path != "" {
				out.RoutedTo = string(DestStorage) + "+" + filepath.Base(path)
			}
		}
	}

	audit := &domain.ClassifierLogEntry{
		EntryID:    rec.ID,
		Timestamp:  r.now().UTC(),
		RawInput:   rec.Text,
		RawOutput:  res.RawOutput,
		Model:      res.Model,
		Confidence: res.Confidence,
		LatencyMS:  res.Latency.Milliseconds(),
		Status:     domain.AuditClassified,
		RoutedTo:   out.RoutedTo,
	}
	if dest == DestManualReview {
		audit.Status = domain.AuditManualReview
	}
	switch {
	case err != nil:
		audit.FailureKind = domain.FailureRouting
		audit.FailureReason = reason
	case res.Failure != nil:
		audit.FailureKind = res.Failure.Kind
		audit.FailureReason = res.Failure.Reason
	}
	if err := r.store.LogClassification(audit); err != nil {
		return nil, fmt.Errorf("log classification %s: %w", rec.ID, err)
	}

	out.Status = ledgerStatus(dest, res)
	err = r.ledger.Mark(ledger.Mark{
		ID:          rec.ID,
		Timestamp:   r.now().UTC(),
		Status:      out.Status,
		Type:        res.Type,
		Confidence:  res.Confidence,
		Destination: out.RoutedTo,
	})
	if err != nil {
		return nil, fmt.Errorf("mark ledger %s: %w", rec.ID, err)
	}

	metrics.RoutesTotal.WithLabelValues(string(dest)).Inc()
	return out, nil
}

func ledgerStatus(dest Destination, res domain.ClassificationResult) ledger.Status {
	switch {
	case res.Status == domain.StatusFallback:
		return ledger.StatusFallback
	case dest == DestManualReview:
		return ledger.StatusManualReview
	default:
		return ledger.StatusClassified
	}
}

// flag adds the capture to the review document and pings the user. Neither
// can fail the route: the stored entry already carries the review flag.
func (r *Router) flag(ctx context.Context, rec domain.CaptureRecord, res domain.ClassificationResult, reason string) {
	if err := r.review.Append(rec, res, reason, r.now()); err != nil {
		r.logger.Error("failed to append to review queue",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
	if err := r.notifier.Notify(ctx, "jot: item needs review", domain.Truncate(res.Title, 50)); err != nil {
		r.logger.Debug("notification failed", zap.Error(err))
	}
}

// writeDocument mirrors long thoughts and person notes to markdown. It
// returns the written path, or "" when nothing was written.
func (r *Router) writeDocument(e *domain.Entry) string {
	var (
		path string
		err  error
	)
	switch e.Type {
	case domain.TypeThought:
		if utf8.RuneCountInString(e.Body) <= r.bodyThreshold {
			return ""
		}
		path, err = r.docs.WriteThought(e)
	case domain.TypePerson:
		path, err = r.docs.AppendPerson(e, r.now())
	default:
		return ""
	}
	if err != nil {
		r.logger.Error("failed to write document",
			zap.String("id", e.ID),
			zap.Error(err),
		)
		return ""
	}

	if err := r.store.SetDocumentPath(e.ID, path); err != nil {
		r.logger.Warn("failed to record document path",
			zap.String("id", e.ID),
			zap.Error(err),
		)
	} else {
		e.DocumentPath = path
	}
	return path
}
