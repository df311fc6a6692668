package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/ledger"
	"github.com/pbaille/jot/internal/store"
)

type fakeNotifier struct {
	calls int
	err   error
}

func (n *fakeNotifier) Notify(context.Context, string, string) error {
	n.calls++
	return n.err
}

type harness struct {
	cfg      *config.Config
	store    *store.Store
	ledger   *ledger.Ledger
	notifier *fakeNotifier
	router   *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()

	s, err := store.New(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	l, err := ledger.Open(cfg.LedgerPath(), zaptest.NewLogger(t))
	require.NoError(t, err)

	n := &fakeNotifier{}
	return &harness{
		cfg:      cfg,
		store:    s,
		ledger:   l,
		notifier: n,
		router:   New(cfg, s, l, n, zaptest.NewLogger(t)),
	}
}

func capture(text string) domain.CaptureRecord {
	return domain.CaptureRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Timestamp: time.Now().UTC(),
		Source:    "cli",
		Text:      text,
	}
}

func classified(typ domain.EntryType, confidence float64) domain.ClassificationResult {
	return domain.ClassificationResult{
		Type:       typ,
		Title:      "Email Sarah",
		Confidence: confidence,
		Status:     domain.StatusClassified,
		Model:      "test-model",
		Latency:    42 * time.Millisecond,
		RawOutput:  `{"type":"task"}`,
	}
}

func TestRouteHighConfidenceToStorage(t *testing.T) {
	h := newHarness(t)
	rec := capture("Email Sarah about the contract")

	out, err := h.router.Route(context.Background(), rec, classified(domain.TypeTask, 0.90))
	require.NoError(t, err)
	assert.Equal(t, DestStorage, out.Destination)
	assert.Equal(t, ledger.StatusClassified, out.Status)

	e, err := h.store.GetEntry(rec.ID)
	require.NoError(t, err)
	assert.False(t, e.NeedsReclassification)
	assert.Equal(t, rec.Text, e.RawInput)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditClassified, logs[0].Status)
	assert.Equal(t, "entries", logs[0].RoutedTo)
	assert.Equal(t, int64(42), logs[0].LatencyMS)
	assert.Equal(t, "test-model", logs[0].Model)

	m, ok := h.ledger.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusClassified, m.Status)

	assert.NoFileExists(t, h.cfg.ManualReviewPath())
	assert.Zero(t, h.notifier.calls)
}

func TestRouteLowConfidenceToManualReview(t *testing.T) {
	h := newHarness(t)
	rec := capture("something vague")

	out, err := h.router.Route(context.Background(), rec, classified(domain.TypeTask, 0.50))
	require.NoError(t, err)
	assert.Equal(t, DestManualReview, out.Destination)
	assert.Equal(t, ledger.StatusManualReview, out.Status)

	e, err := h.store.GetEntry(rec.ID)
	require.NoError(t, err)
	assert.True(t, e.NeedsReclassification)

	pending, err := h.store.PendingReview()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)

	doc, err := os.ReadFile(h.cfg.ManualReviewPath())
	require.NoError(t, err)
	assert.Contains(t, string(doc), "## ["+rec.ID+"]")
	assert.Contains(t, string(doc), "> something vague")
	assert.Contains(t, string(doc), "confidence: 0.50")
	assert.Contains(t, string(doc), "low confidence (0.50 < 0.75)")
	assert.Equal(t, 1, h.notifier.calls)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditManualReview, logs[0].Status)
	assert.Equal(t, "manual_review", logs[0].RoutedTo)
}

func TestRouteThresholdIsInclusive(t *testing.T) {
	h := newHarness(t)
	out, err := h.router.Route(context.Background(), capture("x"), classified(domain.TypeEvent, 0.75))
	require.NoError(t, err)
	assert.Equal(t, DestStorage, out.Destination)
}

func TestRouteFallback(t *testing.T) {
	h := newHarness(t)
	rec := capture("Email Sarah about the contract tomorrow")
	res := domain.ClassificationResult{
		Type:       domain.TypeThought,
		Title:      rec.Text,
		Body:       rec.Text,
		Confidence: 0,
		Status:     domain.StatusFallback,
		Failure:    &domain.Failure{Kind: domain.FailureProvider, Reason: "connection refused"},
	}

	out, err := h.router.Route(context.Background(), rec, res)
	require.NoError(t, err)
	assert.Equal(t, DestManualReview, out.Destination)
	assert.Equal(t, ledger.StatusFallback, out.Status)
	assert.Equal(t, "provider: connection refused", out.Reason)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.FailureProvider, logs[0].FailureKind)
	assert.Equal(t, "connection refused", logs[0].FailureReason)
}

func TestRouteSchemaFailureIgnoresThreshold(t *testing.T) {
	h := newHarness(t)
	h.router.threshold = 0.4

	res := classified(domain.TypeThought, 0.5)
	res.Failure = &domain.Failure{Kind: domain.FailureSchema, Reason: "invalid type"}

	rec := capture("x")
	out, err := h.router.Route(context.Background(), rec, res)
	require.NoError(t, err)
	assert.Equal(t, DestManualReview, out.Destination)
	assert.Equal(t, ledger.StatusManualReview, out.Status)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureSchema, logs[0].FailureKind)
}

func TestRouteInvalidTypeGoesToReview(t *testing.T) {
	h := newHarness(t)

	res := classified("idea", 0.99)
	dest, _, err := h.router.Decide(&res)
	assert.ErrorIs(t, err, ErrRoutingInvariant)
	assert.Equal(t, DestManualReview, dest)
	assert.Equal(t, domain.TypeThought, res.Type)

	rec := capture("x")
	out, err := h.router.Route(context.Background(), rec, classified("idea", 0.99))
	require.NoError(t, err)
	assert.Equal(t, DestManualReview, out.Destination)

	e, err := h.store.GetEntry(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeThought, e.Type)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.FailureRouting, logs[0].FailureKind)
	assert.Equal(t, out.Reason, logs[0].FailureReason)
	assert.NotEmpty(t, logs[0].FailureReason)
}

func TestRouteLongThoughtWritesDocument(t *testing.T) {
	h := newHarness(t)
	rec := capture("long idea")
	res := classified(domain.TypeThought, 0.9)
	res.Title = "WebSockets for sync"
	res.Body = strings.Repeat("words ", 50)
	res.Tags = []string{"ideas"}

	out, err := h.router.Route(context.Background(), rec, res)
	require.NoError(t, err)

	name := rec.ID + "-websockets-for-sync.md"
	assert.Equal(t, "entries+"+name, out.RoutedTo)

	path := filepath.Join(h.cfg.ThoughtsDir(), name)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var meta thoughtMeta
	body, err := parseFrontMatter(raw, &meta)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, meta.ID)
	assert.Equal(t, "WebSockets for sync", meta.Title)
	assert.Equal(t, []string{"ideas"}, meta.Tags)
	assert.Equal(t, res.Body, body)

	e, err := h.store.GetEntry(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, path, e.DocumentPath)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "entries+"+name, logs[0].RoutedTo)
}

func TestRouteShortThoughtStaysInStore(t *testing.T) {
	h := newHarness(t)
	res := classified(domain.TypeThought, 0.9)
	res.Body = "short"

	out, err := h.router.Route(context.Background(), capture("x"), res)
	require.NoError(t, err)
	assert.Equal(t, "entries", out.RoutedTo)
	assert.NoDirExists(t, h.cfg.ThoughtsDir())
}

func TestRoutePersonAggregates(t *testing.T) {
	h := newHarness(t)

	first := classified(domain.TypePerson, 0.9)
	first.Title = "Met Sarah at the conference"
	first.Body = "Works on distributed systems"
	first.People = []string{"sarah-chen"}

	out, err := h.router.Route(context.Background(), capture("Met Sarah"), first)
	require.NoError(t, err)
	assert.Equal(t, "entries+sarah-chen.md", out.RoutedTo)

	second := classified(domain.TypePerson, 0.9)
	second.Body = "Moved to Stripe"
	second.People = []string{"sarah-chen"}
	_, err = h.router.Route(context.Background(), capture("Sarah moved"), second)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(h.cfg.PeopleDir(), "sarah-chen.md"))
	require.NoError(t, err)

	var meta personMeta
	body, err := parseFrontMatter(raw, &meta)
	require.NoError(t, err)
	assert.Equal(t, "Sarah Chen", meta.Name)
	assert.Equal(t, "sarah-chen", meta.ID)
	assert.Contains(t, body, "Works on distributed systems")
	assert.Contains(t, body, "Moved to Stripe")
	assert.Equal(t, 2, strings.Count(body, "## "))
}

func TestRouteDuplicateIsTolerated(t *testing.T) {
	h := newHarness(t)
	rec := capture("twice")

	_, err := h.router.Route(context.Background(), rec, classified(domain.TypeTask, 0.9))
	require.NoError(t, err)

	out, err := h.router.Route(context.Background(), rec, classified(domain.TypeEvent, 0.3))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)

	e, err := h.store.GetEntry(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeTask, e.Type)
	assert.False(t, e.NeedsReclassification)

	logs, err := h.store.ClassifierLogs(rec.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, 1, h.ledger.Len())
}

func TestRouteSurvivesSideEffectFailures(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("no display")
	require.NoError(t, os.MkdirAll(h.cfg.ManualReviewPath(), 0o755))

	rec := capture("x")
	out, err := h.router.Route(context.Background(), rec, classified(domain.TypeTask, 0.1))
	require.NoError(t, err)
	assert.Equal(t, DestManualReview, out.Destination)
	assert.True(t, h.ledger.Has(rec.ID))
}

type failingStore struct {
	EntryStore
	insertErr error
	logErr    error
}

func (f *failingStore) InsertEntry(*domain.Entry) error { return f.insertErr }

func (f *failingStore) LogClassification(*domain.ClassifierLogEntry) error { return f.logErr }

func TestRouteStorageFailureLeavesLedgerUnmarked(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		store *failingStore
	}{
		{"insert", &failingStore{insertErr: &store.ConstraintError{Op: "insert entry", Err: errors.New("CHECK failed")}}},
		{"audit", &failingStore{logErr: errors.New("disk full")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(h.cfg, tt.store, h.ledger, NopNotifier{}, zaptest.NewLogger(t))
			rec := capture("x")

			_, err := r.Route(context.Background(), rec, classified(domain.TypeTask, 0.9))
			assert.Error(t, err)
			assert.False(t, h.ledger.Has(rec.ID))
		})
	}
}

func TestNewNotifier(t *testing.T) {
	assert.IsType(t, NopNotifier{}, NewNotifier(config.NotifyConfig{Enabled: false, Command: "notify-send"}))
	assert.IsType(t, CommandNotifier{}, NewNotifier(config.NotifyConfig{Enabled: true, Command: "notify-send"}))
}
