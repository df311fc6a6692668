package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/jot/internal/domain"
)

func TestClassifierLogsAppend(t *testing.T) {
	s := newTestStore(t)

	first := &domain.ClassifierLogEntry{
		EntryID:       "e1",
		RawInput:      "raw",
		RawOutput:     "",
		Model:         "m",
		Confidence:    0,
		LatencyMS:     12,
		Status:        domain.AuditManualReview,
		FailureKind:   domain.FailureProvider,
		FailureReason: "connection refused",
		RoutedTo:      "manual_review",
	}
	second := &domain.ClassifierLogEntry{
		EntryID:    "e1",
		RawInput:   "raw",
		RawOutput:  `{"type":"task"}`,
		Model:      "m",
		Confidence: 0.9,
		LatencyMS:  40,
		Status:     domain.AuditClassified,
		RoutedTo:   "entries",
	}
	require.NoError(t, s.LogClassification(first))
	require.NoError(t, s.LogClassification(second))
	assert.Greater(t, second.ID, first.ID)

	logs, err := s.ClassifierLogs("e1")
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, domain.FailureProvider, logs[0].FailureKind)
	assert.Equal(t, "connection refused", logs[0].FailureReason)
	assert.Equal(t, domain.AuditManualReview, logs[0].Status)
	assert.Equal(t, domain.FailureNone, logs[1].FailureKind)
	assert.Equal(t, "entries", logs[1].RoutedTo)
	assert.False(t, logs[1].Timestamp.IsZero())
}

func TestClassifierLogsRejectUnknownStatus(t *testing.T) {
	s := newTestStore(t)
	err := s.LogClassification(&domain.ClassifierLogEntry{EntryID: "e1", Status: "weird", RoutedTo: "x"})

	var cerr *ConstraintError
	assert.ErrorAs(t, err, &cerr)
}

func TestClassifierLogsSurviveEntryDeletion(t *testing.T) {
	s := newTestStore(t)
	e := testEntry(domain.TypeTask, "audited")
	require.NoError(t, s.InsertEntry(e))
	require.NoError(t, s.LogClassification(&domain.ClassifierLogEntry{
		EntryID: e.ID, Status: domain.AuditClassified, RoutedTo: "entries",
	}))

	ok, err := s.DeleteEntry(e.ID)
	require.NoError(t, err)
	require.True(t, ok)

	logs, err := s.ClassifierLogs(e.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
