package store

import (
	"database/sql"
	"fmt"

	"github.com/pbaille/jot/internal/domain"
)

// LogClassification appends one audit record. Records are never updated.
func (s *Store) LogClassification(l *domain.ClassifierLogEntry) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = s.now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO classifier_logs (
			entry_id, timestamp, raw_input, raw_output, model, confidence,
			latency_ms, status, failure_kind, failure_reason, routed_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.EntryID, l.Timestamp.UTC(), l.RawInput, l.RawOutput, l.Model, l.Confidence,
		l.LatencyMS, string(l.Status), nullString(string(l.FailureKind)),
		nullString(l.FailureReason), l.RoutedTo,
	)
	if err != nil {
		return wrapErr("log classification", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("log classification: %w", err)
	}
	l.ID = id
	return nil
}

// ClassifierLogs returns every attempt recorded for entryID, oldest first.
func (s *Store) ClassifierLogs(entryID string) ([]domain.ClassifierLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, entry_id, timestamp, raw_input, raw_output, model, confidence,
			latency_ms, status, failure_kind, failure_reason, routed_to
		FROM classifier_logs WHERE entry_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("classifier logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.ClassifierLogEntry
	for rows.Next() {
		var (
			l            domain.ClassifierLogEntry
			status       string
			kind, reason sql.NullString
		)
		err := rows.Scan(&l.ID, &l.EntryID, &l.Timestamp, &l.RawInput, &l.RawOutput, &l.Model,
			&l.Confidence, &l.LatencyMS, &status, &kind, &reason, &l.RoutedTo)
		if err != nil {
			return nil, fmt.Errorf("scan classifier log: %w", err)
		}
		l.Status = domain.AuditStatus(status)
		l.FailureKind = domain.FailureKind(kind.String)
		l.FailureReason = reason.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
