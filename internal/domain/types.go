package domain

import (
	"strings"
	"time"
)

// EntryType is one of the four buckets a capture can land in.
// The set is frozen: new semantics go into tags, never into new types.
type EntryType string

const (
	TypeTask    EntryType = "task"
	TypeThought EntryType = "thought"
	TypePerson  EntryType = "person"
	TypeEvent   EntryType = "event"
)

// EntryTypes lists every valid type in display order.
var EntryTypes = []EntryType{TypeTask, TypeThought, TypePerson, TypeEvent}

// Valid reports whether t is one of the four frozen types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeTask, TypeThought, TypePerson, TypeEvent:
		return true
	}
	return false
}

// ParseEntryType normalizes s and reports whether it names a valid type.
func ParseEntryType(s string) (EntryType, bool) {
	t := EntryType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Priority is an optional task urgency.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// NormalizePriority maps anything outside low/medium/high to PriorityNone.
func NormalizePriority(s string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p
	}
	return PriorityNone
}

// DefaultSource is used for captures that carry no source tag.
const DefaultSource = "cli"

// CaptureRecord is one raw capture as written to the ingress log
type CaptureRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
}

// ClassificationStatus tells whether the backend produced the result.
type ClassificationStatus string

const (
	StatusClassified ClassificationStatus = "classified"
	StatusFallback   ClassificationStatus = "fallback"
)

// FailureKind separates an unreachable backend from one that answered badly.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureProvider FailureKind = "provider"
	FailureSchema   FailureKind = "schema"

	// FailureRouting marks a result the router had to coerce.
	FailureRouting FailureKind = "routing"
)

// Failure records why a classification was degraded.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// ClassificationResult is the Classifier's output for one capture.
type ClassificationResult struct {
	Type       EntryType            `json:"type"`
	Title      string               `json:"title"`
	Body       string               `json:"body,omitempty"`
	Confidence float64              `json:"confidence"`
	Tags       []string             `json:"tags,omitempty"`
	Project    string               `json:"project,omitempty"`
	People     []string             `json:"people,omitempty"`
	DueDate    string               `json:"due_date,omitempty"`
	Priority   Priority             `json:"priority,omitempty"`
	Status     ClassificationStatus `json:"status"`
	Failure    *Failure             `json:"failure,omitempty"`

	Model     string        `json:"model"`
	Latency   time.Duration `json:"latency"`
	RawOutput string        `json:"raw_output,omitempty"`
}

// Entry is a capture fused with its classification, as persisted.
type Entry struct {
	ID                    string     `json:"id"`
	Seq                   int64      `json:"seq"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Type                  EntryType  `json:"type"`
	Title                 string     `json:"title"`
	Body                  string     `json:"body,omitempty"`
	Confidence            float64    `json:"confidence"`
	Priority              Priority   `json:"priority,omitempty"`
	DueDate               string     `json:"due_date,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	Project               string     `json:"project,omitempty"`
	Source                string     `json:"source"`
	RawInput              string     `json:"raw_input"`
	DocumentPath          string     `json:"document_path,omitempty"`
	NeedsReclassification bool       `json:"needs_reclassification"`
	Tags                  []string   `json:"tags,omitempty"`
	People                []string   `json:"people,omitempty"`
}

// NewEntry builds the entry that persists rec under the classification res.
func NewEntry(rec CaptureRecord, res ClassificationResult) *Entry {
	return &Entry{
		ID:         rec.ID,
		CreatedAt:  rec.Timestamp,
		UpdatedAt:  rec.Timestamp,
		Type:       res.Type,
		Title:      res.Title,
		Body:       res.Body,
		Confidence: res.Confidence,
		Priority:   res.Priority,
		DueDate:    res.DueDate,
		Project:    res.Project,
		Source:     rec.Source,
		RawInput:   rec.Text,
		Tags:       res.Tags,
		People:     res.People,
	}
}

// Completed reports whether the entry is a finished task.
func (e *Entry) Completed() bool {
	return e.CompletedAt != nil
}

// Project is a lightweight reference created on first mention
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Person is a lightweight reference created on first mention
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a normalized label shared between entries
type Tag struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AuditStatus is the outcome recorded for one classification attempt.
type AuditStatus string

const (
	AuditClassified   AuditStatus = "classified"
	AuditManualReview AuditStatus = "manual_review"
)

// ClassifierLogEntry is the immutable audit record of one classification attempt.
type ClassifierLogEntry struct {
	ID            int64       `json:"id"`
	EntryID       string      `json:"entry_id"`
	Timestamp     time.Time   `json:"timestamp"`
	RawInput      string      `json:"raw_input"`
	RawOutput     string      `json:"raw_output"`
	Model         string      `json:"model"`
	Confidence    float64     `json:"confidence"`
	LatencyMS     int64       `json:"latency_ms"`
	Status        AuditStatus `json:"status"`
	FailureKind   FailureKind `json:"failure_kind,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	RoutedTo      string      `json:"routed_to"`
}

// Stats summarizes the store.
type Stats struct {
	Total         int               `json:"total"`
	ByType        map[EntryType]int `json:"by_type"`
	PendingReview int               `json:"pending_review"`
	OpenTasks     int               `json:"open_tasks"`
}
