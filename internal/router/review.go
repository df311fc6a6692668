package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbaille/jot/internal/domain"
)

// ReviewQueue is the human-readable manual_review.md document. It only grows.
type ReviewQueue struct {
	path string
}

func NewReviewQueue(path string) *ReviewQueue {
	return &ReviewQueue{path: path}
}

func (q *ReviewQueue) Path() string { return q.path }

// Append writes one block for a flagged capture.
func (q *ReviewQueue) Append(rec domain.CaptureRecord, res domain.ClassificationResult, reason string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("create review dir: %w", err)
	}
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open review queue: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatReviewBlock(rec, res, reason, at)); err != nil {
		return fmt.Errorf("write review queue: %w", err)
	}
	return f.Sync()
}

func formatReviewBlock(rec domain.CaptureRecord, res domain.ClassificationResult, reason string, at time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n## [%s] %s\n\n", rec.ID, at.UTC().Format("2006-01-02 15:04"))
	sb.WriteString("**Raw input:**\n\n")
	for _, line := range strings.Split(rec.Text, "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n**Suggested type:** %s (confidence: %.2f)\n\n", res.Type, res.Confidence)
	fmt.Fprintf(&sb, "**Title:** %s\n\n", res.Title)
	fmt.Fprintf(&sb, "**Reason:** %s\n\n---\n", reason)
	return sb.String()
}
