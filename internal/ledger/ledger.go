// Package ledger records which captures have been through classification.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/pbaille/jot/internal/domain"
)

// Status is the processing outcome of one capture.
type Status string

const (
	StatusClassified   Status = "classified"
	StatusFallback     Status = "fallback"
	StatusManualReview Status = "manual_review"
)

// Mark is one ledger line.
type Mark struct {
	ID          string
	Timestamp   time.Time
	Status      Status
	Type        domain.EntryType
	Confidence  float64
	Destination string
}

// Ledger is an append-only file indexed in memory by capture id.
type Ledger struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	index map[string]Mark
}

// Open loads the ledger at path. A missing file is an empty ledger.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		path:   path,
		logger: logger,
		now:    time.Now,
		index:  make(map[string]Mark),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			m, perr := parseMark(line)
			if perr != nil {
				l.logger.Warn("skipping malformed ledger line", zap.Error(perr))
			} else if _, dup := l.index[m.ID]; !dup {
				l.index[m.ID] = m
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
	}
}

// Has reports whether id has already been processed.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Get returns the mark recorded for id.
func (l *Ledger) Get(id string) (Mark, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.index[id]
	return m, ok
}

// Len returns the number of processed ids.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Pending returns the records not yet in the ledger, in log order, each id once.
func (l *Ledger) Pending(records []domain.CaptureRecord) []domain.CaptureRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool, len(records))
	var pending []domain.CaptureRecord
	for _, rec := range records {
		if _, done := l.index[rec.ID]; done || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		pending = append(pending, rec)
	}
	return pending
}

// Mark durably records m. Marking an id twice is tolerated: the second mark is
// logged and not written.
func (l *Ledger) Mark(m Mark) error {
	if m.ID == "" {
		return fmt.Errorf("mark: empty id")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.index[m.ID]; ok {
		l.logger.Warn("capture processed twice",
			zap.String("id", m.ID),
			zap.String("previous_status", string(prev.Status)),
			zap.String("status", string(m.Status)),
		)
		return nil
	}

	if err := l.appendLine(formatMark(m)); err != nil {
		return err
	}
	l.index[m.ID] = m
	return nil
}

func (l *Ledger) appendLine(line string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	if _, err := io.WriteString(f, line); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func formatMark(m Mark) string {
	return strings.Join([]string{
		m.ID,
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		string(m.Status),
		string(m.Type),
		strconv.FormatFloat(m.Confidence, 'f', 2, 64),
		m.Destination,
	}, "\t") + "\n"
}

// parseMark accepts any line whose first field is an id; the remaining fields
// are best effort so older ledgers still count as processed.
func parseMark(line string) (Mark, error) {
	parts := strings.Split(line, "\t")
	m := Mark{ID: strings.TrimSpace(parts[0])}
	if m.ID == "" {
		return Mark{}, fmt.Errorf("empty id")
	}
	if len(parts) > 1 {
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, parts[1])
	}
	if len(parts) > 2 {
		m.Status = Status(parts[2])
	}
	if len(parts) > 3 {
		m.Type = domain.EntryType(parts[3])
	}
	if len(parts) > 4 {
		m.Confidence, _ = strconv.ParseFloat(parts[4], 64)
	}
	if len(parts) > 5 {
		m.Destination = parts[5]
	}
	return m, nil
}
