// Package ingress is the append-only capture log.
//
// Every capture is one tab-separated line:
//
//	id \t timestamp \t source \t escaped-text
//
// Writers from any number of processes serialize on an exclusive flock held
// only for the write and fsync of a single line.
package ingress

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/metrics"
)

// ErrEmptyCapture is returned for captures with no visible text.
var ErrEmptyCapture = errors.New("empty capture")

// DurabilityError means a capture could not be durably written. It is never swallowed.
type DurabilityError struct {
	Op   string
	Path string
	Err  error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("capture not durable: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DurabilityError) Unwrap() error { return e.Err }

// Log is the inbox file.
type Log struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Log writing to path. The file is created on first append.
func New(path string, logger *zap.Logger) *Log {
	return &Log{path: path, logger: logger, now: time.Now}
}

// Path returns the inbox file location.
func (l *Log) Path() string {
	return l.path
}

// Append durably records text and returns its id.
func (l *Log) Append(text, source string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCapture
	}
	if source = strings.Join(strings.Fields(source), "-"); source == "" {
		source = domain.DefaultSource
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return "", &DurabilityError{Op: "mkdir", Path: l.path, Err: err}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", &DurabilityError{Op: "open", Path: l.path, Err: err}
	}
	defer f.Close()

	var id string
	err = withLock(f, func() error {
		// ids are minted under the lock so file order follows id order
		u, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		id = u.String()

		rec := domain.CaptureRecord{ID: id, Timestamp: l.now().UTC(), Source: source, Text: text}
		if _, err := io.WriteString(f, FormatRecord(rec)); err != nil {
			return err
		}
		return f.Sync()
	})
	if err != nil {
		return "", &DurabilityError{Op: "append", Path: l.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &DurabilityError{Op: "close", Path: l.path, Err: err}
	}

	metrics.CapturesTotal.WithLabelValues(source).Inc()
	l.logger.Debug("capture appended", zap.String("id", id), zap.String("source", source))
	return id, nil
}

// Records reads every parseable record in file order. A missing file is an empty log.
// Malformed lines are skipped and logged.
func (l *Log) Records() ([]domain.CaptureRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open inbox: %w", err)
	}
	defer f.Close()

	var records []domain.CaptureRecord
	r := bufio.NewReader(f)
	lineNo := 0
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lineNo++
			rec, perr := ParseRecord(line)
			switch {
			case errors.Is(perr, errBlankLine):
			case perr != nil:
				l.logger.Warn("skipping malformed inbox line",
					zap.Int("line", lineNo),
					zap.Error(perr),
				)
			default:
				records = append(records, rec)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read inbox: %w", err)
		}
	}

	return records, nil
}

func withLock(f *os.File, fn func() error) error {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, unix.LOCK_EX)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("lock: %w", err)
		}
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	return fn()
}
