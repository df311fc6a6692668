package ingress

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pbaille/jot/internal/domain"
)

var errBlankLine = errors.New("blank line")

var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Escape makes text safe for a single tab-delimited line.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Unescape reverses Escape. Unknown escape sequences are kept verbatim.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\':
			sb.WriteByte('\\')
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// FormatRecord renders rec as one newline-terminated log line.
func FormatRecord(rec domain.CaptureRecord) string {
	return strings.Join([]string{
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Source,
		Escape(rec.Text),
	}, "\t") + "\n"
}

// ParseRecord parses one log line. Legacy lines carry only id, timestamp and
// text; their source is domain.DefaultSource.
func ParseRecord(line string) (domain.CaptureRecord, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return domain.CaptureRecord{}, errBlankLine
	}

	parts := strings.SplitN(line, "\t", 4)
	var rec domain.CaptureRecord
	var ts string
	switch len(parts) {
	case 4:
		rec.ID, ts, rec.Source, rec.Text = parts[0], parts[1], parts[2], parts[3]
	case 3:
		rec.ID, ts, rec.Text = parts[0], parts[1], parts[2]
		rec.Source = domain.DefaultSource
	default:
		return domain.CaptureRecord{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(parts))
	}

	if rec.ID == "" {
		return domain.CaptureRecord{}, fmt.Errorf("empty id")
	}

	t, err := parseTimestamp(ts)
	if err != nil {
		return domain.CaptureRecord{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Timestamp = t
	rec.Text = Unescape(rec.Text)
	if rec.Source == "" {
		rec.Source = domain.DefaultSource
	}

	return rec, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
