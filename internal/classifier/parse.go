package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pbaille/jot/internal/domain"
)

const maxTitleLen = 100

// reply mirrors the JSON object the backend is asked for. Pointers tell a
// missing field apart from a zero value.
type reply struct {
	Type       string   `json:"type"`
	Title      *string  `json:"title"`
	Body       *string  `json:"body"`
	Confidence *float64 `json:"confidence"`
	Tags       []string `json:"tags"`
	Project    *string  `json:"project"`
	People     []string `json:"people"`
	DueDate    *string  `json:"due_date"`
	Priority   *string  `json:"priority"`
}

// parseReply decodes and validates a backend reply. Every failure is a
// *SchemaError.
func parseReply(raw string) (domain.ClassificationResult, error) {
	var res domain.ClassificationResult

	text := stripFences(raw)
	if text == "" {
		return res, &SchemaError{Reason: "empty reply"}
	}

	var r reply
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return res, &SchemaError{Reason: "decode json", Err: err}
	}

	typ, ok := domain.ParseEntryType(r.Type)
	if !ok {
		return res, &SchemaError{Reason: fmt.Sprintf("invalid type %q", r.Type)}
	}
	if r.Confidence == nil {
		return res, &SchemaError{Reason: "missing confidence"}
	}
	if c := *r.Confidence; c < 0 || c > 1 {
		return res, &SchemaError{Reason: fmt.Sprintf("confidence %v out of range", c)}
	}
	if r.Title == nil || strings.TrimSpace(*r.Title) == "" {
		return res, &SchemaError{Reason: "missing title"}
	}
	title := strings.TrimSpace(*r.Title)
	if utf8.RuneCountInString(title) > maxTitleLen {
		return res, &SchemaError{Reason: fmt.Sprintf("title longer than %d characters", maxTitleLen)}
	}

	res = domain.ClassificationResult{
		Type:       typ,
		Title:      title,
		Body:       strings.TrimSpace(deref(r.Body)),
		Confidence: *r.Confidence,
		Tags:       normalizeTags(r.Tags),
		Project:    domain.Slugify(deref(r.Project)),
		People:     normalizePeople(r.People),
		DueDate:    normalizeDate(deref(r.DueDate)),
		Priority:   domain.NormalizePriority(deref(r.Priority)),
		Status:     domain.StatusClassified,
	}
	return res, nil
}

// stripFences removes a surrounding ``` block, with or without a language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return ""
	}
	return s
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tags {
		t = domain.NormalizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func normalizePeople(people []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range people {
		p = domain.Slugify(strings.TrimPrefix(strings.TrimSpace(p), "@"))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
