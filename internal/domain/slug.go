package domain

import (
	"strings"
	"unicode"
)

const maxSlugLen = 50

// Slugify lowercases s and collapses every run of non-alphanumerics into one dash.
// "Sarah Chen" becomes "sarah-chen".
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			dash = false
			sb.WriteRune(r)
			continue
		}
		dash = true
	}

	slug := sb.String()
	if r := []rune(slug); len(r) > maxSlugLen {
		slug = strings.TrimRight(string(r[:maxSlugLen]), "-")
	}
	return slug
}

// NameFromSlug turns "sarah-chen" back into "Sarah Chen".
func NameFromSlug(slug string) string {
	parts := strings.Split(slug, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

// NormalizeTag trims a tag, drops a leading '#', and lowercases it.
func NormalizeTag(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
