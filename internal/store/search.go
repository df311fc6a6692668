package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/pbaille/jot/internal/domain"
)

// column weights for ranking, in entries_fts column order
var ftsWeights = []float64{2.0, 1.0}

// SearchHit is an entry with its relevance score.
type SearchHit struct {
	domain.Entry
	Score float64 `json:"score"`
}

// Search runs a full-text query over title and body and returns hits ordered
// by relevance. Every word of query must match; a trailing '*' makes a word a
// prefix match.
func (s *Store) Search(query string, limit int) ([]SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT `+entryColumns+`, matchinfo(entries_fts, 'pcx')
		FROM entries_fts
		JOIN entries e ON e.seq = entries_fts.docid
		WHERE entries_fts MATCH ?`,
		match,
	)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}

	var hits []SearchHit
	for rows.Next() {
		var info []byte
		e, err := scanEntry(rows, &info)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, SearchHit{Entry: *e, Score: rank(info)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("search entries: %w", err)
	}
	rows.Close()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq > hits[j].Seq
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	for i := range hits {
		if err := s.loadLinks(&hits[i].Entry); err != nil {
			return nil, err
		}
	}
	return hits, nil
}

// ftsQuery quotes every word so user input cannot break the MATCH syntax.
func ftsQuery(q string) string {
	var terms []string
	for _, word := range strings.Fields(q) {
		prefix := strings.HasSuffix(word, "*")
		word = strings.Trim(word, `"*`)
		word = strings.ReplaceAll(word, `"`, "")
		if !strings.ContainsFunc(word, isWordRune) {
			continue
		}
		term := `"` + word + `"`
		if prefix {
			term = `"` + word + `*"`
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// rank scores a row from its matchinfo 'pcx' blob: for every phrase and
// column, the share of all hits for that phrase that fall in this row,
// scaled by the column weight.
func rank(info []byte) float64 {
	if len(info) < 8 {
		return 0
	}
	ints := make([]uint32, len(info)/4)
	for i := range ints {
		ints[i] = binary.NativeEndian.Uint32(info[i*4:])
	}

	phrases, cols := int(ints[0]), int(ints[1])
	var score float64
	for p := 0; p < phrases; p++ {
		for c := 0; c < cols; c++ {
			idx := 2 + 3*(p*cols+c)
			if idx+1 >= len(ints) {
				return score
			}
			hitsRow, hitsAll := ints[idx], ints[idx+1]
			if hitsAll == 0 {
				continue
			}
			weight := 1.0
			if c < len(ftsWeights) {
				weight = ftsWeights[c]
			}
			score += weight * float64(hitsRow) / float64(hitsAll)
		}
	}
	return score
}
