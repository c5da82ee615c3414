package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SearchResult pairs a matching URI with a snippet of the body around the
// first match.
type SearchResult struct {
	URI        string `json:"uri"`
	Snippet    string `json:"snippet"`
	Priority   int    `json:"priority"`
	Disclosure string `json:"disclosure,omitempty"`
}

// snippetRadius is how many characters of context surround a body match.
const snippetRadius = 30

// Search finds paths whose URI or body contains the keyword,
// case-insensitively.
func (s *Store) Search(ctx context.Context, keyword string) ([]SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("empty search keyword: %w", ErrInvalidOperation)
	}

	pattern := "%" + escapeLike(keyword) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.domain, p.path, p.priority, p.disclosure, c.body
		FROM paths p JOIN contents c ON c.id = p.content_id
		WHERE c.body LIKE ? ESCAPE '\' OR (p.domain || '://' || p.path) LIKE ? ESCAPE '\'
		ORDER BY p.priority, p.domain, p.path
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		var domain, path, body string
		if err := rows.Scan(&domain, &path, &r.Priority, &r.Disclosure, &body); err != nil {
			return nil, err
		}
		r.URI = domain + "://" + path
		r.Snippet = snippetAround(body, keyword)
		results = append(results, r)
	}
	return results, rows.Err()
}

// snippetAround extracts up to snippetRadius characters either side of the
// first case-insensitive match. When the keyword only matched the URI, the
// start of the body is returned instead.
func snippetAround(body, keyword string) string {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(keyword))
	if idx < 0 {
		if len(body) > 2*snippetRadius {
			return body[:runeFloor(body, 2*snippetRadius)] + "..."
		}
		return body
	}

	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	start = runeFloor(body, start)
	end := idx + len(keyword) + snippetRadius
	if end > len(body) {
		end = len(body)
	}
	end = runeFloor(body, end)

	snippet := body[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(body) {
		snippet = snippet + "..."
	}
	return snippet
}

// runeFloor walks a byte offset back to the nearest rune boundary so that
// slicing never splits a multi-byte character.
func runeFloor(s string, offset int) int {
	for offset > 0 && offset < len(s) && !utf8.RuneStart(s[offset]) {
		offset--
	}
	return offset
}

// escapeLike backslash-escapes the LIKE wildcards in a literal fragment.
func escapeLike(fragment string) string {
	fragment = strings.ReplaceAll(fragment, `\`, `\\`)
	fragment = strings.ReplaceAll(fragment, `%`, `\%`)
	fragment = strings.ReplaceAll(fragment, `_`, `\_`)
	return fragment
}
