package store

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/textnorm"
)

// Relevance tiers of a literal match.
const (
	ScoreExact     = 1.0
	ScorePrefix    = 0.9
	ScoreWord      = 0.8
	ScoreSubstring = 0.6
	ScoreFuzzyMax  = 0.4
)

// minFuzzyOverlap is the share of query tokens that must be matched for a
// fuzzy hit.
const minFuzzyOverlap = 0.5

// LiteralQuery describes a keyword search.
type LiteralQuery struct {
	Text          string
	Sources       []models.SourceType
	CaseSensitive bool
	Fuzzy         bool
	Limit         int
	Since         time.Time // inclusive, zero is open
	Until         time.Time // exclusive, zero is open
}

// Match is a literal search hit.
type Match struct {
	Entry models.Entry
	Score float64
}

// QueryLiteral searches entry content for q.Text. Results are ordered by
// relevance tier, then by recency. Every matching entry is returned, including
// entries whose content repeats an earlier one.
func (db *DB) QueryLiteral(ctx context.Context, q LiteralQuery) ([]Match, error) {
	needle := textnorm.Prepare(strings.TrimSpace(q.Text), q.CaseSensitive)
	if needle == "" {
		return nil, nil
	}
	m := newMatcher(needle, q.CaseSensitive, q.Fuzzy)

	var candidates map[int64]struct{}
	if !q.Fuzzy {
		ids, ok, err := ftsCandidates(ctx, db.conn, needle)
		if err != nil {
			return nil, wrap("query literal", err)
		}
		if ok {
			if len(ids) == 0 {
				return nil, nil
			}
			candidates = ids
		}
	}

	scan, args := literalScan(q)
	rows, err := db.conn.QueryContext(ctx, scan, args...)
	if err != nil {
		return nil, wrap("query literal", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrap("query literal", err)
		}
		if candidates != nil {
			if _, ok := candidates[e.ID]; !ok {
				continue
			}
		}
		if score := m.score(e.Content); score > 0 {
			out = append(out, Match{Entry: e, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query literal", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ID > out[j].Entry.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func literalScan(q LiteralQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(q.Sources) > 0 {
		where = append(where, `source_type IN (`+placeholders(len(q.Sources))+`)`)
		for _, s := range q.Sources {
			args = append(args, string(s))
		}
	}
	if !q.Since.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, `created_at < ?`)
		args = append(args, q.Until.UnixNano())
	}
	sql := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, ` AND `)
	}
	return sql + ` ORDER BY id DESC`, args
}

type matcher struct {
	needle        string
	caseSensitive bool
	fuzzy         bool
	tokens        []string
}

func newMatcher(needle string, caseSensitive, fuzzy bool) *matcher {
	m := &matcher{needle: needle, caseSensitive: caseSensitive, fuzzy: fuzzy}
	if fuzzy {
		m.tokens = uniqueTokens(needle)
	}
	return m
}

func (m *matcher) score(content string) float64 {
	hay := textnorm.Prepare(content, m.caseSensitive)
	if s := tierScore(strings.TrimSpace(hay), m.needle); s > 0 {
		return s
	}
	if m.fuzzy && len(m.tokens) > 0 {
		return fuzzyScore(m.tokens, textnorm.Tokens(hay))
	}
	return 0
}

func tierScore(hay, needle string) float64 {
	switch {
	case hay == needle:
		return ScoreExact
	case strings.HasPrefix(hay, needle):
		return ScorePrefix
	}
	idx := strings.Index(hay, needle)
	if idx < 0 {
		return 0
	}
	for idx >= 0 {
		if wordBoundaryBefore(hay, idx) && wordBoundaryAfter(hay, idx+len(needle)) {
			return ScoreWord
		}
		next := strings.Index(hay[idx+1:], needle)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return ScoreSubstring
}

func wordBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func wordBoundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func uniqueTokens(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range textnorm.Tokens(s) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// fuzzyScore returns ScoreFuzzyMax scaled by the share of query tokens that
// have a close counterpart in the content, or 0 below minFuzzyOverlap.
func fuzzyScore(query, content []string) float64 {
	if len(content) == 0 {
		return 0
	}
	matched := 0
	for _, q := range query {
		for _, c := range content {
			if tokensClose(q, c) {
				matched++
				break
			}
		}
	}
	overlap := float64(matched) / float64(len(query))
	if overlap < minFuzzyOverlap {
		return 0
	}
	return ScoreFuzzyMax * overlap
}

// tokensClose reports whether a and b are equal or within the edit distance
// allowed for the query token's length: 1 for 4-7 runes, 2 for 8 or more.
func tokensClose(q, c string) bool {
	if q == c {
		return true
	}
	n := utf8.RuneCountInString(q)
	var maxDist int
	switch {
	case n >= 8:
		maxDist = 2
	case n >= 4:
		maxDist = 1
	default:
		return false
	}
	if d := n - utf8.RuneCountInString(c); d > maxDist || -d > maxDist {
		return false
	}
	return levenshtein([]rune(q), []rune(c), maxDist) <= maxDist
}

// levenshtein computes the edit distance between a and b, returning early
// with a value above limit once every cell of a row exceeds it.
func levenshtein(a, b []rune, limit int) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
