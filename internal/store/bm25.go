package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

const maxQueryTerms = 32

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// BM25Search ranks entries lexically through the FTS5 index. It never fails:
// a missing index, a query without searchable terms, or a backend error all
// yield an empty result.
func (s *MemoryStore) BM25Search(ctx context.Context, query string, limit int, scopeFilter []string) []models.SearchResult {
	if !s.db.HasFTS() {
		return nil
	}
	match := MatchExpression(query)
	if match == "" {
		return nil
	}
	limit = clampLimit(limit)

	where, scopeArgs := scopeClause("m.scope", scopeFilter)
	args := make([]any, 0, len(scopeArgs)+2)
	args = append(args, match)
	args = append(args, scopeArgs...)
	args = append(args, limit)

	// bm25() returns negative values where more negative = better match,
	// so we negate to get positive scores where higher = better.
	q := fmt.Sprintf(`
		SELECT m.id, m.text, m.vector, m.category, m.scope, m.importance, m.timestamp, m.metadata,
		       -bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND %s
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logger.Warn("bm25 search failed", "error", err)
		return nil
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var raw float64
		e, err := scanEntry(scanWithScore{rows: rows, score: &raw})
		if err != nil {
			s.logger.Warn("scan bm25 result", "error", err)
			return nil
		}
		score := NormalizeBM25(raw)
		results = append(results, models.SearchResult{
			Entry:   *e,
			Score:   score,
			Sources: models.Sources{BM25: &models.SourceHit{Score: score, Rank: len(results) + 1}},
		})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("bm25 search failed", "error", err)
		return nil
	}
	return results
}

// NormalizeBM25 maps a raw (positive-is-better) BM25 score onto (0, 1): a raw
// score of 0 maps to 0.5 and higher raw scores approach 1.
func NormalizeBM25(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0.5
	}
	return 1 / (1 + math.Exp(-raw))
}

// MatchExpression turns free text into an FTS5 query that ORs every quoted
// term, so punctuation in user input never reaches the FTS parser.
func MatchExpression(query string) string {
	terms := termPattern.FindAllString(strings.ToLower(query), -1)
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
		if len(quoted) == maxQueryTerms {
			break
		}
	}
	return strings.Join(quoted, " OR ")
}

// scanWithScore appends the trailing score column to a scanEntry call.
type scanWithScore struct {
	rows  scanner
	score *float64
}

func (s scanWithScore) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.score)...)
}
