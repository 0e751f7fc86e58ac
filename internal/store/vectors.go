package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

// VectorSearch scans the entries visible under scopeFilter and returns the
// closest ones by cosine distance, scored 1/(1+distance). Results below
// minScore are dropped and limit is clamped to [1, 20].
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float32, limit int, minScore float64, scopeFilter []string) ([]models.SearchResult, error) {
	if len(query) != s.dimensions {
		return nil, &DimensionMismatchError{Expected: s.dimensions, Got: len(query)}
	}
	limit = clampLimit(limit)

	where, args := scopeClause("scope", scopeFilter)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE %s`, memoryColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vector candidate: %w", err)
		}
		if len(e.Vector) != len(query) {
			s.logger.Warn("skipping memory with mismatched vector", "id", e.ID, "dimensions", len(e.Vector))
			continue
		}
		score := vector.Similarity(vector.Distance(query, e.Vector))
		if score < minScore {
			continue
		}
		results = append(results, models.SearchResult{Entry: *e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Sources.Vector = &models.SourceHit{Score: results[i].Score, Rank: i + 1}
	}
	return results, nil
}
