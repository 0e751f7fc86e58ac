package retriever

import (
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

// fuse merges vector and lexical candidates by id. Entries found by both get
// the weighted sum plus the dual-hit bonus; single-source entries keep their
// own score. Vector order comes first, then lexical-only entries.
func fuse(vectorHits, lexicalHits []models.SearchResult, cfg Config) []models.SearchResult {
	merged := make(map[string]*models.SearchResult, len(vectorHits)+len(lexicalHits))
	order := make([]string, 0, len(vectorHits)+len(lexicalHits))

	addOrUpdate := func(r models.SearchResult) {
		existing, ok := merged[r.Entry.ID]
		if !ok {
			cp := r
			merged[r.Entry.ID] = &cp
			order = append(order, r.Entry.ID)
			return
		}
		if r.Sources.Vector != nil {
			existing.Sources.Vector = r.Sources.Vector
		}
		if r.Sources.BM25 != nil {
			existing.Sources.BM25 = r.Sources.BM25
		}
		if len(existing.Entry.Vector) == 0 {
			existing.Entry.Vector = r.Entry.Vector
		}
	}

	for _, r := range vectorHits {
		addOrUpdate(r)
	}
	for _, r := range lexicalHits {
		addOrUpdate(r)
	}

	out := make([]models.SearchResult, 0, len(order))
	for _, id := range order {
		r := merged[id]
		v, b := r.Sources.Vector, r.Sources.BM25
		if v != nil && b != nil {
			score := cfg.VectorWeight*v.Score + cfg.BM25Weight*b.Score + cfg.DualHitBonus
			if score > 1 {
				score = 1
			}
			r.Score = score
			r.Sources.Fused = &models.SourceHit{Score: score}
		}
		out = append(out, *r)
	}
	return out
}
