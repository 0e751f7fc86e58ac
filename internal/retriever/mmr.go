package retriever

import (
	"sort"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

func sortByScore(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// diversify reorders results by maximal marginal relevance: each pick
// maximizes score minus penalty times its highest similarity to an earlier
// pick. A pick that outscores its predecessor is lowered just below it so
// the output stays sorted by score.
func diversify(results []models.SearchResult, penalty float64) []models.SearchResult {
	sortByScore(results)
	if len(results) < 2 || penalty <= 0 {
		return results
	}

	remaining := append([]models.SearchResult(nil), results...)
	picked := make([]models.SearchResult, 0, len(results))

	for len(remaining) > 0 {
		best, bestIdx := 0.0, -1
		for i, cand := range remaining {
			redundancy := 0.0
			for _, p := range picked {
				if len(cand.Entry.Vector) == 0 || len(p.Entry.Vector) != len(cand.Entry.Vector) {
					continue
				}
				if sim := vector.Cosine(cand.Entry.Vector, p.Entry.Vector); sim > redundancy {
					redundancy = sim
				}
			}
			mmr := cand.Score - penalty*redundancy
			if bestIdx < 0 || mmr > best {
				best, bestIdx = mmr, i
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	for i := 1; i < len(picked); i++ {
		if prev := picked[i-1].Score; picked[i].Score > prev {
			picked[i].Score = prev * mmrDemotion
		}
	}
	return picked
}
