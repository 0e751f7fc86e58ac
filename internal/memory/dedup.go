package memory

import (
	"context"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

const (
	// DuplicateThreshold is the cosine similarity at or above which a new
	// memory is treated as already stored.
	DuplicateThreshold = 0.98
	// NearDuplicateThreshold starts the band that is stored but flagged.
	NearDuplicateThreshold = 0.90

	// dedupCandidates covers unscoped rows that the scope predicate also admits.
	dedupCandidates = 5
)

// DedupResult captures the outcome of a duplicate check.
type DedupResult struct {
	// DuplicateID blocks storage: the existing entry is returned instead.
	DuplicateID string
	// NearDuplicateID does not block storage but signals a similar memory.
	NearDuplicateID   string
	NearDupSimilarity float64
}

// Deduplicator compares a new vector with the closest entry in its scope.
type Deduplicator struct {
	memories     *store.MemoryStore
	threshold    float64
	nearDupLower float64
}

func NewDeduplicator(memories *store.MemoryStore) *Deduplicator {
	return &Deduplicator{
		memories:     memories,
		threshold:    DuplicateThreshold,
		nearDupLower: NearDuplicateThreshold,
	}
}

// Check looks only inside scope, so the same fact may live in two scopes.
func (d *Deduplicator) Check(ctx context.Context, vec []float32, scope string) (*DedupResult, error) {
	result := &DedupResult{}
	hits, err := d.memories.VectorSearch(ctx, vec, dedupCandidates, 0, []string{scope})
	if err != nil {
		return nil, err
	}
	var best *models.Entry
	for i := range hits {
		if hits[i].Entry.Scope == scope {
			best = &hits[i].Entry
			break
		}
	}
	if best == nil {
		return result, nil
	}

	sim := vector.Cosine(vec, best.Vector)
	switch {
	case sim >= d.threshold:
		result.DuplicateID = best.ID
	case sim >= d.nearDupLower:
		result.NearDuplicateID = best.ID
		result.NearDupSimilarity = sim
	}
	return result, nil
}
