package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

// EmbeddingCacheStore persists vendor embeddings keyed by content hash and
// model, so restarts and re-imports do not pay for the same text twice.
type EmbeddingCacheStore struct {
	db  *DB
	now func() time.Time
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db, now: time.Now}
}

// Get returns the cached vector for key under model. A miss is (nil, false, nil).
func (s *EmbeddingCacheStore) Get(ctx context.Context, key, model string) ([]float32, bool, error) {
	var (
		blob []byte
		dim  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding, dimension FROM embedding_cache
		WHERE cache_key = ? AND model = ?
	`, key, model).Scan(&blob, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding cache: %w", err)
	}

	v := vector.Decode(blob)
	if len(v) != dim {
		return nil, false, nil
	}
	return v, true, nil
}

// Put upserts a cache entry.
func (s *EmbeddingCacheStore) Put(ctx context.Context, key, model string, v []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (cache_key, model, embedding, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key, model) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`, key, model, vector.Encode(v), len(v), s.now().Unix())
	if err != nil {
		return fmt.Errorf("put embedding cache: %w", err)
	}
	return nil
}

// Prune drops entries not written since before. It returns the number removed.
func (s *EmbeddingCacheStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE updated_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
