// Package retriever turns a query into a ranked, filtered list of memories by
// combining vector and lexical candidates and reshaping their scores.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iammorganparry/clive/apps/ltm/internal/metrics"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/noise"
)

// Store is the candidate source the retriever reads from.
type Store interface {
	VectorSearch(ctx context.Context, query []float32, limit int, minScore float64, scopeFilter []string) ([]models.SearchResult, error)
	BM25Search(ctx context.Context, query string, limit int, scopeFilter []string) []models.SearchResult
	HasFtsSupport() bool
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Params is a single retrieval request. An empty ScopeFilter means
// unrestricted. Rerank overrides the configured strategy for this call.
type Params struct {
	Query       string
	Limit       int
	ScopeFilter []string
	Category    models.Category
	Rerank      *RerankMode
}

type Retriever struct {
	store    Store
	embedder QueryEmbedder
	reranker Reranker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	config   atomic.Pointer[Config]
	now      func() time.Time
}

// New validates cfg and builds a retriever. reranker may be nil, in which
// case cross-encoder rerank always falls back to lightweight.
func New(store Store, embedder QueryEmbedder, reranker Reranker, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
	r.config.Store(&cfg)
	return r, nil
}

// GetConfig returns a copy of the active configuration.
func (r *Retriever) GetConfig() Config {
	return *r.config.Load()
}

// UpdateConfig applies fn to a copy of the active configuration and swaps it
// in if it validates. In-flight retrievals keep the snapshot they started with.
func (r *Retriever) UpdateConfig(fn func(*Config)) error {
	next := r.GetConfig()
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid retrieval config: %w", err)
	}
	r.config.Store(&next)
	r.logger.Info("retrieval config updated", "mode", next.Mode, "rerank", next.Rerank)
	return nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Retrieve runs the full pipeline and returns at most Limit results sorted by
// descending score, every one at or above the hard minimum score.
func (r *Retriever) Retrieve(ctx context.Context, p Params) ([]models.SearchResult, error) {
	start := time.Now()
	cfg := r.GetConfig()
	limit := clampLimit(p.Limit)
	pool := max(cfg.CandidatePoolSize, limit)

	queryVec, err := r.embedder.EmbedQuery(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	lexical := cfg.Mode == ModeHybrid
	if lexical && !r.store.HasFtsSupport() {
		lexical = false
		r.metrics.LexicalSkipped("no_fts")
	}

	var vectorHits, lexicalHits []models.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = r.store.VectorSearch(gctx, queryVec, pool, cfg.MinScore, p.ScopeFilter)
		return err
	})
	if lexical {
		g.Go(func() error {
			lexicalHits = r.store.BM25Search(gctx, p.Query, pool, p.ScopeFilter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := fuse(vectorHits, lexicalHits, cfg)

	if p.Category != "" {
		filtered := results[:0]
		for _, res := range results {
			if res.Entry.Category == p.Category {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}

	applyTemporal(results, cfg, r.now().UnixMilli())

	if cfg.FilterNoise {
		before := len(results)
		results = noise.Filter(results, func(res models.SearchResult) string { return res.Entry.Text }, noise.DefaultOptions())
		r.metrics.NoiseFiltered(before - len(results))
	}

	kept := results[:0]
	for _, res := range results {
		if res.Score >= cfg.HardMinScore {
			kept = append(kept, res)
		}
	}
	results = kept

	strategy := cfg.Rerank
	if p.Rerank != nil {
		strategy = *p.Rerank
	} else if cfg.Mode != ModeHybrid {
		strategy = RerankNone
	}
	if len(results) > 0 {
		r.rerank(ctx, strategy, cfg.RerankModel, p.Query, queryVec, results)
	}

	results = diversify(results, cfg.DiversityPenalty)
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Entry.Vector = nil
	}

	elapsed := time.Since(start)
	r.metrics.ObserveRetrieval(string(cfg.Mode), elapsed, len(results))
	r.logger.Debug("retrieval complete",
		"mode", cfg.Mode,
		"vector_hits", len(vectorHits),
		"lexical_hits", len(lexicalHits),
		"results", len(results),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return results, nil
}

func (r *Retriever) rerank(ctx context.Context, strategy RerankMode, model, query string, queryVec []float32, results []models.SearchResult) {
	switch strategy {
	case RerankNone:
		return
	case RerankLightweight:
		lightweightRerank(queryVec, results)
		r.metrics.Rerank(string(RerankLightweight), "ok")
		return
	}

	if r.reranker == nil {
		lightweightRerank(queryVec, results)
		r.metrics.Rerank(string(RerankCrossEncoder), "unavailable")
		return
	}
	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = res.Entry.Text
	}
	scores, err := r.reranker.Rerank(ctx, model, query, docs)
	if err != nil {
		r.logger.Warn("cross-encoder rerank failed, using lightweight rerank", "error", err)
		lightweightRerank(queryVec, results)
		r.metrics.Rerank(string(RerankCrossEncoder), "fallback")
		return
	}
	applyRerankScores(results, scores)
	r.metrics.Rerank(string(RerankCrossEncoder), "ok")
}

// TestResult reports whether a probe retrieval succeeded.
type TestResult struct {
	Success       bool   `json:"success"`
	Mode          Mode   `json:"mode"`
	HasFtsSupport bool   `json:"hasFtsSupport"`
	Error         string `json:"error,omitempty"`
}

// Test runs a one-result probe retrieval. It never returns an error.
func (r *Retriever) Test(ctx context.Context, query string) TestResult {
	if strings.TrimSpace(query) == "" {
		query = "test query"
	}
	res := TestResult{Mode: r.GetConfig().Mode, HasFtsSupport: r.store.HasFtsSupport()}
	if _, err := r.Retrieve(ctx, Params{Query: query, Limit: 1}); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}
