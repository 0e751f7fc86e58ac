package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iammorganparry/clive/apps/ltm/internal/metrics"
)

// Embedder is the Provider shared by every vendor: it validates input,
// consults the cache, batches requests and checks returned dimensions.
type Embedder struct {
	client     client
	cache      *Cache
	model      string
	dimensions int
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	persistent PersistentCache
}

// PersistentCache is a durable tier behind the in-memory cache, keyed by
// cache key and model.
type PersistentCache interface {
	Get(ctx context.Context, key, model string) ([]float32, bool, error)
	Put(ctx context.Context, key, model string, v []float32) error
}

// UsePersistentCache adds pc as a second cache tier. Call before serving.
func (e *Embedder) UsePersistentCache(pc PersistentCache) {
	e.persistent = pc
}

var _ Provider = (*Embedder)(nil)

func newEmbedder(c client, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.CacheSize
	if size < 0 {
		size = 0
	}
	return &Embedder{
		client:     c,
		cache:      NewCache(size, cfg.CacheTTL),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) CacheStats() CacheStats { return e.cache.Stats() }

// Embed encodes text without a task hint.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, text, InputGeneric)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, text, InputQuery)
}

func (e *Embedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, text, InputPassage)
}

func (e *Embedder) EmbedBatchQuery(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedMany(ctx, texts, InputQuery)
}

func (e *Embedder) EmbedBatchPassage(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedMany(ctx, texts, InputPassage)
}

func (e *Embedder) embedOne(ctx context.Context, text string, input InputType) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if v, ok := e.lookup(ctx, text, input); ok {
		return v, nil
	}

	vecs, err := e.call(ctx, []string{text}, input)
	if err != nil {
		return nil, err
	}
	e.remember(ctx, text, input, vecs[0])
	return vecs[0], nil
}

// lookup checks the memory tier, then the persistent tier. Persistent
// failures are logged and treated as misses.
func (e *Embedder) lookup(ctx context.Context, text string, input InputType) ([]float32, bool) {
	if v, ok := e.cache.Get(text, input); ok {
		e.metrics.CacheHit()
		return v, true
	}
	if e.persistent != nil {
		v, ok, err := e.persistent.Get(ctx, cacheKey(text, input), e.model)
		if err != nil {
			e.logger.Warn("persistent embedding cache read failed", "error", err)
		} else if ok && len(v) == e.dimensions {
			e.metrics.CacheHit()
			e.cache.Set(text, input, v)
			return v, true
		}
	}
	e.metrics.CacheMiss()
	return nil, false
}

func (e *Embedder) remember(ctx context.Context, text string, input InputType, v []float32) {
	e.cache.Set(text, input, v)
	if e.persistent != nil {
		if err := e.persistent.Put(ctx, cacheKey(text, input), e.model, v); err != nil {
			e.logger.Warn("persistent embedding cache write failed", "error", err)
		}
	}
}

// embedMany keeps index alignment with texts. Empty entries get an empty
// placeholder vector and are never sent to the vendor.
func (e *Embedder) embedMany(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = []float32{}
			continue
		}
		if v, ok := e.lookup(ctx, t, input); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(missing))
		chunk := make([]string, 0, end-start)
		for _, idx := range missing[start:end] {
			chunk = append(chunk, texts[idx])
		}

		vecs, err := e.call(ctx, chunk, input)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		for j, idx := range missing[start:end] {
			out[idx] = vecs[j]
			e.remember(ctx, texts[idx], input, vecs[j])
		}
	}
	return out, nil
}

// call runs one bounded vendor request and validates the response shape.
func (e *Embedder) call(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	vecs, err := e.client.embed(ctx, texts, input)
	provider := string(e.client.vendor())
	if err != nil {
		var ve *VendorError
		if errors.As(err, &ve) {
			e.metrics.VendorRequest(provider, ve.Status)
		} else {
			e.metrics.VendorRequest(provider, 0)
		}
		e.logger.Warn("embedding request failed", "provider", provider, "texts", len(texts), "error", err)
		return nil, err
	}
	e.metrics.VendorRequest(provider, 200)

	if len(vecs) != len(texts) {
		return nil, &VendorError{
			Provider: provider,
			Message:  fmt.Sprintf("returned %d embeddings for %d inputs", len(vecs), len(texts)),
		}
	}
	for _, v := range vecs {
		if len(v) != e.dimensions {
			return nil, &DimensionMismatchError{Expected: e.dimensions, Got: len(v)}
		}
	}
	return vecs, nil
}

// TestResult reports a connectivity probe.
type TestResult struct {
	Success    bool   `json:"success"`
	Dimensions int    `json:"dimensions,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Test embeds a fixed probe text, bypassing the cache.
func (e *Embedder) Test(ctx context.Context) TestResult {
	vecs, err := e.call(ctx, []string{"embedding connectivity test"}, InputPassage)
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	return TestResult{Success: true, Dimensions: len(vecs[0])}
}
