package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/ltm/internal/testutil"
)

const testDims = 3

// vecFor derives a deterministic vector from text length.
func vecFor(text string) []float64 {
	n := float64(len(text))
	return []float64{n, 1, 0}
}

type fakeVendor struct {
	*httptest.Server
	requests atomic.Int64
	mu       sync.Mutex
	bodies   []map[string]any
	status   atomic.Int64
	dims     atomic.Int64
}

func (f *fakeVendor) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return nil
	}
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeVendor) record(r *http.Request) (map[string]any, []string) {
	f.requests.Add(1)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	var inputs []string
	if arr, ok := body["input"].([]any); ok {
		for _, in := range arr {
			inputs = append(inputs, in.(string))
		}
	}
	return body, inputs
}

func (f *fakeVendor) vector(text string) []float64 {
	v := vecFor(text)
	if dims := int(f.dims.Load()); dims > 0 {
		return append(v, make([]float64, dims-len(v))...)
	}
	return v
}

// newOpenAIVendor serves the /embeddings protocol.
func newOpenAIVendor(t *testing.T) *fakeVendor {
	f := &fakeVendor{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		_, inputs := f.record(r)
		if status := int(f.status.Load()); status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"vendor exploded","type":"server_error"}}`))
			return
		}
		data := make([]map[string]any, len(inputs))
		for i, in := range inputs {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": f.vector(in)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "fake",
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(f.Close)
	return f
}

// newOllamaVendor serves /api/embed.
func newOllamaVendor(t *testing.T) *fakeVendor {
	f := &fakeVendor{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		_, inputs := f.record(r)
		if status := int(f.status.Load()); status != 0 {
			http.Error(w, "model not found", status)
			return
		}
		out := make([][]float64, len(inputs))
		for i, in := range inputs {
			out[i] = f.vector(in)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestEmbedder(t *testing.T, cfg Config) *Embedder {
	t.Helper()
	if cfg.Dimensions == 0 {
		cfg.Dimensions = testDims
	}
	e, err := New(cfg, testutil.Logger(), nil)
	require.NoError(t, err)
	return e
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Vendor: "acme", Dimensions: 3}, testutil.Logger(), nil)
	assert.Error(t, err)

	_, err = New(Config{Vendor: VendorJina, Dimensions: 3}, testutil.Logger(), nil)
	assert.ErrorContains(t, err, "api key")

	e, err := New(Config{Vendor: VendorOllama}, testutil.Logger(), nil)
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimensions())
	assert.Equal(t, "nomic-embed-text", e.Model())
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	vendor := newOllamaVendor(t)
	e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})

	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := e.EmbedQuery(context.Background(), in)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Zero(t, vendor.requests.Load())
}

func TestEmbedUsesCache(t *testing.T) {
	vendor := newOllamaVendor(t)
	e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})
	ctx := context.Background()

	first, err := e.EmbedPassage(ctx, "prefers dark mode")
	require.NoError(t, err)
	second, err := e.EmbedPassage(ctx, "prefers dark mode")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), vendor.requests.Load())

	st := e.CacheStats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestOllamaTaskPrefixes(t *testing.T) {
	vendor := newOllamaVendor(t)
	e := newTestEmbedder(t, Config{
		Vendor:      VendorOllama,
		BaseURL:     vendor.URL,
		TaskQuery:   "search_query: ",
		TaskPassage: "search_document: ",
	})
	ctx := context.Background()

	q, err := e.EmbedQuery(ctx, "tea")
	require.NoError(t, err)
	assert.Equal(t, []any{"search_query: tea"}, vendor.lastBody()["input"])

	p, err := e.EmbedPassage(ctx, "tea")
	require.NoError(t, err)
	assert.Equal(t, []any{"search_document: tea"}, vendor.lastBody()["input"])
	assert.NotEqual(t, q, p, "query and passage encodings are cached separately")
}

func TestOpenAICompatibleTaskField(t *testing.T) {
	vendor := newOpenAIVendor(t)
	e := newTestEmbedder(t, Config{Vendor: VendorJina, APIKey: "k", BaseURL: vendor.URL})
	ctx := context.Background()

	_, err := e.EmbedQuery(ctx, "what database")
	require.NoError(t, err)
	assert.Equal(t, "retrieval.query", vendor.lastBody()["task"])

	_, err = e.EmbedPassage(ctx, "uses postgres")
	require.NoError(t, err)
	assert.Equal(t, "retrieval.passage", vendor.lastBody()["task"])
	assert.Equal(t, "jina-embeddings-v3", vendor.lastBody()["model"])

	_, err = e.Embed(ctx, "generic")
	require.NoError(t, err)
	_, hasTask := vendor.lastBody()["task"]
	assert.False(t, hasTask)
}

func TestEmbedBatchKeepsAlignment(t *testing.T) {
	vendor := newOpenAIVendor(t)
	e := newTestEmbedder(t, Config{Vendor: VendorOpenAI, APIKey: "k", BaseURL: vendor.URL, BatchSize: 2})
	ctx := context.Background()

	_, err := e.EmbedPassage(ctx, "cached")
	require.NoError(t, err)

	texts := []string{"alpha", "", "cached", "  ", "gamma!", "delta--"}
	out, err := e.EmbedBatchPassage(ctx, texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))

	assert.Empty(t, out[1])
	assert.Empty(t, out[3])
	for _, i := range []int{0, 2, 4, 5} {
		require.Len(t, out[i], testDims)
		assert.Equal(t, float32(len(texts[i])), out[i][0], "vector %d misaligned", i)
	}
	// 1 single call + 3 misses in chunks of 2.
	assert.Equal(t, int64(3), vendor.requests.Load())
}

func TestVendorErrors(t *testing.T) {
	t.Run("openai status", func(t *testing.T) {
		vendor := newOpenAIVendor(t)
		vendor.status.Store(http.StatusInternalServerError)
		e := newTestEmbedder(t, Config{Vendor: VendorOpenAI, APIKey: "k", BaseURL: vendor.URL})

		_, err := e.EmbedQuery(context.Background(), "hello")
		var ve *VendorError
		require.True(t, errors.As(err, &ve), "got %v", err)
		assert.Equal(t, http.StatusInternalServerError, ve.Status)
		assert.Equal(t, "openai", ve.Provider)
	})

	t.Run("ollama status", func(t *testing.T) {
		vendor := newOllamaVendor(t)
		vendor.status.Store(http.StatusNotFound)
		e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})

		_, err := e.EmbedPassage(context.Background(), "hello")
		var ve *VendorError
		require.True(t, errors.As(err, &ve), "got %v", err)
		assert.Equal(t, http.StatusNotFound, ve.Status)
		assert.Contains(t, ve.Error(), "model not found")
	})

	t.Run("unreachable", func(t *testing.T) {
		e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: "http://127.0.0.1:1"})
		_, err := e.EmbedPassage(context.Background(), "hello")
		var ve *VendorError
		require.True(t, errors.As(err, &ve), "got %v", err)
		assert.Zero(t, ve.Status)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		vendor := newOllamaVendor(t)
		vendor.dims.Store(5)
		e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})

		_, err := e.EmbedPassage(context.Background(), "hello")
		var dm *DimensionMismatchError
		require.True(t, errors.As(err, &dm), "got %v", err)
		assert.Equal(t, testDims, dm.Expected)
		assert.Equal(t, 5, dm.Got)

		_, err = e.EmbedPassage(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrDimensionMismatch, "failed results are not cached")
	})
}

func TestEmbedderTest(t *testing.T) {
	vendor := newOllamaVendor(t)
	e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})

	res := e.Test(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, testDims, res.Dimensions)

	vendor.status.Store(http.StatusServiceUnavailable)
	res = e.Test(context.Background())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
	fail error
}

func (m *mapCache) Get(_ context.Context, key, model string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, false, m.fail
	}
	v, ok := m.data[model+"/"+key]
	return v, ok, nil
}

func (m *mapCache) Put(_ context.Context, key, model string, v []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[model+"/"+key] = v
	return nil
}

func TestPersistentCacheSurvivesRestart(t *testing.T) {
	vendor := newOllamaVendor(t)
	pc := &mapCache{data: map[string][]float32{}}
	ctx := context.Background()

	first := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})
	first.UsePersistentCache(pc)
	want, err := first.EmbedPassage(ctx, "deploys happen on fridays")
	require.NoError(t, err)
	require.Equal(t, int64(1), vendor.requests.Load())

	restarted := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})
	restarted.UsePersistentCache(pc)
	got, err := restarted.EmbedBatchPassage(ctx, []string{"deploys happen on fridays"})
	require.NoError(t, err)
	assert.Equal(t, want, got[0])
	assert.Equal(t, int64(1), vendor.requests.Load())

	// Another model never sees these vectors.
	other := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL, Model: "mxbai-embed-large"})
	other.UsePersistentCache(pc)
	_, err = other.EmbedPassage(ctx, "deploys happen on fridays")
	require.NoError(t, err)
	assert.Equal(t, int64(2), vendor.requests.Load())
}

func TestPersistentCacheFailureIsAMiss(t *testing.T) {
	vendor := newOllamaVendor(t)
	pc := &mapCache{data: map[string][]float32{}, fail: errors.New("disk full")}
	e := newTestEmbedder(t, Config{Vendor: VendorOllama, BaseURL: vendor.URL})
	e.UsePersistentCache(pc)

	_, err := e.EmbedQuery(context.Background(), "which region hosts staging")
	require.NoError(t, err)
	assert.Equal(t, int64(1), vendor.requests.Load())
}
