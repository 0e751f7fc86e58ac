package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/ltm/internal/embedding"
	"github.com/iammorganparry/clive/apps/ltm/internal/memory"
	"github.com/iammorganparry/clive/apps/ltm/internal/metrics"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/retriever"
	"github.com/iammorganparry/clive/apps/ltm/internal/scopes"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
	"github.com/iammorganparry/clive/apps/ltm/internal/testutil"
)

const testDims = 64

type stubEmbedder struct{ err string }

func (p stubEmbedder) Test(context.Context) embedding.TestResult {
	if p.err != "" {
		return embedding.TestResult{Error: p.err}
	}
	return embedding.TestResult{Success: true, Dimensions: testDims}
}

type testServer struct {
	handler http.Handler
	emb     *testutil.VocabEmbedder
}

func newTestServer(t *testing.T, apiKey string, p stubEmbedder) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"), testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	emb := testutil.NewVocabEmbedder(testDims)
	memories := store.NewMemoryStore(db, testDims, testutil.Logger())
	r, err := retriever.New(memories, emb, nil, retriever.DefaultConfig(), testutil.Logger(), m)
	require.NoError(t, err)
	sm, err := scopes.NewManager(scopes.Config{})
	require.NoError(t, err)

	svc := memory.NewService(memories, emb, r, sm, testutil.Logger())
	h := NewRouter(Deps{
		DB:          db,
		Service:     svc,
		Embedder:    p,
		Gatherer:    reg,
		APIKey:      apiKey,
		CORSOrigins: []string{"*"},
		Logger:      testutil.Logger(),
	})
	return &testServer{handler: h, emb: emb}
}

func (s *testServer) do(t *testing.T, method, path, agent string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if agent != "" {
		req.Header.Set(AgentHeader, agent)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s := newTestServer(t, "", stubEmbedder{})
		rec := s.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[models.HealthResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Embedding.Status)
		assert.Equal(t, "ok", resp.Retrieval.Status)
		assert.Equal(t, "ok", resp.DB.Status)
	})

	t.Run("degraded when embedding vendor fails", func(t *testing.T) {
		s := newTestServer(t, "", stubEmbedder{err: "connection refused"})
		rec := s.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		resp := decode[models.HealthResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "connection refused", resp.Embedding.Message)
	})
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "secret", stubEmbedder{})

	rec := s.do(t, http.MethodGet, "/memories", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/memories", nil)
	req.Header.Set("Authorization", "Bearer secret")
	ok := httptest.NewRecorder()
	s.handler.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	// health stays public
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestMemoryLifecycle(t *testing.T) {
	s := newTestServer(t, "", stubEmbedder{})

	rec := s.do(t, http.MethodPost, "/memories", "claude", models.StoreRequest{
		Text:     "The deploy pipeline runs on GitHub Actions",
		Category: models.CategoryFact,
		Scope:    "agent:claude",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stored := decode[models.StoreResponse](t, rec)
	assert.Equal(t, "agent:claude", stored.Scope)

	// Same text again is a duplicate.
	rec = s.do(t, http.MethodPost, "/memories", "claude", models.StoreRequest{
		Text:     "The deploy pipeline runs on GitHub Actions",
		Category: models.CategoryFact,
		Scope:    "agent:claude",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decode[models.StoreResponse](t, rec)
	assert.True(t, dup.Deduplicated)
	assert.Equal(t, stored.ID, dup.ID)

	rec = s.do(t, http.MethodPost, "/memories/search", "claude", models.SearchRequest{Query: "deploy pipeline", Limit: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decode[models.SearchResponse](t, rec)
	require.NotEmpty(t, found.Results)
	assert.Equal(t, stored.ID, found.Results[0].Entry.ID)
	assert.Nil(t, found.Results[0].Entry.Vector)

	rec = s.do(t, http.MethodGet, "/memories/"+stored.ID[:8], "claude", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stored.ID, decode[models.Entry](t, rec).ID)

	rec = s.do(t, http.MethodPatch, "/memories/"+stored.ID, "claude", map[string]any{"importance": 0.9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 0.9, decode[models.Entry](t, rec).Importance, 1e-9)

	rec = s.do(t, http.MethodDelete, "/memories/"+stored.ID, "claude", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/memories/"+stored.ID, "claude", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreSkipped(t *testing.T) {
	s := newTestServer(t, "", stubEmbedder{})
	rec := s.do(t, http.MethodPost, "/memories", "", models.StoreRequest{Text: "<private>api token</private>"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[models.StoreResponse](t, rec)
	assert.True(t, resp.Skipped)
	assert.Equal(t, 0, s.emb.Calls())
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, "", stubEmbedder{})

	other := s.do(t, http.MethodPost, "/memories", "bob", models.StoreRequest{Text: "Bob keeps his notes in Obsidian vaults", Scope: "agent:bob"})
	require.Equal(t, http.StatusCreated, other.Code)
	bobID := decode[models.StoreResponse](t, other).ID

	tests := []struct {
		name   string
		method string
		path   string
		agent  string
		body   any
		want   int
	}{
		{"missing text", http.MethodPost, "/memories", "", map[string]any{"category": "fact"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/memories", "", map[string]any{"text": "valid text here", "bogus": 1}, http.StatusBadRequest},
		{"bad category", http.MethodPost, "/memories", "", map[string]any{"text": "Postgres is the primary database", "category": "gossip"}, http.StatusBadRequest},
		{"empty query", http.MethodPost, "/memories/search", "", map[string]any{"query": ""}, http.StatusBadRequest},
		{"bad rerank", http.MethodPost, "/memories/search", "", map[string]any{"query": "database", "rerank": "magic"}, http.StatusBadRequest},
		{"foreign scope store", http.MethodPost, "/memories", "alice", map[string]any{"text": "Alice prefers tabs over spaces", "scope": "agent:bob"}, http.StatusForbidden},
		{"foreign scope read", http.MethodGet, "/memories/" + bobID, "alice", nil, http.StatusForbidden},
		{"short prefix", http.MethodGet, "/memories/abc", "", nil, http.StatusBadRequest},
		{"unknown id", http.MethodDelete, "/memories/00000000-0000-0000-0000-000000000000", "", nil, http.StatusNotFound},
		{"import without memories", http.MethodPost, "/memories/import", "", map[string]any{"memories": []any{}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.agent, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &store.ValidationError{Field: "scope", Message: "bad"}, http.StatusBadRequest},
		{"empty input", embedding.ErrEmptyInput, http.StatusBadRequest},
		{"access denied", &store.AccessDeniedError{Scope: "agent:x"}, http.StatusForbidden},
		{"not found", memory.ErrNotFound, http.StatusNotFound},
		{"ambiguous", store.ErrAmbiguousPrefix, http.StatusConflict},
		{"vendor", &embedding.VendorError{Provider: "openai", Status: 500}, http.StatusBadGateway},
		{"other", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestListStatsAndBulkDelete(t *testing.T) {
	s := newTestServer(t, "", stubEmbedder{})
	for _, text := range []string{
		"Redis caches session tokens for an hour",
		"The billing service is written in Kotlin",
		"Frontend builds use Vite and pnpm",
	} {
		rec := s.do(t, http.MethodPost, "/memories", "", models.StoreRequest{Text: text, Scope: models.GlobalScope})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/memories?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.ListResponse](t, rec)
	assert.Len(t, list.Memories, 2)
	assert.Equal(t, 2, list.Limit)

	rec = s.do(t, http.MethodGet, "/memories/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.Stats](t, rec)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 3, stats.ScopeCounts[models.GlobalScope])

	rec = s.do(t, http.MethodPost, "/memories/bulk-delete", "", models.BulkDeleteRequest{Scopes: []string{models.GlobalScope}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[models.BulkDeleteResponse](t, rec).Deleted)
}

func TestExportImport(t *testing.T) {
	src := newTestServer(t, "", stubEmbedder{})
	rec := src.do(t, http.MethodPost, "/memories", "", models.StoreRequest{Text: "Staging runs in eu-west-1", Scope: models.GlobalScope})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = src.do(t, http.MethodGet, "/memories/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ltm-export-")
	doc := decode[models.ExportDocument](t, rec)
	require.Equal(t, 1, doc.Count)

	dst := newTestServer(t, "", stubEmbedder{})
	rec = dst.do(t, http.MethodPost, "/memories/import", "", models.ImportRequest{Memories: doc.Memories})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	imported := decode[models.ImportResponse](t, rec)
	assert.Equal(t, 1, imported.Imported)
	assert.Equal(t, 1, imported.Reembedded)

	rec = dst.do(t, http.MethodPost, "/memories/reembed", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.ReembedResponse](t, rec).Processed)
}

func TestRetrievalConfig(t *testing.T) {
	s := newTestServer(t, "", stubEmbedder{})

	rec := s.do(t, http.MethodGet, "/retrieval/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retriever.DefaultConfig(), decode[retriever.Config](t, rec))

	rec = s.do(t, http.MethodPatch, "/retrieval/config", "", map[string]any{"mode": "vector", "minScore": 0.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decode[retriever.Config](t, rec)
	assert.Equal(t, retriever.ModeVector, cfg.Mode)
	assert.InDelta(t, 0.5, cfg.MinScore, 1e-9)
	assert.InDelta(t, 0.7, cfg.VectorWeight, 1e-9)

	rec = s.do(t, http.MethodPatch, "/retrieval/config", "", map[string]any{"vectorWeight": 0.9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/retrieval/config", "", nil)
	assert.Equal(t, retriever.ModeVector, decode[retriever.Config](t, rec).Mode)
	assert.InDelta(t, 0.7, decode[retriever.Config](t, rec).VectorWeight, 1e-9)
}

func TestCORSAndMetrics(t *testing.T) {
	s := newTestServer(t, "", stubEmbedder{})

	req := httptest.NewRequest(http.MethodOptions, "/memories", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/memories/search", "", models.SearchRequest{Query: "anything"}).Code)
	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ltm_retrieval")
}
