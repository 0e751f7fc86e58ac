package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/ltm/internal/config"
	"github.com/iammorganparry/clive/apps/ltm/internal/embedding"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/testutil"
)

const fakeDims = 8

// fakeOllama answers /api/embed with a vector derived from each input's length.
func fakeOllama(t *testing.T) (*httptest.Server, *atomic.Int64) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]float64, len(req.Input))
		for i, in := range req.Input {
			v := make([]float64, fakeDims)
			v[len(in)%fakeDims] = 1
			v[0] += 0.1
			out[i] = v
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "app.db")
	cfg.Embedding = embedding.Config{Vendor: embedding.VendorOllama, BaseURL: baseURL, Dimensions: fakeDims}.WithDefaults()
	return cfg
}

func TestAppServesMemories(t *testing.T) {
	vendor, calls := fakeOllama(t)
	cfg := testConfig(t, vendor.URL)

	a, err := New(cfg, testutil.Logger())
	require.NoError(t, err)
	defer a.Close()
	h := a.Router()

	body, _ := json.Marshal(models.StoreRequest{Text: "Backups are written to the cold storage bucket nightly"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memories", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, 1, health.MemoryCount)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
	assert.True(t, strings.Contains(rec.Body.String(), "ltm_embedding_cache_total"))

	before := calls.Load()
	require.NoError(t, a.Close())

	// A restarted process reuses persisted embeddings.
	b, err := New(cfg, testutil.Logger())
	require.NoError(t, err)
	defer b.Close()
	_, err = b.Embedder.EmbedPassage(context.Background(), "Backups are written to the cold storage bucket nightly")
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())
}

func TestAppWithoutMetrics(t *testing.T) {
	vendor, _ := fakeOllama(t)
	cfg := testConfig(t, vendor.URL)
	cfg.MetricsEnabled = false

	a, err := New(cfg, testutil.Logger())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Registry)

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "loud")
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
