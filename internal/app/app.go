// Package app wires configuration into a running memory service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iammorganparry/clive/apps/ltm/internal/api"
	"github.com/iammorganparry/clive/apps/ltm/internal/config"
	"github.com/iammorganparry/clive/apps/ltm/internal/embedding"
	"github.com/iammorganparry/clive/apps/ltm/internal/memory"
	"github.com/iammorganparry/clive/apps/ltm/internal/metrics"
	"github.com/iammorganparry/clive/apps/ltm/internal/retriever"
	"github.com/iammorganparry/clive/apps/ltm/internal/scopes"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

// Persisted embeddings unused for this long are dropped at startup.
const embeddingCacheRetention = 90 * 24 * time.Hour

// App holds every long-lived component of the service.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *store.DB
	Memories  *store.MemoryStore
	Embedder  *embedding.Embedder
	Retriever *retriever.Retriever
	Service   *memory.Service
	Registry  *prometheus.Registry // nil when metrics are disabled
}

// NewLogger builds the JSON logger used by every command.
func NewLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// New opens the database and builds the service graph. Close releases it.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(a.Registry)
	}

	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db

	a.Embedder, err = embedding.New(cfg.Embedding, logger, m)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	if cfg.Embedding.CacheSize >= 0 {
		cache := store.NewEmbeddingCacheStore(db)
		if n, err := cache.Prune(context.Background(), time.Now().Add(-embeddingCacheRetention)); err != nil {
			logger.Warn("embedding cache prune failed", "error", err)
		} else if n > 0 {
			logger.Info("embedding cache pruned", "removed", n)
		}
		a.Embedder.UsePersistentCache(cache)
	}

	ce, err := retriever.NewCrossEncoder(cfg.Rerank)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reranker: %w", err)
	}
	var reranker retriever.Reranker
	if ce != nil {
		reranker = ce
	} else if cfg.Retrieval.Rerank == retriever.RerankCrossEncoder {
		logger.Warn("no rerank api key configured, cross-encoder rerank falls back to lightweight")
	}

	a.Memories = store.NewMemoryStore(db, a.Embedder.Dimensions(), logger)
	a.Retriever, err = retriever.New(a.Memories, a.Embedder, reranker, cfg.Retrieval, logger, m)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("retriever: %w", err)
	}

	sm, err := scopes.NewManager(cfg.Scopes)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scopes: %w", err)
	}

	a.Service = memory.NewService(a.Memories, a.Embedder, a.Retriever, sm, logger)

	logger.Info("memory service ready",
		"db", cfg.DBPath,
		"embedding", cfg.Embedding.Vendor,
		"model", a.Embedder.Model(),
		"dimensions", a.Embedder.Dimensions(),
		"mode", cfg.Retrieval.Mode,
		"fts", db.HasFTS(),
	)
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Router returns the HTTP handler for the service.
func (a *App) Router() http.Handler {
	var gatherer prometheus.Gatherer
	if a.Registry != nil {
		gatherer = a.Registry
	}
	return api.NewRouter(api.Deps{
		DB:          a.DB,
		Service:     a.Service,
		Embedder:    a.Embedder,
		Gatherer:    gatherer,
		APIKey:      a.Config.APIKey,
		CORSOrigins: a.Config.CORSOrigins,
		Logger:      a.Logger,
	})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("memory server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.Logger.Info("server stopped")
	return nil
}
