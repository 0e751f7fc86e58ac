package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iammorganparry/clive/apps/ltm/internal/memory"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

// Deps are the collaborators the router serves.
type Deps struct {
	DB          *store.DB
	Service     *memory.Service
	Embedder    EmbeddingProbe
	Gatherer    prometheus.Gatherer // nil disables /metrics
	APIKey      string
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS(d.CORSOrigins))
	r.Use(RequestID)
	r.Use(Logger(d.Logger))
	r.Use(Recovery(d.Logger))

	// Handlers
	healthH := NewHealthHandler(d.DB, d.Embedder, d.Service.Retriever())
	memoryH := NewMemoryHandler(d.Service)
	bulkH := NewBulkHandler(d.Service)
	configH := NewConfigHandler(d.Service.Retriever())

	// Unauthenticated routes
	r.Get("/health", healthH.Health)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.APIKey))
		r.Use(AgentExtractor)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", memoryH.List)
			r.Post("/", memoryH.Store)
			r.Post("/search", memoryH.Search)
			r.Get("/stats", memoryH.Stats)
			r.Get("/export", bulkH.Export)
			r.Post("/import", bulkH.Import)
			r.Post("/bulk-delete", bulkH.BulkDelete)
			r.Post("/reembed", bulkH.Reembed)
			r.Get("/{id}", memoryH.Get)
			r.Patch("/{id}", memoryH.Update)
			r.Delete("/{id}", memoryH.Delete)
		})

		r.Route("/retrieval/config", func(r chi.Router) {
			r.Get("/", configH.Get)
			r.Patch("/", configH.Update)
		})
	})

	return r
}
