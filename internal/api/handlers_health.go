package api

import (
	"context"
	"net/http"

	"github.com/iammorganparry/clive/apps/ltm/internal/embedding"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/retriever"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

// EmbeddingProbe reports embedding vendor connectivity.
type EmbeddingProbe interface {
	Test(ctx context.Context) embedding.TestResult
}

type HealthHandler struct {
	db        *store.DB
	embedder  EmbeddingProbe
	retriever *retriever.Retriever
}

func NewHealthHandler(db *store.DB, embedder EmbeddingProbe, r *retriever.Retriever) *HealthHandler {
	return &HealthHandler{db: db, embedder: embedder, retriever: r}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: "ok",
	}

	// Check embedding vendor
	if res := h.embedder.Test(r.Context()); !res.Success {
		resp.Embedding = models.ServiceCheck{Status: "error", Message: res.Error}
		resp.Status = "degraded"
	} else {
		resp.Embedding = models.ServiceCheck{Status: "ok"}
	}

	// Check retrieval pipeline
	if res := h.retriever.Test(r.Context(), ""); !res.Success {
		resp.Retrieval = models.ServiceCheck{Status: "error", Message: res.Error}
		resp.Status = "degraded"
	} else {
		msg := ""
		if !res.HasFtsSupport {
			msg = "lexical search unavailable, vector only"
		}
		resp.Retrieval = models.ServiceCheck{Status: "ok", Message: msg}
	}

	// Check DB
	count, err := h.db.MemoryCount(r.Context())
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.MemoryCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
