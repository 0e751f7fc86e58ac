package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/ltm/internal/retriever"
)

type ConfigHandler struct {
	retriever *retriever.Retriever
}

func NewConfigHandler(r *retriever.Retriever) *ConfigHandler {
	return &ConfigHandler{retriever: r}
}

// Get handles GET /retrieval/config
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.retriever.GetConfig())
}

// Update handles PATCH /retrieval/config. Fields absent from the body keep
// their current values.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	next := h.retriever.GetConfig()
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.retriever.UpdateConfig(func(c *retriever.Config) { *c = next }); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.retriever.GetConfig())
}
