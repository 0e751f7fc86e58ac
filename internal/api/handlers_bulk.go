package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/iammorganparry/clive/apps/ltm/internal/memory"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

type BulkHandler struct {
	svc *memory.Service
}

func NewBulkHandler(svc *memory.Service) *BulkHandler {
	return &BulkHandler{svc: svc}
}

// BulkDelete handles POST /memories/bulk-delete
func (h *BulkHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req models.BulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.AgentID = GetAgentID(r)

	resp, err := h.svc.BulkDelete(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Export handles GET /memories/export
func (h *BulkHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Export(r.Context(), GetAgentID(r), r.URL.Query().Get("scope"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	name := fmt.Sprintf("ltm-export-%s.json", time.UnixMilli(doc.ExportedAt).UTC().Format("20060102-150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, doc)
}

// Import handles POST /memories/import
func (h *BulkHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req models.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.AgentID = GetAgentID(r)

	if len(req.Memories) == 0 {
		writeError(w, http.StatusBadRequest, "memories array is required")
		return
	}

	resp, err := h.svc.Import(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reembed handles POST /memories/reembed
func (h *BulkHandler) Reembed(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Reembed(r.Context(), GetAgentID(r), r.URL.Query().Get("scope"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
