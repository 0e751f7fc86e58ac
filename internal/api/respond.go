package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/iammorganparry/clive/apps/ltm/internal/embedding"
	"github.com/iammorganparry/clive/apps/ltm/internal/memory"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

const maxBodyBytes = 8 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON rejects unknown fields and bodies larger than maxBodyBytes.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var vendorErr *embedding.VendorError
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, embedding.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAmbiguousPrefix):
		return http.StatusConflict
	case errors.As(err, &vendorErr), errors.Is(err, embedding.ErrDimensionMismatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
