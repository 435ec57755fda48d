package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storeline/scan-station/internal/service"
)

type CacheHandler struct {
	scannerService *service.ScannerService
}

func NewCacheHandler(scannerService *service.ScannerService) *CacheHandler {
	return &CacheHandler{
		scannerService: scannerService,
	}
}

func (h *CacheHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{code}", h.LookupCache)
	r.Put("/{code}", h.RecordResolution)

	return r
}

// GET /v1/scanner/cache/{code}
func (h *CacheHandler) LookupCache(w http.ResponseWriter, r *http.Request) {
	entry, err := h.scannerService.LookupCache(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type resolutionRequest struct {
	ResolvedID string `json:"resolvedId"`
}

// PUT /v1/scanner/cache/{code}
func (h *CacheHandler) RecordResolution(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.scannerService.RecordResolution(r.Context(), chi.URLParam(r, "code"), req.ResolvedID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
