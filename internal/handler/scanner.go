package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storeline/scan-station/internal/hid"
	"github.com/storeline/scan-station/internal/scanner"
	"github.com/storeline/scan-station/internal/service"
)

type ScannerHandler struct {
	scannerService *service.ScannerService
	decodeLimits   []func(http.Handler) http.Handler
}

// NewScannerHandler wraps the decoder endpoints, which receive per-frame
// traffic, in decodeLimits.
func NewScannerHandler(scannerService *service.ScannerService, decodeLimits ...func(http.Handler) http.Handler) *ScannerHandler {
	return &ScannerHandler{
		scannerService: scannerService,
		decodeLimits:   decodeLimits,
	}
}

func (h *ScannerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/session", h.OpenSession)
	r.Get("/session", h.GetSession)
	r.Delete("/session", h.CloseSession)
	r.Post("/session/retry", h.RetrySession)

	r.Post("/keys", h.HandleKeys)
	r.Post("/manual", h.SubmitManual)

	r.Get("/cameras", h.ListCameras)
	r.Put("/cameras/active", h.SwitchCamera)
	r.With(h.decodeLimits...).Post("/cameras/{deviceId}/decode", h.PushDecode)
	r.With(h.decodeLimits...).Post("/cameras/{deviceId}/error", h.ReportCameraError)

	r.Get("/scans", h.ListScans)
	r.Get("/scans/{scanId}", h.GetScan)

	return r
}

// POST /v1/scanner/session
func (h *ScannerHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var cfg scanner.Config
	if err := decodeJSON(r, &cfg, true); err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.scannerService.Open(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/scanner/session
func (h *ScannerHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scannerService.Status())
}

// DELETE /v1/scanner/session
func (h *ScannerHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scannerService.Close(r.Context()))
}

// POST /v1/scanner/session/retry
func (h *ScannerHandler) RetrySession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.scannerService.Retry(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type keysRequest struct {
	Events []hid.KeyEvent `json:"events"`
}

// POST /v1/scanner/keys
func (h *ScannerHandler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	if err := h.scannerService.HandleKeys(r.Context(), req.Events); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type manualRequest struct {
	Text string `json:"text"`
}

// POST /v1/scanner/manual
func (h *ScannerHandler) SubmitManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	accepted, err := h.scannerService.SubmitManual(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

// GET /v1/scanner/cameras
func (h *ScannerHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	devices, selected, err := h.scannerService.Cameras(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":        devices,
		"selectedDevice": selected,
	})
}

type switchCameraRequest struct {
	DeviceID string `json:"deviceId"`
}

// PUT /v1/scanner/cameras/active
func (h *ScannerHandler) SwitchCamera(w http.ResponseWriter, r *http.Request) {
	var req switchCameraRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.scannerService.SwitchCamera(r.Context(), req.DeviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type decodeRequest struct {
	Text string `json:"text"`
}

// POST /v1/scanner/cameras/{deviceId}/decode
func (h *ScannerHandler) PushDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	if err := h.scannerService.PushDecode(r.Context(), chi.URLParam(r, "deviceId"), req.Text); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type cameraErrorRequest struct {
	Reason string `json:"reason"`
}

// POST /v1/scanner/cameras/{deviceId}/error
func (h *ScannerHandler) ReportCameraError(w http.ResponseWriter, r *http.Request) {
	var req cameraErrorRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	if err := h.scannerService.ReportCameraError(r.Context(), chi.URLParam(r, "deviceId"), req.Reason); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GET /v1/scanner/scans?limit=
func (h *ScannerHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := h.scannerService.RecentScans(r.Context(), ParseLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

// GET /v1/scanner/scans/{scanId}
func (h *ScannerHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := h.scannerService.FindScan(r.Context(), chi.URLParam(r, "scanId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scan)
}
