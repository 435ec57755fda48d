package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/scan-station/internal/cache"
	"github.com/storeline/scan-station/internal/camera"
	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/config"
	"github.com/storeline/scan-station/internal/httputil"
	"github.com/storeline/scan-station/internal/model"
	"github.com/storeline/scan-station/internal/scanner"
	"github.com/storeline/scan-station/internal/service"
	"github.com/storeline/scan-station/internal/sse"
)

type testStation struct {
	router  chi.Router
	svc     *service.ScannerService
	broker  *sse.Broker
	clock   *clock.Fake
	driver  *camera.RemoteDriver
	events  *EventsHandler
	offline *cache.Cache
}

func newTestStation(t *testing.T) *testStation {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC))
	broker := sse.NewBroker(nil)
	driver := camera.NewRemoteDriver([]model.CameraDevice{{ID: "usb-0", Label: "Counter Camera"}})
	offline := cache.New(cache.Options{Clock: clk})

	svc := service.NewScannerService(service.ScannerServiceParams{
		StationID:  "till-1",
		Camera:     driver,
		Cache:      offline,
		Events:     broker,
		Controller: scanner.Options{Clock: clk},
	})
	st := &testStation{svc: svc, broker: broker, clock: clk, driver: driver, offline: offline}
	st.events = NewEventsHandler(broker, svc)

	r := chi.NewRouter()
	r.Route("/v1/scanner", func(r chi.Router) {
		r.Get("/events", st.events.ServeHTTP)
		r.Mount("/cache", NewCacheHandler(svc).Routes())
		r.Mount("/", NewScannerHandler(svc).Routes())
	})
	st.router = r

	t.Cleanup(func() {
		svc.Shutdown(context.Background())
		broker.Close()
	})
	return st
}

func (st *testStation) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	st.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestScannerHandler_SessionLifecycle(t *testing.T) {
	st := newTestStation(t)

	rec := st.do(t, http.MethodPost, "/v1/scanner/session", `{"codeTypeFilter":"barcode","enableHardwareInput":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[scanner.Snapshot](t, rec)
	assert.True(t, snap.Session.IsOpen)
	assert.Equal(t, model.CodeTypeFilterBarcode, snap.Session.RequestedCodeType)

	rec = st.do(t, http.MethodGet, "/v1/scanner/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snap.Session.ID, decodeBody[scanner.Snapshot](t, rec).Session.ID)

	rec = st.do(t, http.MethodPost, "/v1/scanner/keys", `{"events":[{"key":"S"},{"key":"K"},{"key":"U"},{"key":"-"},{"key":"9"},{"key":"Enter"}]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, st.svc.Status().Session.Detected)

	rec = st.do(t, http.MethodDelete, "/v1/scanner/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[scanner.Snapshot](t, rec).Session.IsOpen)
}

func TestScannerHandler_OpenWithEmptyBody(t *testing.T) {
	st := newTestStation(t)

	rec := st.do(t, http.MethodPost, "/v1/scanner/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CodeTypeFilterBoth, decodeBody[scanner.Snapshot](t, rec).Session.RequestedCodeType)
}

func TestScannerHandler_Errors(t *testing.T) {
	st := newTestStation(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", http.MethodPost, "/v1/scanner/manual", `{"text":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"manual without session", http.MethodPost, "/v1/scanner/manual", `{"text":"012345678905"}`, http.StatusConflict, "SESSION_NOT_OPEN"},
		{"manual without text", http.MethodPost, "/v1/scanner/manual", `{}`, http.StatusBadRequest, "MISSING_REQUIRED"},
		{"retry while idle", http.MethodPost, "/v1/scanner/session/retry", "", http.StatusConflict, "SESSION_NOT_OPEN"},
		{"unknown filter", http.MethodPost, "/v1/scanner/session", `{"codeTypeFilter":"datamatrix"}`, http.StatusBadRequest, ""},
		{"decode for unknown device", http.MethodPost, "/v1/scanner/cameras/usb-7/decode", `{"text":"4006381333931"}`, http.StatusNotFound, "NOT_FOUND"},
		{"empty key batch", http.MethodPost, "/v1/scanner/keys", `{"events":[]}`, http.StatusBadRequest, "MISSING_REQUIRED"},
		{"scan with malformed id", http.MethodGet, "/v1/scanner/scans/evt-1", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"cache miss", http.MethodGet, "/v1/scanner/cache/4006381333931", "", http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := st.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.wantStatus, rec.Code)

			resp := decodeBody[httputil.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, string(resp.Code))
			}
		})
	}
}

func TestScannerHandler_CameraRoutes(t *testing.T) {
	st := newTestStation(t)

	rec := st.do(t, http.MethodGet, "/v1/scanner/cameras", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Devices []model.CameraDevice `json:"devices"`
	}](t, rec)
	require.Len(t, body.Devices, 1)
	assert.Equal(t, "Counter Camera", body.Devices[0].Label)

	rec = st.do(t, http.MethodPost, "/v1/scanner/session", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		_, ok := st.driver.Streaming()
		return ok && st.svc.Status().Session.ActiveMethod == model.ScanMethodCamera
	}, time.Second, time.Millisecond)

	rec = st.do(t, http.MethodPost, "/v1/scanner/cameras/usb-0/decode", `{"text":"4006381333931"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, st.svc.Status().Session.Detected)

	rec = st.do(t, http.MethodPost, "/v1/scanner/cameras/usb-0/error", `{"reason":"NotFoundException"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestScannerHandler_DecodeLimits(t *testing.T) {
	st := newTestStation(t)
	reject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := NewScannerHandler(st.svc, reject).Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cameras/usb-0/decode", strings.NewReader(`{"text":"1"}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cameras", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCacheHandler(t *testing.T) {
	st := newTestStation(t)

	rec := st.do(t, http.MethodPut, "/v1/scanner/cache/4006381333931", `{"resolvedId":"prod-12"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[model.CacheEntry](t, rec)
	assert.Equal(t, "prod-12", entry.ResolvedID)
	assert.Equal(t, st.clock.Now(), entry.CachedAt)

	rec = st.do(t, http.MethodGet, "/v1/scanner/cache/4006381333931", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prod-12", decodeBody[model.CacheEntry](t, rec).ResolvedID)

	rec = st.do(t, http.MethodPut, "/v1/scanner/cache/4006381333931", `{"resolvedId":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScannerHandler_ListScansWithoutHistory(t *testing.T) {
	st := newTestStation(t)

	rec := st.do(t, http.MethodGet, "/v1/scanner/scans?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scans":[]}`, rec.Body.String())
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", config.DefaultScanHistoryLimit},
		{"limit=abc", config.DefaultScanHistoryLimit},
		{"limit=-4", config.DefaultScanHistoryLimit},
		{"limit=7", 7},
		{"limit=100000", config.MaxScanHistoryLimit},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/scans?"+tc.query, nil)
			assert.Equal(t, tc.want, ParseLimit(req))
		})
	}
}

func TestEventsHandler_Stream(t *testing.T) {
	st := newTestStation(t)
	server := httptest.NewServer(st.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/scanner/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func() string {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended")
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	assert.Equal(t, "event: connected", next())
	assert.Contains(t, next(), `"state":"idle"`)
	assert.Equal(t, "", next())

	require.Eventually(t, func() bool { return st.broker.ClientCount("till-1") == 1 }, time.Second, time.Millisecond)
	_, err = st.svc.Open(context.Background(), scanner.Config{EnableHardwareInput: true})
	require.NoError(t, err)

	var sawStatus bool
	for !sawStatus {
		if next() == "event: status" {
			sawStatus = true
		}
	}
	assert.Contains(t, next(), `"isOpen":true`)
}

func TestEventsHandler_RequiresFlusher(t *testing.T) {
	h := NewEventsHandler(sse.NewBroker(nil), nil)
	rec := &nonFlushingWriter{header: http.Header{}}

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scanner/events", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.status)
}

type nonFlushingWriter struct {
	header http.Header
	status int
}

func (w *nonFlushingWriter) Header() http.Header         { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *nonFlushingWriter) WriteHeader(status int)      { w.status = status }

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	event := sse.Event{Type: sse.EventDetection, Data: json.RawMessage(`{"code":{"rawText":"4006381333931"}}`)}
	require.NoError(t, handler.sendRawEvent(rec, rec, event))

	body := rec.Body.String()
	assert.Equal(t, "event: detection\ndata: {\"code\":{\"rawText\":\"4006381333931\"}}\n\n", body)
}

func TestHealthHandler(t *testing.T) {
	t.Run("all dependencies reachable", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"database": PingFunc(func(context.Context) error { return nil }),
			"redis":    nil,
		}, time.Second)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, map[string]any{"database": "ok", "redis": "disabled"}, body["dependencies"])
	})

	t.Run("unreachable dependency degrades", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"redis": PingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") }),
		}, time.Second)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", decodeBody[map[string]any](t, rec)["status"])
	})
}
