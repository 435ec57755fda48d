package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/audit"
	"github.com/storeline/scan-station/internal/cache"
	"github.com/storeline/scan-station/internal/camera"
	"github.com/storeline/scan-station/internal/clock"
	codes "github.com/storeline/scan-station/internal/code"
	apperrors "github.com/storeline/scan-station/internal/errors"
	"github.com/storeline/scan-station/internal/hid"
	"github.com/storeline/scan-station/internal/model"
	"github.com/storeline/scan-station/internal/repository"
	"github.com/storeline/scan-station/internal/scanner"
	"github.com/storeline/scan-station/internal/sse"
	"github.com/storeline/scan-station/internal/util"
)

const (
	publishTimeout = 2 * time.Second
	historyTimeout = 5 * time.Second
)

// RemoteCamera is a camera driver whose decoder runs outside the daemon and
// reports back through Push and Fail.
type RemoteCamera interface {
	camera.Driver
	Push(deviceID, text string) error
	Fail(deviceID string, err error) error
}

// Publisher delivers station events to connected UIs.
type Publisher interface {
	Publish(ctx context.Context, stationID string, event sse.Event) error
}

type ScannerServiceParams struct {
	StationID string
	// Camera may be nil for hardware-only stations.
	Camera   RemoteCamera
	Cache    *cache.Cache
	ScanRepo repository.ScanEventRepository
	Events   Publisher
	// Controller carries clock, hardware channel, parser and timings. Its
	// Camera, Cache and Listener fields are filled in by the service.
	Controller scanner.Options
}

// ScannerService runs the single scan session of one station and connects
// it to event delivery, scan history and the offline cache.
type ScannerService struct {
	stationID  string
	clock      clock.Clock
	camera     RemoteCamera
	cache      *cache.Cache
	scanRepo   repository.ScanEventRepository
	events     Publisher
	controller *scanner.Controller
	history    sync.WaitGroup
}

func NewScannerService(params ScannerServiceParams) *ScannerService {
	s := &ScannerService{
		stationID: params.StationID,
		camera:    params.Camera,
		cache:     params.Cache,
		scanRepo:  params.ScanRepo,
		events:    params.Events,
	}

	opts := params.Controller
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	s.clock = opts.Clock
	opts.Cache = params.Cache
	opts.Listener = s
	if params.Camera != nil {
		opts.Camera = camera.NewChannel(params.Camera)
	}
	s.controller = scanner.New(opts)
	return s
}

func (s *ScannerService) StationID() string {
	return s.stationID
}

func (s *ScannerService) Open(ctx context.Context, cfg scanner.Config) (scanner.Snapshot, error) {
	snap, err := s.controller.Open(cfg)
	if err != nil {
		return snap, err
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionOpen,
		StationID: s.stationID,
		SessionID: snap.Session.ID,
		Details: map[string]interface{}{
			"codeTypeFilter": string(snap.Session.RequestedCodeType),
			"hardware":       cfg.EnableHardwareInput,
			"offlineCache":   cfg.EnableOfflineCache,
		},
	})
	return snap, nil
}

func (s *ScannerService) Close(ctx context.Context) scanner.Snapshot {
	s.controller.Close()
	return s.controller.Snapshot()
}

func (s *ScannerService) Retry(ctx context.Context) (scanner.Snapshot, error) {
	snap, err := s.controller.Retry()
	if err != nil {
		return snap, err
	}
	audit.Log(ctx, audit.Event{Type: audit.EventSessionRetry, StationID: s.stationID, SessionID: snap.Session.ID})
	return snap, nil
}

func (s *ScannerService) Status() scanner.Snapshot {
	return s.controller.Snapshot()
}

func (s *ScannerService) HandleKeys(ctx context.Context, events []hid.KeyEvent) error {
	if len(events) == 0 {
		return apperrors.MissingRequired("events")
	}
	for _, ev := range events {
		if err := s.controller.HandleKey(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScannerService) SubmitManual(ctx context.Context, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, apperrors.MissingRequired("text")
	}
	accepted, err := s.controller.SubmitManual(text)
	if err != nil {
		return false, err
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventManualEntry,
		StationID: s.stationID,
		SessionID: s.controller.Snapshot().Session.ID,
		Details:   map[string]interface{}{"accepted": accepted},
	})
	return accepted, nil
}

// Cameras returns the devices seen by the current session, enumerating
// directly when no session has listed them yet.
func (s *ScannerService) Cameras(ctx context.Context) ([]model.CameraDevice, string, error) {
	snap := s.controller.Snapshot()
	if len(snap.Devices) > 0 || s.camera == nil {
		return snap.Devices, snap.SelectedDevice, nil
	}
	devices, err := s.camera.EnumerateDevices(ctx)
	if err != nil {
		return nil, "", apperrors.CameraFailed(err)
	}
	return devices, snap.SelectedDevice, nil
}

func (s *ScannerService) SwitchCamera(ctx context.Context, deviceID string) (scanner.Snapshot, error) {
	if strings.TrimSpace(deviceID) == "" {
		return scanner.Snapshot{}, apperrors.MissingRequired("deviceId")
	}
	snap, err := s.controller.SwitchCamera(deviceID)
	event := audit.Event{
		Type:      audit.EventCameraSwitch,
		StationID: s.stationID,
		SessionID: snap.Session.ID,
		Details:   map[string]interface{}{"deviceId": deviceID},
	}
	if err != nil {
		event.Details["error"] = string(apperrors.GetCode(err))
	}
	audit.Log(ctx, event)
	return snap, err
}

// PushDecode hands text decoded by the external vision decoder to the
// device's stream. Text for a device that is not streaming is dropped.
func (s *ScannerService) PushDecode(ctx context.Context, deviceID, text string) error {
	if s.camera == nil {
		return apperrors.CameraNotFound(camera.ErrNoCamera)
	}
	if strings.TrimSpace(text) == "" {
		return apperrors.MissingRequired("text")
	}
	return mapCameraLookup(s.camera.Push(deviceID, text))
}

// ReportCameraError forwards a decoder failure reason to the device's stream.
func (s *ScannerService) ReportCameraError(ctx context.Context, deviceID, reason string) error {
	if s.camera == nil {
		return apperrors.CameraNotFound(camera.ErrNoCamera)
	}
	if strings.TrimSpace(reason) == "" {
		return apperrors.MissingRequired("reason")
	}
	cause := camera.ParseReason(reason)
	if err := mapCameraLookup(s.camera.Fail(deviceID, cause)); err != nil {
		return err
	}
	if kind := camera.Classify(cause); kind.Actionable() {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventCameraFailure,
			StationID: s.stationID,
			Details:   map[string]interface{}{"deviceId": deviceID, "kind": kind.String()},
		})
	}
	return nil
}

// RecordResolution stores the identifier the host resolved code to.
func (s *ScannerService) RecordResolution(ctx context.Context, code, resolvedID string) (*model.CacheEntry, error) {
	code, resolvedID = strings.TrimSpace(code), strings.TrimSpace(resolvedID)
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}
	if resolvedID == "" {
		return nil, apperrors.MissingRequired("resolvedId")
	}
	s.cache.Put(code, resolvedID)
	entry, _ := s.cache.Get(code)

	audit.Log(ctx, audit.Event{Type: audit.EventCacheRecord, StationID: s.stationID})
	return &entry, nil
}

func (s *ScannerService) LookupCache(ctx context.Context, code string) (*model.CacheEntry, error) {
	entry, ok := s.cache.Get(strings.TrimSpace(code))
	if !ok {
		return nil, apperrors.NotFound("Cache entry")
	}
	return &entry, nil
}

// RecentScans returns an empty list when scan history is disabled.
func (s *ScannerService) RecentScans(ctx context.Context, limit int) ([]model.ScanEvent, error) {
	if s.scanRepo == nil {
		return []model.ScanEvent{}, nil
	}
	events, err := s.scanRepo.FindRecent(ctx, s.stationID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return events, nil
}

// FindScan returns one recorded detection of this station.
func (s *ScannerService) FindScan(ctx context.Context, id string) (*model.ScanEvent, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}
	if s.scanRepo == nil {
		return nil, apperrors.NotFound("Scan")
	}

	event, err := s.scanRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if event == nil || event.StationID != s.stationID {
		return nil, apperrors.NotFound("Scan")
	}
	return event, nil
}

// Shutdown closes any open session and waits for pending history writes.
func (s *ScannerService) Shutdown(ctx context.Context) {
	s.controller.Close()

	done := make(chan struct{})
	go func() {
		s.history.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown before scan history writes finished")
	}
}

func (s *ScannerService) OnDetect(code model.DecodedCode, session model.ScanSession) {
	s.publish(sse.EventDetection, map[string]any{
		"sessionId": session.ID,
		"code":      code,
	})
	audit.Log(context.Background(), audit.Event{
		Type:      audit.EventCodeDetected,
		StationID: s.stationID,
		SessionID: session.ID,
		Details: map[string]interface{}{
			"codeType": string(code.CodeType),
			"method":   string(code.Method),
			"cached":   code.CachedResolvedID != "",
		},
	})

	if s.scanRepo != nil {
		s.history.Add(1)
		go s.recordScan(code, session)
	}
}

func (s *ScannerService) OnStatus(snap scanner.Snapshot) {
	s.publish(sse.EventStatus, snap)
}

func (s *ScannerService) OnClose(session model.ScanSession) {
	s.publish(sse.EventClosed, session)
	audit.Log(context.Background(), audit.Event{
		Type:      audit.EventSessionClose,
		StationID: s.stationID,
		SessionID: session.ID,
		Details:   map[string]interface{}{"detected": session.Detected},
	})
}

func (s *ScannerService) recordScan(code model.DecodedCode, session model.ScanSession) {
	defer s.history.Done()

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	params := model.CreateScanEventParams{
		StationID: s.stationID,
		SessionID: session.ID,
		RawText:   code.RawText,
		CodeType:  code.CodeType,
		Method:    code.Method,
		ScannedAt: s.clock.Now(),
	}
	if id := code.StructuredPayload[codes.KeyID]; id != "" {
		params.ResolvedID = &id
	} else if code.CachedResolvedID != "" {
		resolved := code.CachedResolvedID
		params.ResolvedID = &resolved
	}

	if _, err := s.scanRepo.Create(ctx, params); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to record scan event")
		audit.Log(ctx, audit.Event{Type: audit.EventHistoryFailure, StationID: s.stationID, SessionID: session.ID})
	}
}

func (s *ScannerService) publish(eventType string, data any) {
	if s.events == nil {
		return
	}
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("failed to encode scanner event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, s.stationID, event); err != nil {
		log.Warn().Err(err).Str("eventType", eventType).Msg("failed to publish scanner event")
	}
}

func mapCameraLookup(err error) error {
	if errors.Is(err, camera.ErrUnknownDevice) {
		return apperrors.NotFound("Camera")
	}
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	return nil
}
