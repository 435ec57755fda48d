// Package scanner is the scan session controller. It owns the open/closed
// lifecycle, arbitrates between the hardware and camera channels and is the
// only place a detection is reported from.
package scanner

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/cache"
	"github.com/storeline/scan-station/internal/camera"
	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/code"
	apperrors "github.com/storeline/scan-station/internal/errors"
	"github.com/storeline/scan-station/internal/hid"
	"github.com/storeline/scan-station/internal/model"
	"github.com/storeline/scan-station/internal/util"
)

type Options struct {
	Clock clock.Clock
	// Camera is optional; without it sessions rely on hardware and manual input.
	Camera   *camera.Channel
	Hardware *hid.Channel
	Cache    *cache.Cache
	Parser   *code.Parser
	Timings  Timings
	Listener Listener
}

type Controller struct {
	clock    clock.Clock
	camera   *camera.Channel
	hardware *hid.Channel
	cache    *cache.Cache
	parser   *code.Parser
	timings  Timings
	listener Listener

	// lifecycle serializes Open, Close and SwitchCamera, so a reopen waits
	// until the previous close has released both channels.
	lifecycle sync.Mutex

	mu             sync.Mutex
	state          State
	gen            uint64
	config         Config
	session        model.ScanSession
	sessionCtx     context.Context
	cancelSession  context.CancelFunc
	cameraLive     bool
	lastAccepted   time.Time
	hintTimer      clock.Timer
	successTimer   clock.Timer
	failure        *apperrors.AppError
	hint           string
	devices        []model.CameraDevice
	selectedDevice string
}

func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Hardware == nil {
		opts.Hardware = hid.NewChannel(opts.Clock, hid.DefaultTimeout)
	}
	if opts.Parser == nil {
		opts.Parser = code.NewParser(code.DefaultPayloadPrefix)
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}

	return &Controller{
		clock:    opts.Clock,
		camera:   opts.Camera,
		hardware: opts.Hardware,
		cache:    opts.Cache,
		parser:   opts.Parser,
		timings:  opts.Timings.withDefaults(),
		listener: opts.Listener,
		state:    StateIdle,
		session:  model.ScanSession{Status: model.ScanStatusIdle, ActiveMethod: model.ScanMethodNone},
	}
}

// Open starts a session. Opening while a session is already open returns the
// current snapshot and changes nothing.
func (c *Controller) Open(cfg Config) (Snapshot, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return Snapshot{}, err
	}

	c.lifecycle.Lock()
	c.mu.Lock()
	if c.state.Open() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.lifecycle.Unlock()
		log.Debug().Str("sessionId", snap.Session.ID).Msg("scanner already open, ignoring open")
		return snap, nil
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.sessionCtx, c.cancelSession = ctx, cancel
	c.config = cfg
	c.state = StateStarting
	c.cameraLive = false
	c.failure, c.hint = nil, ""
	c.devices, c.selectedDevice = nil, ""
	c.session = model.ScanSession{
		ID:                uuid.NewString(),
		IsOpen:            true,
		RequestedCodeType: cfg.CodeTypeFilter,
		OpenedAt:          c.clock.Now(),
	}
	c.hintTimer = c.clock.AfterFunc(c.timings.HintDelay, func() { c.showHint(gen) })

	if cfg.EnableHardwareInput {
		err := c.hardware.Attach(func(text string) { c.candidate(gen, model.ScanMethodHardware, text) })
		if err != nil {
			log.Error().Err(err).Msg("keyboard listener still attached, hardware input disabled for this session")
		} else {
			c.state = StateScanning
		}
	}
	startCamera := c.camera != nil
	if !startCamera && c.state == StateStarting {
		c.state = StateErrored
		c.failure = apperrors.CameraNotFound(camera.ErrNoCamera)
	}

	c.syncLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.lifecycle.Unlock()

	log.Info().
		Str("sessionId", snap.Session.ID).
		Str("codeTypeFilter", string(cfg.CodeTypeFilter)).
		Bool("hardware", cfg.EnableHardwareInput).
		Bool("camera", startCamera).
		Msg("scanner session opened")

	c.notify("status", func(l Listener) { l.OnStatus(snap) })
	if startCamera {
		goSafe("camera start", func() { c.startCamera(ctx, gen) })
	}
	return snap, nil
}

// Close tears the session down. It is idempotent and safe while a camera
// start is still unresolved; both channels are released before the close is
// reported.
func (c *Controller) Close() {
	c.closeSession(0, false)
}

// Retry closes whatever is left of the last session and opens a new one with
// the same configuration.
func (c *Controller) Retry() (Snapshot, error) {
	c.mu.Lock()
	cfg := c.config
	used := c.state != StateIdle
	c.mu.Unlock()

	if !used {
		return Snapshot{}, apperrors.SessionNotOpen()
	}
	c.Close()
	return c.Open(cfg)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// HandleKey forwards a keyboard event to the hardware channel.
func (c *Controller) HandleKey(ev hid.KeyEvent) error {
	c.mu.Lock()
	open := c.state.Open()
	c.mu.Unlock()

	if !open {
		return apperrors.SessionNotOpen()
	}
	c.hardware.HandleKey(ev)
	return nil
}

// SubmitManual treats typed text as a hardware candidate. It reports whether
// the text became the session's detection.
func (c *Controller) SubmitManual(text string) (bool, error) {
	c.mu.Lock()
	open := c.state.Open()
	gen := c.gen
	c.mu.Unlock()

	if !open {
		return false, apperrors.SessionNotOpen()
	}
	return c.candidate(gen, model.ScanMethodHardware, text), nil
}

// SwitchCamera restarts the camera on deviceID. The choice sticks for the
// rest of the session.
func (c *Controller) SwitchCamera(deviceID string) (Snapshot, error) {
	if c.camera == nil {
		return Snapshot{}, apperrors.CameraNotFound(camera.ErrNoCamera)
	}

	c.lifecycle.Lock()
	c.mu.Lock()
	switch c.state {
	case StateStarting, StateScanning, StateErrored:
	default:
		c.mu.Unlock()
		c.lifecycle.Unlock()
		return Snapshot{}, apperrors.SessionNotOpen()
	}
	if len(c.devices) > 0 && !hasDevice(c.devices, deviceID) {
		c.mu.Unlock()
		c.lifecycle.Unlock()
		return Snapshot{}, apperrors.NotFound("Camera")
	}
	c.selectedDevice = deviceID
	gen, ctx := c.gen, c.sessionCtx
	formats := c.config.CodeTypeFilter.Formats()
	c.mu.Unlock()

	if c.camera.Starting() {
		c.lifecycle.Unlock()
		return c.Snapshot(), apperrors.Conflict("Camera is still starting")
	}
	sel := camera.Selector{DeviceID: deviceID}
	err := c.camera.Switch(ctx, sel)
	if errors.Is(err, camera.ErrNotActive) {
		err = c.camera.Start(ctx, sel, formats, c.decodeHandler(gen), c.failureHandler(gen))
	}
	c.lifecycle.Unlock()

	switch {
	case errors.Is(err, camera.ErrBusy):
		return c.Snapshot(), apperrors.Conflict("Camera is still starting")
	case err != nil:
		c.cameraFailed(gen, err)
		kind := camera.Classify(err)
		if kind == camera.KindBenign {
			return c.Snapshot(), nil
		}
		return c.Snapshot(), cameraError(kind, err)
	}

	c.cameraStarted(gen)
	log.Info().Str("deviceId", deviceID).Msg("camera switched")
	return c.Snapshot(), nil
}

func (c *Controller) startCamera(ctx context.Context, gen uint64) {
	devices := c.camera.Enumerate(ctx)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.devices = devices
	sel := camera.SelectDevice(devices, c.selectedDevice)
	formats := c.config.CodeTypeFilter.Formats()
	c.mu.Unlock()

	if err := c.camera.Start(ctx, sel, formats, c.decodeHandler(gen), c.failureHandler(gen)); err != nil {
		c.cameraFailed(gen, err)
		return
	}
	c.cameraStarted(gen)
}

func (c *Controller) decodeHandler(gen uint64) func(string) {
	return func(text string) { c.candidate(gen, model.ScanMethodCamera, text) }
}

func (c *Controller) failureHandler(gen uint64) func(error) {
	return func(err error) { c.cameraFailed(gen, err) }
}

func (c *Controller) cameraStarted(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.cameraLive = true
	c.selectedDevice = c.camera.DeviceID()
	if c.state == StateStarting || c.state == StateErrored {
		c.state = StateScanning
		c.failure = nil
	}
	c.syncLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify("status", func(l Listener) { l.OnStatus(snap) })
}

// cameraFailed surfaces actionable camera failures. The session only turns
// Errored when no hardware input is attached to fall back on.
func (c *Controller) cameraFailed(gen uint64, err error) {
	kind := camera.Classify(err)
	if kind == camera.KindBenign || kind == camera.KindNoise {
		log.Debug().Err(err).Str("kind", kind.String()).Msg("ignoring camera error")
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateStarting, StateScanning, StateErrored:
	default:
		c.mu.Unlock()
		return
	}
	c.failure = cameraError(kind, err)
	c.cameraLive = false
	if !c.hardware.Attached() {
		c.state = StateErrored
	}
	c.syncLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	log.Warn().Err(err).Str("kind", kind.String()).Str("sessionId", snap.Session.ID).Msg("camera unavailable")
	c.camera.Stop(context.Background())
	c.notify("status", func(l Listener) { l.OnStatus(snap) })
}

// candidate runs the detection pipeline for one input and reports whether it
// was accepted.
func (c *Controller) candidate(gen uint64, method model.ScanMethod, raw string) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Debug().Str("method", string(method)).Msg("dropping candidate from a closed session")
		return false
	}
	switch c.state {
	case StateStarting, StateScanning:
	case StateErrored:
		if method != model.ScanMethodHardware {
			c.mu.Unlock()
			return false
		}
	default:
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.timings.DuplicateWindow {
		c.mu.Unlock()
		log.Debug().Str("method", string(method)).Msg("dropping candidate inside duplicate window")
		return false
	}

	decoded, ok := c.parser.Decode(raw, method)
	if !ok {
		c.mu.Unlock()
		return false
	}
	if method == model.ScanMethodCamera && !slices.Contains(c.config.CodeTypeFilter.Formats(), decoded.CodeType) {
		filter := c.config.CodeTypeFilter
		c.mu.Unlock()
		log.Debug().
			Str("codeType", string(decoded.CodeType)).
			Str("filter", string(filter)).
			Msg("dropping camera code outside requested formats")
		return false
	}
	if c.config.EnableOfflineCache && c.cache != nil {
		if entry, ok := c.cache.Get(decoded.RawText); ok {
			decoded.CachedResolvedID = entry.ResolvedID
		}
		if id := decoded.StructuredPayload[code.KeyID]; id != "" {
			c.cache.Put(decoded.RawText, id)
		}
	}

	c.lastAccepted = now
	c.session.Detected = true
	c.session.ActiveMethod = method
	c.state = StateSucceeded
	c.hint = ""
	stopTimer(&c.hintTimer)
	c.successTimer = c.clock.AfterFunc(c.timings.SuccessDelay, func() { c.closeSession(gen, true) })
	c.syncLocked()
	session := c.session
	snap := c.snapshotLocked()
	c.mu.Unlock()

	log.Info().
		Str("sessionId", session.ID).
		Str("codeType", string(decoded.CodeType)).
		Str("method", string(method)).
		Msg("code detected")

	c.notify("detect", func(l Listener) { l.OnDetect(decoded, session) })
	c.notify("status", func(l Listener) { l.OnStatus(snap) })
	return true
}

func (c *Controller) showHint(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateStarting, StateScanning, StateErrored:
	default:
		c.mu.Unlock()
		return
	}
	c.hint = TroubleshootingHint
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify("status", func(l Listener) { l.OnStatus(snap) })
}

// closeSession closes the current session. With onlyGen set it only closes
// generation gen, so a late success timer can never close a newer session.
func (c *Controller) closeSession(gen uint64, onlyGen bool) {
	c.lifecycle.Lock()
	c.mu.Lock()
	if !c.state.Open() || (onlyGen && gen != c.gen) {
		c.mu.Unlock()
		c.lifecycle.Unlock()
		return
	}
	c.gen++
	stopTimer(&c.hintTimer)
	stopTimer(&c.successTimer)
	cancel := c.cancelSession
	c.cancelSession = nil
	c.state = StateClosed
	c.cameraLive = false
	c.hint = ""
	c.session.IsOpen = false
	c.mu.Unlock()

	// Cancel before Stop so a start that has not reached the driver yet
	// never begins one.
	if cancel != nil {
		cancel()
	}
	c.hardware.Detach()
	if c.camera != nil {
		c.camera.Stop(context.Background())
	}

	c.mu.Lock()
	c.syncLocked()
	session := c.session
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.lifecycle.Unlock()

	log.Info().Str("sessionId", session.ID).Bool("detected", session.Detected).Msg("scanner session closed")
	c.notify("close", func(l Listener) { l.OnClose(session) })
	c.notify("status", func(l Listener) { l.OnStatus(snap) })
}

func (c *Controller) syncLocked() {
	c.session.Status = c.state.status()
	if c.state == StateSucceeded {
		return
	}
	switch {
	case c.state == StateClosed:
		c.session.ActiveMethod = model.ScanMethodNone
	case c.cameraLive:
		c.session.ActiveMethod = model.ScanMethodCamera
	case c.hardware.Attached():
		c.session.ActiveMethod = model.ScanMethodHardware
	default:
		c.session.ActiveMethod = model.ScanMethodNone
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	devices := make([]model.CameraDevice, len(c.devices))
	copy(devices, c.devices)

	var formats []model.CodeType
	if c.state.Open() {
		formats = c.config.CodeTypeFilter.Formats()
	}

	return Snapshot{
		Session:        c.session,
		State:          c.state.String(),
		Error:          c.failure,
		Hint:           c.hint,
		Devices:        devices,
		SelectedDevice: c.selectedDevice,
		CameraActive:   c.camera != nil && c.camera.Active(),
		Formats:        formats,
	}
}

// notify calls the listener, keeping a panicking host callback from
// unwinding into timers or channel goroutines.
func (c *Controller) notify(what string, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("callback", what).Msg("scanner listener panicked")
		}
	}()
	fn(c.listener)
}

func goSafe(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", name).Msg("scanner task panicked")
			}
		}()
		fn()
	}()
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func normalizeConfig(cfg Config) (Config, error) {
	cfg.CodeTypeFilter = model.CodeTypeFilter(strings.ToLower(strings.TrimSpace(string(cfg.CodeTypeFilter))))
	if !util.IsValidEnum(string(cfg.CodeTypeFilter), model.CodeTypeFilterValues) {
		return cfg, apperrors.InvalidInput("codeTypeFilter", "must be barcode, qr or both")
	}
	if cfg.CodeTypeFilter == "" {
		cfg.CodeTypeFilter = model.CodeTypeFilterBoth
	}
	return cfg, nil
}

func cameraError(kind camera.ErrorKind, err error) *apperrors.AppError {
	switch kind {
	case camera.KindPermission:
		return apperrors.CameraPermissionDenied(err)
	case camera.KindInsecureContext:
		return apperrors.InsecureContext(err)
	case camera.KindNoDevice:
		return apperrors.CameraNotFound(err)
	case camera.KindConstraint:
		return apperrors.CameraConstraint(err)
	default:
		return apperrors.CameraFailed(err)
	}
}

func hasDevice(devices []model.CameraDevice, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
