// Package camera owns the video stream lifecycle of the scanner and delegates
// frame decoding to an external vision decoder behind the Driver interface.
package camera

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/model"
)

// FacingEnvironment asks for the rear camera when no device can be named.
const FacingEnvironment = "environment"

var ErrNotActive = errors.New("camera: no active stream")

type Selector struct {
	DeviceID   string `json:"deviceId,omitempty"`
	FacingMode string `json:"facingMode,omitempty"`
}

// Stream is one running decode stream.
type Stream interface {
	DeviceID() string
	Stop(ctx context.Context) error
}

// Driver is the capability a concrete decoding library has to provide.
// The ctx passed to Start only bounds the start itself; a returned Stream
// lives until Stop is called on it.
type Driver interface {
	EnumerateDevices(ctx context.Context) ([]model.CameraDevice, error)
	Start(
		ctx context.Context,
		sel Selector,
		formats []model.CodeType,
		onDecode func(text string),
		onError func(err error),
	) (Stream, error)
}

// Channel guarantees at most one stream exists at a time, and that a stream
// whose start was overtaken by Stop is torn down as soon as it resolves.
type Channel struct {
	driver Driver

	mu          sync.Mutex
	gen         uint64
	inflight    chan struct{}
	inflightGen uint64
	cancelStart context.CancelFunc
	stream      Stream

	formats   []model.CodeType
	onDecode  func(string)
	onFailure func(error)
}

func NewChannel(driver Driver) *Channel {
	return &Channel{driver: driver}
}

// Enumerate lists cameras. A failure is logged and yields no devices so the
// caller can fall back to a facing-mode selector.
func (c *Channel) Enumerate(ctx context.Context) []model.CameraDevice {
	devices, err := c.driver.EnumerateDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("camera enumeration failed, using facing mode fallback")
		return nil
	}
	return devices
}

// SelectDevice picks preferred when it is present, otherwise a rear-looking
// device, otherwise the first one. With no devices it falls back to facing mode.
func SelectDevice(devices []model.CameraDevice, preferred string) Selector {
	if len(devices) == 0 {
		return Selector{FacingMode: FacingEnvironment}
	}
	if preferred != "" {
		for _, d := range devices {
			if d.ID == preferred {
				return Selector{DeviceID: d.ID}
			}
		}
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		if strings.Contains(label, "back") || strings.Contains(label, "rear") || strings.Contains(label, "environment") {
			return Selector{DeviceID: d.ID}
		}
	}
	return Selector{DeviceID: devices[0].ID}
}

// Start begins decoding. It fails with ErrBusy while another start is in
// flight or a stream is active. A start still settling after Stop is waited
// for instead, so a reopen never runs two streams side by side. Cancelling
// ctx before the driver resolves has the same effect as Stop.
func (c *Channel) Start(
	ctx context.Context,
	sel Selector,
	formats []model.CodeType,
	onDecode func(string),
	onFailure func(error),
) error {
	c.mu.Lock()
	for c.inflight != nil {
		if c.inflightGen == c.gen {
			c.mu.Unlock()
			return ErrBusy
		}
		settled := c.inflight
		c.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	if c.stream != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}

	c.gen++
	gen := c.gen
	startCtx, cancel := context.WithCancel(ctx)
	settled := make(chan struct{})
	c.inflight = settled
	c.inflightGen = gen
	c.cancelStart = cancel
	c.formats = formats
	c.onDecode = onDecode
	c.onFailure = onFailure
	c.mu.Unlock()

	stream, err := c.driver.Start(startCtx, sel, formats, c.decodeHook(gen, onDecode), c.errorHook(gen, onFailure))

	c.mu.Lock()
	stale := gen != c.gen || ctx.Err() != nil
	if err == nil && !stale {
		c.stream = stream
	}
	c.mu.Unlock()
	cancel()

	// A stale stream is released before the start counts as settled so a
	// queued restart never overlaps it.
	if err == nil && stale {
		log.Debug().Str("deviceId", stream.DeviceID()).Msg("camera start resolved after stop, tearing down")
		stopStream(context.Background(), stream)
	}

	c.mu.Lock()
	c.inflight = nil
	c.cancelStart = nil
	close(settled)
	c.mu.Unlock()

	switch {
	case err != nil && stale:
		log.Debug().Err(err).Msg("camera start failed after stop was requested")
		return ErrAborted
	case err != nil:
		return err
	case stale:
		return ErrAborted
	}

	log.Info().Str("deviceId", stream.DeviceID()).Msg("camera stream started")
	return nil
}

// Stop releases the active stream and invalidates any start in flight. It
// never fails: teardown errors are logged and swallowed.
func (c *Channel) Stop(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	if c.cancelStart != nil {
		c.cancelStart()
	}
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		stopStream(ctx, stream)
	}
}

// Switch restarts decoding on another device with the callbacks of the
// current stream.
func (c *Channel) Switch(ctx context.Context, sel Selector) error {
	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.stream == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	formats, onDecode, onFailure := c.formats, c.onDecode, c.onFailure
	c.mu.Unlock()

	c.Stop(ctx)
	return c.Start(ctx, sel, formats, onDecode, onFailure)
}

func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Starting reports whether a start is in flight.
func (c *Channel) Starting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

func (c *Channel) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return ""
	}
	return c.stream.DeviceID()
}

func (c *Channel) decodeHook(gen uint64, onDecode func(string)) func(string) {
	return func(text string) {
		c.mu.Lock()
		live := gen == c.gen
		c.mu.Unlock()
		if live && onDecode != nil {
			onDecode(text)
		}
	}
}

func (c *Channel) errorHook(gen uint64, onFailure func(error)) func(error) {
	return func(err error) {
		kind := Classify(err)
		if !kind.Actionable() {
			log.Debug().Err(err).Str("kind", kind.String()).Msg("camera decode noise")
			return
		}

		c.mu.Lock()
		live := gen == c.gen
		c.mu.Unlock()
		if live && onFailure != nil {
			onFailure(err)
		}
	}
}

func stopStream(ctx context.Context, stream Stream) {
	if err := stream.Stop(ctx); err != nil {
		if Classify(err) == KindBenign {
			log.Debug().Err(err).Msg("camera stop interrupted")
			return
		}
		log.Warn().Err(err).Str("deviceId", stream.DeviceID()).Msg("camera stop failed")
		return
	}
	log.Debug().Str("deviceId", stream.DeviceID()).Msg("camera stream stopped")
}
