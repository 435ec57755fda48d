package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/model"
)

var ErrUnknownDevice = errors.New("camera: unknown device")

// RemoteDriver is a Driver whose frames are decoded elsewhere, for instance in
// the browser that renders the preview. The decoder reports results with Push
// and failures with Fail; only the device bound by the current stream listens.
type RemoteDriver struct {
	mu      sync.Mutex
	devices []model.CameraDevice
	bound   *remoteStream
}

type remoteStream struct {
	driver   *RemoteDriver
	deviceID string
	formats  []model.CodeType
	onDecode func(string)
	onError  func(error)
}

func NewRemoteDriver(devices []model.CameraDevice) *RemoteDriver {
	return &RemoteDriver{devices: devices}
}

// ParseDevices reads "id=label" pairs; a bare id doubles as its label.
func ParseDevices(specs []string) []model.CameraDevice {
	devices := make([]model.CameraDevice, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		id, label, ok := strings.Cut(spec, "=")
		id = strings.TrimSpace(id)
		if !ok {
			label = id
		}
		devices = append(devices, model.CameraDevice{ID: id, Label: strings.TrimSpace(label)})
	}
	return devices
}

func (d *RemoteDriver) EnumerateDevices(ctx context.Context) ([]model.CameraDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.CameraDevice, len(d.devices))
	copy(out, d.devices)
	return out, nil
}

func (d *RemoteDriver) Start(
	ctx context.Context,
	sel Selector,
	formats []model.CodeType,
	onDecode func(string),
	onError func(error),
) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.devices) == 0 {
		return nil, ErrNoCamera
	}

	deviceID := sel.DeviceID
	if deviceID == "" {
		deviceID = d.devices[0].ID
	} else if !d.hasDeviceLocked(deviceID) {
		return nil, fmt.Errorf("%w: %s", ErrNoCamera, deviceID)
	}

	if d.bound != nil {
		return nil, fmt.Errorf("%w: device %s already streaming", ErrConstraint, d.bound.deviceID)
	}

	stream := &remoteStream{
		driver:   d,
		deviceID: deviceID,
		formats:  formats,
		onDecode: onDecode,
		onError:  onError,
	}
	d.bound = stream
	return stream, nil
}

// Push delivers a decoded text from the external decoder.
func (d *RemoteDriver) Push(deviceID, text string) error {
	stream, err := d.streamFor(deviceID)
	if err != nil {
		return err
	}
	if stream == nil {
		log.Debug().Str("deviceId", deviceID).Msg("dropping decode for unbound camera")
		return nil
	}
	stream.onDecode(text)
	return nil
}

// Fail delivers a decoder-side failure for the bound stream.
func (d *RemoteDriver) Fail(deviceID string, err error) error {
	stream, lookupErr := d.streamFor(deviceID)
	if lookupErr != nil {
		return lookupErr
	}
	if stream == nil {
		return nil
	}
	stream.onError(err)
	return nil
}

// Streaming reports the device currently bound, if any.
func (d *RemoteDriver) Streaming() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bound == nil {
		return "", false
	}
	return d.bound.deviceID, true
}

func (d *RemoteDriver) streamFor(deviceID string) (*remoteStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasDeviceLocked(deviceID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if d.bound == nil || d.bound.deviceID != deviceID {
		return nil, nil
	}
	return d.bound, nil
}

func (d *RemoteDriver) hasDeviceLocked(deviceID string) bool {
	for _, dev := range d.devices {
		if dev.ID == deviceID {
			return true
		}
	}
	return false
}

func (s *remoteStream) DeviceID() string {
	return s.deviceID
}

func (s *remoteStream) Stop(ctx context.Context) error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()

	if s.driver.bound == s {
		s.driver.bound = nil
	}
	return nil
}
