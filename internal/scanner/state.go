package scanner

import (
	"time"

	apperrors "github.com/storeline/scan-station/internal/errors"
	"github.com/storeline/scan-station/internal/model"
)

// State is the controller's lifecycle position. Starting and Scanning are
// always tied to the generation that entered them.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateScanning
	StateSucceeded
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateScanning:
		return "scanning"
	case StateSucceeded:
		return "succeeded"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Open reports whether the session is between Open and its teardown.
func (s State) Open() bool {
	switch s {
	case StateStarting, StateScanning, StateSucceeded, StateErrored:
		return true
	default:
		return false
	}
}

func (s State) status() model.ScanStatus {
	switch s {
	case StateScanning:
		return model.ScanStatusScanning
	case StateSucceeded:
		return model.ScanStatusSuccess
	case StateErrored:
		return model.ScanStatusError
	default:
		return model.ScanStatusIdle
	}
}

const (
	DefaultDuplicateWindow = 500 * time.Millisecond
	DefaultSuccessDelay    = 200 * time.Millisecond
	DefaultHintDelay       = 8 * time.Second
)

// TroubleshootingHint is shown when a session has been scanning for a while
// without a detection.
const TroubleshootingHint = "No code detected yet. Hold the code steady in good light, or type it in manually."

type Timings struct {
	DuplicateWindow time.Duration
	SuccessDelay    time.Duration
	HintDelay       time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.DuplicateWindow <= 0 {
		t.DuplicateWindow = DefaultDuplicateWindow
	}
	if t.SuccessDelay <= 0 {
		t.SuccessDelay = DefaultSuccessDelay
	}
	if t.HintDelay <= 0 {
		t.HintDelay = DefaultHintDelay
	}
	return t
}

// Config is what the host passes to Open.
type Config struct {
	CodeTypeFilter      model.CodeTypeFilter `json:"codeTypeFilter"`
	EnableHardwareInput bool                 `json:"enableHardwareInput"`
	EnableOfflineCache  bool                 `json:"enableOfflineCache"`
}

// Snapshot is a consistent copy of the controller's user-facing state.
type Snapshot struct {
	Session        model.ScanSession    `json:"session"`
	State          string               `json:"state"`
	Error          *apperrors.AppError  `json:"error,omitempty"`
	Hint           string               `json:"hint,omitempty"`
	Devices        []model.CameraDevice `json:"devices"`
	SelectedDevice string               `json:"selectedDevice,omitempty"`
	CameraActive   bool                 `json:"cameraActive"`
	// Formats lists the code types an external camera decoder should report
	// while a session is open.
	Formats []model.CodeType `json:"formats,omitempty"`
}

// Listener receives everything the controller reports to its host. Calls are
// made without any controller lock held, so a listener may call back into
// the controller.
type Listener interface {
	OnDetect(code model.DecodedCode, session model.ScanSession)
	OnStatus(snap Snapshot)
	OnClose(session model.ScanSession)
}

type nopListener struct{}

func (nopListener) OnDetect(model.DecodedCode, model.ScanSession) {}
func (nopListener) OnStatus(Snapshot)                             {}
func (nopListener) OnClose(model.ScanSession)                     {}
