package camera

import (
	"context"
	"errors"
)

// Drivers report failures by wrapping one of these sentinels.
var (
	ErrPermissionDenied = errors.New("camera: permission denied")
	ErrInsecureContext  = errors.New("camera: insecure context")
	ErrNoCamera         = errors.New("camera: no camera found")
	ErrConstraint       = errors.New("camera: constraints not satisfiable")

	// ErrNoCode is the per-frame "nothing decodable in view" result.
	ErrNoCode = errors.New("camera: no code in frame")
	// ErrAborted covers playback interrupted by a concurrent stop or a
	// decode against a stream that is already gone.
	ErrAborted = errors.New("camera: operation aborted")

	ErrBusy = errors.New("camera: start already in progress or stream active")
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindBenign
	KindNoise
	KindPermission
	KindInsecureContext
	KindNoDevice
	KindConstraint
)

func (k ErrorKind) String() string {
	switch k {
	case KindBenign:
		return "benign"
	case KindNoise:
		return "noise"
	case KindPermission:
		return "permission"
	case KindInsecureContext:
		return "insecure_context"
	case KindNoDevice:
		return "no_device"
	case KindConstraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// Actionable reports whether the user can do something about the failure.
func (k ErrorKind) Actionable() bool {
	switch k {
	case KindPermission, KindInsecureContext, KindNoDevice, KindConstraint:
		return true
	default:
		return false
	}
}

// Classify maps a driver error onto an ErrorKind. Cancellation is benign.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindBenign
	case errors.Is(err, ErrAborted),
		errors.Is(err, context.Canceled):
		return KindBenign
	case errors.Is(err, ErrNoCode):
		return KindNoise
	case errors.Is(err, ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrInsecureContext):
		return KindInsecureContext
	case errors.Is(err, ErrNoCamera):
		return KindNoDevice
	case errors.Is(err, ErrConstraint):
		return KindConstraint
	default:
		return KindUnknown
	}
}

// ParseReason maps the reason strings external decoders report onto sentinels.
func ParseReason(reason string) error {
	switch reason {
	case "permission_denied", "NotAllowedError":
		return ErrPermissionDenied
	case "insecure_context", "SecurityError":
		return ErrInsecureContext
	case "no_camera", "NotFoundError":
		return ErrNoCamera
	case "constraint", "OverconstrainedError":
		return ErrConstraint
	case "no_code", "NotFoundException":
		return ErrNoCode
	case "aborted", "AbortError":
		return ErrAborted
	default:
		return errors.New("camera: " + reason)
	}
}
