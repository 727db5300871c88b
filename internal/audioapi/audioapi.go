package audioapi

import (
	"context"
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
)

var (
	ErrNoDefaultDevice = errors.New("no default device available")
	ErrNoDeviceWithID  = errors.New("no device with specified ID")
)

type AudioIODevice struct {
	// The ID of the device
	//
	// Comes from the underlying API (e.g. miniaudio), and is the canonical way
	// to reference the device when asking the API to open it.
	ID string

	// A human-readable name for the device, if one exists.
	// Not necessary, and not canonical.
	Name string

	// The native properties (sample rate and channels) of this device, if known.
	// A zero value means the API will negotiate the format when the device is opened.
	DeviceProperties audiodevice.DeviceProperties
}

// Define an API to interface with hardware devices.
// Intended to be an abstract way to:
// - Find the default microphone input and the default capturable output
// - Open either as a CaptureSource
//
// Implementations wrap a native audio library, see internal/device.
type AudioIODeviceAPI interface {
	// The default input device, or ErrNoDefaultDevice if there is none.
	DefaultInputDevice() (AudioIODevice, error)
	InitMicrophoneSource(AudioIODevice) (audiodevice.CaptureSource, error)

	// The default output device whose mix can be captured,
	// or ErrNoDefaultDevice if there is none.
	DefaultOutputDevice() (AudioIODevice, error)
	InitSystemAudioSource(AudioIODevice) (audiodevice.CaptureSource, error)
}

// --------------------------------------------------------------------------------
// Permissions

type PermissionStatus int

const (
	PermissionUndetermined PermissionStatus = iota
	PermissionGranted
	PermissionDenied
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionUndetermined:
		return "undetermined"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "?"
}

// Gate on access to the microphone.
//
// RequestMicrophoneAccess may block until the user answers a prompt; it must honour
// cancellation of ctx.
type PermissionProvider interface {
	MicrophoneAccessStatus() PermissionStatus
	RequestMicrophoneAccess(ctx context.Context) (bool, error)
}

// A PermissionProvider for platforms without a microphone permission gate.
type AlwaysGrantedPermissions struct{}

func (AlwaysGrantedPermissions) MicrophoneAccessStatus() PermissionStatus {
	return PermissionGranted
}

func (AlwaysGrantedPermissions) RequestMicrophoneAccess(context.Context) (bool, error) {
	return true, nil
}

// --------------------------------------------------------------------------------
// Capture targets

// Resolves the output whose audio the system-audio source should capture.
// Returns audiodevice.ErrNoCaptureTarget when nothing is capturable.
type CaptureTargetResolver interface {
	DefaultCaptureTarget(ctx context.Context) (AudioIODevice, error)
}

// Resolves the capture target to the API's default output device.
type DefaultOutputResolver struct {
	API AudioIODeviceAPI
}

func (r DefaultOutputResolver) DefaultCaptureTarget(ctx context.Context) (AudioIODevice, error) {
	if err := ctx.Err(); err != nil {
		return AudioIODevice{}, err
	}
	target, err := r.API.DefaultOutputDevice()
	if errors.Is(err, ErrNoDefaultDevice) {
		return AudioIODevice{}, audiodevice.ErrNoCaptureTarget
	}
	return target, err
}
