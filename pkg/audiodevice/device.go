package audiodevice

import (
	"context"
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
)

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// The format every captured buffer is normalized to before it is stored or mixed:
// mono, 16 kHz, float32 samples.
var CanonicalProperties = DeviceProperties{
	SampleRate:  16000,
	NumChannels: 1,
}

var (
	ErrPermissionDenied  = errors.New("microphone access denied")
	ErrNoCaptureTarget   = errors.New("no capturable output target available")
	ErrNoMicrophoneInput = errors.New("no microphone input device available")
)

// Called by a CaptureSource for every buffer of captured audio.
//
// Ownership of the buffer passes to the callee. A DeliverFunc must return
// quickly, it is called from the audio delivery path.
type DeliverFunc func(frame.PCMBuffer)

// Interface for a live capture source, e.g. a microphone or the system audio output.
//
// Start may block while waiting on the OS (permission prompts, device availability)
// and honours cancellation of the given context while doing so.
// Once Start returns nil, buffers arrive on deliver until Stop is called or the
// device fails. After Stop returns, deliver is never called again.
type CaptureSource interface {
	Start(ctx context.Context, deliver DeliverFunc) error

	// Stop the source. Calling Stop on a source that is not running is a no-op.
	Stop() error

	// A short human-readable name for logging, e.g. "microphone".
	Name() string
}
