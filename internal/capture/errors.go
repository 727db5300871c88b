package capture

import (
	"errors"
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
)

var (
	ErrAlreadyCapturing   = errors.New("a capture session is already in progress")
	ErrNotCapturing       = errors.New("no capture session is active")
	ErrStartInProgress    = errors.New("capture session is still starting")
	ErrRelativeOutputPath = errors.New("output path must be absolute")

	// Source errors, re-exported so callers only need this package
	ErrPermissionDenied  = audiodevice.ErrPermissionDenied
	ErrNoCaptureTarget   = audiodevice.ErrNoCaptureTarget
	ErrNoMicrophoneInput = audiodevice.ErrNoMicrophoneInput
)

// A filesystem operation on a session store failed.
type IOFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("io failure: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}

// Merging the microphone store into the system-audio file failed.
// The system-audio file is left as it was captured.
type MixFailure struct {
	Reason string
	Err    error
}

func (e *MixFailure) Error() string {
	if e.Err == nil {
		return "mix failure: " + e.Reason
	}
	return fmt.Sprintf("mix failure: %s: %v", e.Reason, e.Err)
}

func (e *MixFailure) Unwrap() error {
	return e.Err
}
