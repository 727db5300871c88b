package audioapi

import (
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
)

// A dummy API serving a fixed microphone and system-audio source.
//
// A nil source means "no such device": the matching Default...Device call returns
// ErrNoDefaultDevice. The sources themselves are handed out as-is, so tests can keep
// a reference to them and inspect how they were used.
//
// This API is intended to be used in testing and offline simulation only!
type DummyAudioIODeviceAPI struct {
	microphone  audiodevice.CaptureSource
	systemAudio audiodevice.CaptureSource
}

func NewDummyAudioIODeviceAPI(microphone, systemAudio audiodevice.CaptureSource) DummyAudioIODeviceAPI {
	return DummyAudioIODeviceAPI{
		microphone:  microphone,
		systemAudio: systemAudio,
	}
}

func (api DummyAudioIODeviceAPI) DefaultInputDevice() (AudioIODevice, error) {
	if api.microphone == nil {
		return AudioIODevice{}, ErrNoDefaultDevice
	}
	return AudioIODevice{ID: "dummy-input", Name: api.microphone.Name()}, nil
}

func (api DummyAudioIODeviceAPI) InitMicrophoneSource(device AudioIODevice) (audiodevice.CaptureSource, error) {
	if api.microphone == nil || device.ID != "dummy-input" {
		return nil, ErrNoDeviceWithID
	}
	return api.microphone, nil
}

func (api DummyAudioIODeviceAPI) DefaultOutputDevice() (AudioIODevice, error) {
	if api.systemAudio == nil {
		return AudioIODevice{}, ErrNoDefaultDevice
	}
	return AudioIODevice{ID: "dummy-output", Name: api.systemAudio.Name()}, nil
}

func (api DummyAudioIODeviceAPI) InitSystemAudioSource(device AudioIODevice) (audiodevice.CaptureSource, error) {
	if api.systemAudio == nil || device.ID != "dummy-output" {
		return nil, ErrNoDeviceWithID
	}
	return api.systemAudio, nil
}
