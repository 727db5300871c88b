package audioapi

import (
	"fmt"
	"log/slog"
	"sync"

	internaldevice "github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/device"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

type MalgoAPI struct {
	logger       *slog.Logger
	audio        *malgo.AllocatedContext
	bufferFrames uint32
	closeOnce    sync.Once
}

// Create a new MalgoAPI, with a period size to be given to all created sources
func NewMalgoAPI(bufferFrames uint32) (*MalgoAPI, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"malgo api uuid", uuid,
	)

	audio, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		logger.Error("failed to create malgo context", "err", err)
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	return &MalgoAPI{
		logger:       logger,
		audio:        audio,
		bufferFrames: bufferFrames,
	}, nil
}

func (api *MalgoAPI) devices(kind malgo.DeviceType) ([]malgo.DeviceInfo, error) {
	devices, err := api.audio.Devices(kind)
	if err != nil {
		api.logger.Error("failed to enumerate devices", "kind", kind, "err", err)
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	return devices, nil
}

func toAudioIODevice(info *malgo.DeviceInfo) AudioIODevice {
	return AudioIODevice{
		ID:   info.ID.String(),
		Name: info.Name(),
	}
}

func (api *MalgoAPI) defaultDevice(kind malgo.DeviceType) (AudioIODevice, error) {
	devices, err := api.devices(kind)
	if err != nil {
		return AudioIODevice{}, err
	}
	for i := range devices {
		if devices[i].IsDefault != 0 {
			return toAudioIODevice(&devices[i]), nil
		}
	}
	return AudioIODevice{}, ErrNoDefaultDevice
}

func (api *MalgoAPI) findDevice(kind malgo.DeviceType, ioDevice AudioIODevice) (*malgo.DeviceID, error) {
	devices, err := api.devices(kind)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID.String() == ioDevice.ID {
			id := devices[i].ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDeviceWithID, ioDevice.ID)
}

func (api *MalgoAPI) DefaultInputDevice() (AudioIODevice, error) {
	return api.defaultDevice(malgo.Capture)
}

func (api *MalgoAPI) DefaultOutputDevice() (AudioIODevice, error) {
	return api.defaultDevice(malgo.Playback)
}

func (api *MalgoAPI) InitMicrophoneSource(ioDevice AudioIODevice) (audiodevice.CaptureSource, error) {
	id, err := api.findDevice(malgo.Capture, ioDevice)
	if err != nil {
		return nil, err
	}
	return internaldevice.NewMalgoCaptureSource(
		"microphone",
		api.audio.Context,
		malgo.Capture,
		id,
		ioDevice.DeviceProperties,
		api.bufferFrames,
	), nil
}

// Opens a loopback source on the given output device
func (api *MalgoAPI) InitSystemAudioSource(ioDevice AudioIODevice) (audiodevice.CaptureSource, error) {
	id, err := api.findDevice(malgo.Playback, ioDevice)
	if err != nil {
		return nil, err
	}
	return internaldevice.NewMalgoCaptureSource(
		"system audio",
		api.audio.Context,
		malgo.Loopback,
		id,
		ioDevice.DeviceProperties,
		api.bufferFrames,
	), nil
}

// Release the audio context. Sources created by this API must be stopped first.
func (api *MalgoAPI) Close() {
	api.closeOnce.Do(func() {
		if err := api.audio.Uninit(); err != nil {
			api.logger.Error("failed to release audio context", "err", err)
		}
		api.audio.Free()
	})
}
