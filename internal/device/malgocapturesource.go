package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

var ErrSourceStarted = errors.New("capture source already started")

const bytesPerFloat32 = 4

// MalgoCaptureSource is a CaptureSource backed by a miniaudio capture device.
//
// With kind malgo.Capture it records a microphone. With kind malgo.Loopback it records
// the mix being played to an output device, which is how system audio is captured.
// Buffers are delivered from the audio thread in the device's native format.
type MalgoCaptureSource struct {
	logger *slog.Logger
	uuid   uuid.UUID
	name   string

	audioContext malgo.Context
	kind         malgo.DeviceType
	deviceID     malgo.DeviceID
	hasDeviceID  bool
	bufferFrames uint32
	properties   audiodevice.DeviceProperties

	mu       sync.Mutex
	device   *malgo.Device
	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// Create a capture source on an already initialised malgo context.
// A nil deviceID selects the backend's default device.
// bufferFrames sets the period size (typically 512 or 1024); zero lets the backend choose.
func NewMalgoCaptureSource(
	name string,
	audioContext malgo.Context,
	kind malgo.DeviceType,
	deviceID *malgo.DeviceID,
	properties audiodevice.DeviceProperties,
	bufferFrames uint32,
) *MalgoCaptureSource {
	uuid := uuid.New()
	logger := slog.Default().With(
		"malgo capture source uuid", uuid,
		"source", name,
	)

	source := &MalgoCaptureSource{
		logger:       logger,
		uuid:         uuid,
		name:         name,
		audioContext: audioContext,
		kind:         kind,
		bufferFrames: bufferFrames,
		properties:   properties,
	}
	if deviceID != nil {
		source.deviceID = *deviceID
		source.hasDeviceID = true
	}
	return source
}

func (s *MalgoCaptureSource) Name() string {
	return s.name
}

// Open the device and begin delivering buffers.
// deliver is called on the audio thread and must not block.
func (s *MalgoCaptureSource) Start(ctx context.Context, deliver audiodevice.DeliverFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return ErrSourceStarted
	}

	deviceConfig := malgo.DefaultDeviceConfig(s.kind)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(max(s.properties.NumChannels, 0))
	deviceConfig.SampleRate = uint32(max(s.properties.SampleRate, 0))
	deviceConfig.PeriodSizeInFrames = s.bufferFrames
	if s.hasDeviceID {
		// Loopback devices also take the playback device to monitor through the capture ID
		deviceConfig.Capture.DeviceID = s.deviceID.Pointer()
	}

	// Filled in once the device reports its negotiated format
	var sampleRate, numChannels atomic.Int32

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSample []byte, frameCount uint32) {
			channels := int(numChannels.Load())
			if channels <= 0 || len(pInputSample) == 0 {
				return
			}

			deliver(frame.PCMBuffer{
				Samples:     decodeFloat32LE(pInputSample),
				SampleRate:  int(sampleRate.Load()),
				NumChannels: channels,
			})
		},
		Stop: func() {
			if !s.stopping.Load() {
				s.logger.Warn("capture device stopped unexpectedly")
			}
		},
	}

	device, err := malgo.InitDevice(s.audioContext, deviceConfig, callbacks)
	if err != nil {
		s.logger.Error("failed to open capture device", "err", err)
		return fmt.Errorf("failed to open capture device %q: %w", s.name, err)
	}
	sampleRate.Store(int32(device.SampleRate()))
	numChannels.Store(int32(device.CaptureChannels()))

	if err := device.Start(); err != nil {
		device.Uninit()
		s.logger.Error("failed to start capture device", "err", err)
		return fmt.Errorf("failed to start capture device %q: %w", s.name, err)
	}
	s.device = device

	s.logger.Info(
		"capture device started",
		"sampleRate", device.SampleRate(),
		"channels", device.CaptureChannels(),
		"bufferFrames", s.bufferFrames,
	)
	return nil
}

// Stop the device. No buffers are delivered once Stop returns.
// Calling Stop more than once, or before Start, is a no-op.
func (s *MalgoCaptureSource) Stop() error {
	s.logger.Debug("stop called")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if err := s.device.Stop(); err != nil {
			s.logger.Error("error stopping capture device", "err", err)
			s.stopErr = fmt.Errorf("failed to stop capture device %q: %w", s.name, err)
		}
		s.device.Uninit()
		s.logger.Info("capture device closed")
	})
	return s.stopErr
}

// The format the device was asked for; the device may negotiate a different one,
// which is reported on every delivered buffer.
func (s *MalgoCaptureSource) GetDeviceProperties() audiodevice.DeviceProperties {
	return s.properties
}

// Copy little endian float32 samples out of a device buffer.
// miniaudio reuses the buffer once the callback returns.
func decodeFloat32LE(raw []byte) frame.PCMFrame {
	samples := make(frame.PCMFrame, len(raw)/bytesPerFloat32)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerFloat32:]))
	}
	return samples
}
