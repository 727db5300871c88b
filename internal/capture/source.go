package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
)

// --------------------------------------------------------------------------------
// MicrophoneSource

// Captures the default microphone input, gated on microphone access.
//
// If access has not been decided yet, Start asks the PermissionProvider once and
// waits for the answer. A MicrophoneSource is meant to live for a single session,
// so access is requested at most once per session.
type MicrophoneSource struct {
	logger      *slog.Logger
	api         audioapi.AudioIODeviceAPI
	permissions audioapi.PermissionProvider

	mu        sync.Mutex
	requested bool
	device    audiodevice.CaptureSource
}

func NewMicrophoneSource(
	api audioapi.AudioIODeviceAPI,
	permissions audioapi.PermissionProvider,
	logger *slog.Logger,
) *MicrophoneSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MicrophoneSource{
		logger:      logger.With("source", "microphone"),
		api:         api,
		permissions: permissions,
	}
}

func (s *MicrophoneSource) Name() string {
	return "microphone"
}

func (s *MicrophoneSource) Start(ctx context.Context, deliver audiodevice.DeliverFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAccess(ctx); err != nil {
		return err
	}

	input, err := s.api.DefaultInputDevice()
	if errors.Is(err, audioapi.ErrNoDefaultDevice) {
		s.logger.Warn("no microphone input device")
		return ErrNoMicrophoneInput
	}
	if err != nil {
		return fmt.Errorf("could not find microphone input: %w", err)
	}

	device, err := s.api.InitMicrophoneSource(input)
	if err != nil {
		return fmt.Errorf("could not open microphone %q: %w", input.Name, err)
	}
	if err := device.Start(ctx, deliver); err != nil {
		return fmt.Errorf("could not start microphone %q: %w", input.Name, err)
	}
	s.device = device

	s.logger.Info("microphone started", "device", input.Name)
	return nil
}

func (s *MicrophoneSource) checkAccess(ctx context.Context) error {
	switch status := s.permissions.MicrophoneAccessStatus(); status {
	case audioapi.PermissionGranted:
		return nil
	case audioapi.PermissionDenied:
		return ErrPermissionDenied
	}

	if s.requested {
		return ErrPermissionDenied
	}
	s.requested = true

	s.logger.Info("requesting microphone access")
	granted, err := s.permissions.RequestMicrophoneAccess(ctx)
	if err != nil {
		return fmt.Errorf("microphone access request failed: %w", err)
	}
	if !granted {
		s.logger.Warn("microphone access refused")
		return ErrPermissionDenied
	}
	return nil
}

func (s *MicrophoneSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	err := s.device.Stop()
	s.device = nil
	return err
}

// --------------------------------------------------------------------------------
// SystemAudioSource

// Captures the audio the machine is playing, from the default capture target.
type SystemAudioSource struct {
	logger   *slog.Logger
	api      audioapi.AudioIODeviceAPI
	resolver audioapi.CaptureTargetResolver

	mu     sync.Mutex
	device audiodevice.CaptureSource
}

func NewSystemAudioSource(
	api audioapi.AudioIODeviceAPI,
	resolver audioapi.CaptureTargetResolver,
	logger *slog.Logger,
) *SystemAudioSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemAudioSource{
		logger:   logger.With("source", "system audio"),
		api:      api,
		resolver: resolver,
	}
}

func (s *SystemAudioSource) Name() string {
	return "system audio"
}

func (s *SystemAudioSource) Start(ctx context.Context, deliver audiodevice.DeliverFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.resolver.DefaultCaptureTarget(ctx)
	if errors.Is(err, ErrNoCaptureTarget) {
		s.logger.Warn("no capture target available")
		return ErrNoCaptureTarget
	}
	if err != nil {
		return fmt.Errorf("could not resolve capture target: %w", err)
	}

	device, err := s.api.InitSystemAudioSource(target)
	if err != nil {
		return fmt.Errorf("could not open capture target %q: %w", target.Name, err)
	}
	if err := device.Start(ctx, deliver); err != nil {
		return fmt.Errorf("could not start capture target %q: %w", target.Name, err)
	}
	s.device = device

	s.logger.Info("system audio started", "target", target.Name)
	return nil
}

func (s *SystemAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	err := s.device.Stop()
	s.device = nil
	return err
}
