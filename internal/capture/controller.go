package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/mixer"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice/device"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Status int

const (
	StatusIdle Status = iota
	StatusStarting
	StatusActive
	StatusStopping
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusStopping:
		return "stopping"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "?"
}

// A session in one of these states blocks a new one from starting
func (s Status) inProgress() bool {
	return s == StatusStarting || s == StatusActive || s == StatusStopping
}

type Config struct {
	// Buffers held per source before new buffers are dropped
	QueueSize int

	// Quality passed to the resampler, 0 (fastest) to 10 (best)
	ResampleQuality int

	// Frames read from each store per merge step
	MixChunkFrames int

	// Appended to the output path to name the microphone store
	MicrophoneSuffix string

	// Appended to the output path to name the in-progress merge output
	MixSuffix string
}

func DefaultConfig() Config {
	return Config{
		QueueSize:        64,
		ResampleQuality:  device.DefaultResampleQuality,
		MixChunkFrames:   mixer.DefaultChunkFrames,
		MicrophoneSuffix: ".mic.tmp",
		MixSuffix:        mixer.DefaultTempSuffix,
	}
}

// Outcome of a stopped session
type Result struct {
	SessionID  uuid.UUID
	OutputPath string
	Status     Status

	// 2 when the microphone was merged in, 1 when the output is system audio only
	Channels int

	MicrophoneFrames int64
	SystemFrames     int64
	OutputFrames     int64

	// Buffers lost to a full queue, and to failed writes, across both sources
	QueueDrops    int64
	WriteFailures int64

	// First error from stopping the sources. Not fatal to the session.
	StopErr error
}

type session struct {
	id         uuid.UUID
	logger     *slog.Logger
	outputPath string

	microphone    *MicrophoneSource
	systemAudio   *SystemAudioSource
	micPipe       *sourcePipeline
	systemPipe    *sourcePipeline
	micStarted    bool
	systemStarted bool

	err error
}

// Orchestrates capture sessions: opens both sources and their stores, stops them,
// and merges the result into a single file.
//
// At most one session is starting, active or stopping at a time. Once a session
// completes or fails, a new one may be started.
type Controller struct {
	logger      *slog.Logger
	api         audioapi.AudioIODeviceAPI
	permissions audioapi.PermissionProvider
	resolver    audioapi.CaptureTargetResolver
	config      Config
	mixer       *mixer.Mixer
	openStore   func(path string, logger *slog.Logger) (*device.StreamWriter, error)

	mu      sync.Mutex
	status  Status
	session *session
}

func NewController(
	api audioapi.AudioIODeviceAPI,
	permissions audioapi.PermissionProvider,
	resolver audioapi.CaptureTargetResolver,
	config Config,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("capture controller uuid", uuid.New())

	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.MicrophoneSuffix == "" {
		config.MicrophoneSuffix = defaults.MicrophoneSuffix
	}
	if config.MixSuffix == "" {
		config.MixSuffix = defaults.MixSuffix
	}

	return &Controller{
		logger:      logger,
		api:         api,
		permissions: permissions,
		resolver:    resolver,
		config:      config,
		mixer:       mixer.NewMixer(config.MixChunkFrames, config.MixSuffix, logger),
		openStore: func(path string, logger *slog.Logger) (*device.StreamWriter, error) {
			return device.CreateStreamWriter(path, audiodevice.CanonicalProperties, logger)
		},
		status: StatusIdle,
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// The ID of the current or most recent session, or uuid.Nil before the first one.
func (c *Controller) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return uuid.Nil
	}
	return c.session.id
}

// The error that failed the most recent session, if it failed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.err
}

func (c *Controller) setStatus(s *session, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	if err != nil && s.err == nil {
		s.err = err
	}
	s.logger.Info("session status changed", "status", status)
}

// --------------------------------------------------------------------------------
// Start

// Start a session recording to outputPath, which must be absolute.
//
// Start blocks until both sources are running, which may include waiting on a
// microphone permission prompt. On any failure, everything opened so far is torn
// down, the stores are deleted, and the first error is returned.
func (c *Controller) Start(ctx context.Context, outputPath string) error {
	if !filepath.IsAbs(outputPath) {
		return fmt.Errorf("%w: %s", ErrRelativeOutputPath, outputPath)
	}

	c.mu.Lock()
	if status := c.status; status.inProgress() {
		c.mu.Unlock()
		c.logger.Warn("start rejected, session in progress", "status", status)
		return ErrAlreadyCapturing
	}
	id := uuid.New()
	s := &session{
		id:         id,
		logger:     c.logger.With("session uuid", id),
		outputPath: outputPath,
	}
	c.session = s
	c.status = StatusStarting
	c.mu.Unlock()

	s.logger.Info("starting capture session", "output", outputPath)
	if err := c.startSession(ctx, s); err != nil {
		if cleanupErr := c.abortSession(s); cleanupErr != nil {
			s.logger.Warn("cleanup after failed start was incomplete", "err", cleanupErr)
		}
		s.logger.Error("capture session failed to start", "err", err)
		c.setStatus(s, StatusFailed, err)
		return err
	}

	c.setStatus(s, StatusActive, nil)
	return nil
}

func (c *Controller) startSession(ctx context.Context, s *session) error {
	micPath := s.outputPath + c.config.MicrophoneSuffix
	micWriter, err := c.openStore(micPath, s.logger)
	if err != nil {
		return &IOFailure{Op: "create", Path: micPath, Err: err}
	}
	s.micPipe = newSourcePipeline("microphone", micWriter, c.config.QueueSize, c.config.ResampleQuality, s.logger)

	s.microphone = NewMicrophoneSource(c.api, c.permissions, s.logger)
	if err := s.microphone.Start(ctx, s.micPipe.deliver); err != nil {
		return err
	}
	s.micStarted = true

	systemWriter, err := c.openStore(s.outputPath, s.logger)
	if err != nil {
		return &IOFailure{Op: "create", Path: s.outputPath, Err: err}
	}
	s.systemPipe = newSourcePipeline("system audio", systemWriter, c.config.QueueSize, c.config.ResampleQuality, s.logger)

	s.systemAudio = NewSystemAudioSource(c.api, c.resolver, s.logger)
	if err := s.systemAudio.Start(ctx, s.systemPipe.deliver); err != nil {
		return err
	}
	s.systemStarted = true
	return nil
}

// Best-effort teardown of a session that failed to start
func (c *Controller) abortSession(s *session) error {
	var errs []error
	if s.micStarted {
		errs = append(errs, s.microphone.Stop())
	}
	if s.systemStarted {
		errs = append(errs, s.systemAudio.Stop())
	}
	for _, p := range []*sourcePipeline{s.micPipe, s.systemPipe} {
		if p == nil {
			continue
		}
		errs = append(errs, p.close())
		if err := os.Remove(p.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, &IOFailure{Op: "remove", Path: p.path(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------------
// Stop

// Stop the active session: stop both sources, finalize their stores and merge the
// microphone into the output file if it recorded anything.
//
// Errors stopping the sources are reported in the Result but do not fail the session.
// A merge failure fails the session and returns a *MixFailure; the output file then
// holds the system audio exactly as captured. So does a microphone store that could
// not be finalized, reported as an *IOFailure.
func (c *Controller) Stop(ctx context.Context) (Result, error) {
	c.mu.Lock()
	switch c.status {
	case StatusStarting:
		c.mu.Unlock()
		return Result{}, ErrStartInProgress
	case StatusActive:
	default:
		c.mu.Unlock()
		return Result{}, ErrNotCapturing
	}
	s := c.session
	c.status = StatusStopping
	c.mu.Unlock()
	s.logger.Info("stopping capture session")

	result := Result{
		SessionID:  s.id,
		OutputPath: s.outputPath,
	}

	// Each source stops independently; one failing does not keep the other running
	var g errgroup.Group
	g.Go(s.microphone.Stop)
	g.Go(s.systemAudio.Stop)
	if err := g.Wait(); err != nil {
		s.logger.Error("error stopping capture sources", "err", err)
		result.StopErr = err
	}

	micErr := s.micPipe.close()
	if micErr != nil {
		s.logger.Error("could not finalize microphone store", "err", micErr)
	}
	if err := s.systemPipe.close(); err != nil {
		// Without a finalized system store there is nothing safe to merge into
		c.removeStore(s, s.micPipe.path())
		failure := &IOFailure{Op: "finalize", Path: s.outputPath, Err: err}
		c.setStatus(s, StatusFailed, failure)
		c.fillCounters(&result, s)
		result.Status = StatusFailed
		return result, failure
	}
	c.fillCounters(&result, s)

	if micErr != nil {
		// An unfinalized header declares no data, so merging it would yield a silent channel
		c.removeStore(s, s.micPipe.path())
		failure := &IOFailure{Op: "finalize", Path: s.micPipe.path(), Err: micErr}
		result.Channels = 1
		result.OutputFrames = result.SystemFrames
		result.Status = StatusFailed
		c.setStatus(s, StatusFailed, failure)
		return result, failure
	}

	if result.MicrophoneFrames == 0 {
		s.logger.Info("microphone recorded nothing, keeping system audio only")
		c.removeStore(s, s.micPipe.path())
		result.Channels = 1
		result.OutputFrames = result.SystemFrames
		result.Status = StatusCompleted
		c.setStatus(s, StatusCompleted, nil)
		return result, nil
	}

	stats, err := c.mixer.MergeInPlace(ctx, s.micPipe.path(), s.outputPath)
	if err != nil {
		c.removeStore(s, s.micPipe.path())
		failure := &MixFailure{Reason: "could not merge microphone into output", Err: err}
		result.Channels = 1
		result.OutputFrames = result.SystemFrames
		result.Status = StatusFailed
		c.setStatus(s, StatusFailed, failure)
		return result, failure
	}

	result.Channels = 2
	result.OutputFrames = stats.OutputFrames
	result.Status = StatusCompleted
	c.setStatus(s, StatusCompleted, nil)
	return result, nil
}

func (c *Controller) fillCounters(result *Result, s *session) {
	result.MicrophoneFrames = s.micPipe.framesWritten()
	result.SystemFrames = s.systemPipe.framesWritten()
	result.QueueDrops = s.micPipe.queueDrops.Load() + s.systemPipe.queueDrops.Load()
	result.WriteFailures = s.micPipe.writeErrors.Load() + s.systemPipe.writeErrors.Load()
}

func (c *Controller) removeStore(s *session, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("could not remove store", "path", path, "err", err)
	}
}
