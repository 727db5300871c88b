package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------
// FileCaptureSource

// A CaptureSource that replays a .WAV file as if it were a live device.
//
// The file is delivered in buffers of bufferDuration, in the file's own sample rate
// and channel count, so downstream normalization sees exactly what a device with that
// format would produce. When realtime is set, buffers are paced by a ticker; otherwise
// they are delivered as fast as the consumer accepts them.
//
// Delivery happens on a single goroutine, so buffers are never delivered concurrently.
type FileCaptureSource struct {
	logger *slog.Logger
	uuid   uuid.UUID
	name   string

	audioFilePath  string
	bufferDuration time.Duration
	realtime       bool
	properties     audiodevice.DeviceProperties
	maxBuffers     int

	mu            sync.Mutex
	ctxCancelFunc context.CancelFunc
	done          chan struct{}
}

// Make a new FileCaptureSource from a .WAV file (on the audioFilePath).
// The file is checked for validity here, but only read once the source is started.
func NewFileCaptureSource(
	name string,
	audioFilePath string,
	bufferDuration time.Duration,
	realtime bool,
) (*FileCaptureSource, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file capture source uuid", uuid,
		"source", name,
	)

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, errors.New("error while decoding audio file")
	}

	framesPerBuffer := int(float64(decoder.SampleRate) * bufferDuration.Seconds())
	if framesPerBuffer <= 0 {
		logger.Error(
			"non-positive frames per buffer during opening of file capture source",
			"audioFile", audioFilePath,
			"sampleRate", decoder.SampleRate,
			"bufferDuration", bufferDuration,
		)
		return nil, errors.New("non-positive frames per buffer")
	}

	// An upper bound from the file size, which also counts the header
	var maxBuffers int
	if info, err := f.Stat(); err == nil {
		bytesPerBuffer := int64(framesPerBuffer) * int64(decoder.NumChans) * int64(max(decoder.BitDepth/8, 1))
		maxBuffers = int(info.Size()/bytesPerBuffer) + 1
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"bitDepth", decoder.BitDepth,
	)

	return &FileCaptureSource{
		logger:         logger,
		uuid:           uuid,
		name:           name,
		audioFilePath:  audioFilePath,
		bufferDuration: bufferDuration,
		realtime:       realtime,
		properties: audiodevice.DeviceProperties{
			SampleRate:  int(decoder.SampleRate),
			NumChannels: int(decoder.NumChans),
		},
		maxBuffers: maxBuffers,
	}, nil
}

func (d *FileCaptureSource) Name() string {
	return d.name
}

func (d *FileCaptureSource) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// At least as many buffers as the file will be delivered in.
func (d *FileCaptureSource) MaxBuffers() int {
	return d.maxBuffers
}

// Decode the file and begin delivering it. Delivery stops at the end of the file
// or when Stop is called.
func (d *FileCaptureSource) Start(ctx context.Context, deliver audiodevice.DeliverFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return fmt.Errorf("file capture source %s already started", d.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	samples, err := d.decode()
	if err != nil {
		d.logger.Error("could not decode audio file", "audioFile", d.audioFilePath, "err", err)
		return err
	}

	playCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.ctxCancelFunc = cancel
	d.done = done

	go d.play(playCtx, samples, deliver, done)
	d.logger.Debug("playing audio")
	return nil
}

// Stop delivery and wait for the delivery goroutine to exit.
func (d *FileCaptureSource) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return nil
	}
	d.ctxCancelFunc()
	<-d.done
	d.done = nil
	d.logger.Debug("stopped")
	return nil
}

// Blocks until the whole file has been delivered, or the source is stopped.
// Returns immediately if the source is not running.
func (d *FileCaptureSource) WaitForEnd() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

// --------------------------------------------------------------------------------

func (d *FileCaptureSource) play(
	ctx context.Context,
	samples frame.PCMFrame,
	deliver audiodevice.DeliverFunc,
	done chan struct{},
) {
	defer close(done)

	samplesPerBuffer := int(float64(d.properties.SampleRate)*d.bufferDuration.Seconds()) * d.properties.NumChannels
	var ticks <-chan time.Time
	if d.realtime {
		ticker := time.NewTicker(d.bufferDuration)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for bufferStart := 0; bufferStart < len(samples); bufferStart += samplesPerBuffer {
		if ticks != nil {
			select {
			case <-ticks:
			case <-ctx.Done():
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		bufferEnd := min(bufferStart+samplesPerBuffer, len(samples))
		pcmFrame := make(frame.PCMFrame, bufferEnd-bufferStart)
		copy(pcmFrame, samples[bufferStart:bufferEnd])
		deliver(frame.PCMBuffer{
			Samples:     pcmFrame,
			SampleRate:  d.properties.SampleRate,
			NumChannels: d.properties.NumChannels,
		})
	}
	d.logger.Debug("finished playing")
}

// Read the whole file as float32 samples in [-1, 1].
func (d *FileCaptureSource) decode() (frame.PCMFrame, error) {
	f, err := os.Open(d.audioFilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not get full PCM buffer from %s: %w", d.audioFilePath, err)
	}
	return intBufferToPCMFrame(buf, int(decoder.WavAudioFormat)), nil
}

func intBufferToPCMFrame(buf *goaudio.IntBuffer, wavAudioFormat int) frame.PCMFrame {
	out := make(frame.PCMFrame, len(buf.Data))
	switch {
	case wavAudioFormat == WavFormatIEEEFloat && buf.SourceBitDepth == FloatBitDepth:
		for i, v := range buf.Data {
			out[i] = math.Float32frombits(uint32(int32(v)))
		}
	case buf.SourceBitDepth == 8:
		// 8 bit WAV samples are unsigned
		for i, v := range buf.Data {
			out[i] = float32(v-128) / 128
		}
	default:
		maxValue := float32(goaudio.IntMaxSignedValue(buf.SourceBitDepth))
		if maxValue == 0 {
			maxValue = math.MaxInt16
		}
		for i, v := range buf.Data {
			out[i] = float32(v) / maxValue
		}
	}
	return out
}
