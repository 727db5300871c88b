package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const (
	DefaultChunkFrames = 4096
	DefaultTempSuffix  = ".mix.tmp"

	// Channel 0 carries the microphone, channel 1 the system audio
	outputChannels = 2
)

var (
	ErrNotCanonical = errors.New("store is not in the canonical format")
	ErrEmptyInputs  = errors.New("both stores are empty")
)

// Summary of a completed merge
type MergeStats struct {
	MicrophoneFrames int64
	SystemFrames     int64
	OutputFrames     int64
}

// Merges a microphone store and a system-audio store into one two-channel file.
//
// Both stores are read in matched chunks. For every pair of chunks the longer one sets
// the output length, and the shorter one is padded with silence. This keeps the two
// streams roughly aligned by frame count only; there is no clock alignment.
type Mixer struct {
	logger      *slog.Logger
	chunkFrames int
	tempSuffix  string
}

func NewMixer(chunkFrames int, tempSuffix string, logger *slog.Logger) *Mixer {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	if tempSuffix == "" {
		tempSuffix = DefaultTempSuffix
	}
	return &Mixer{
		logger:      logger.With("mixer uuid", uuid.New()),
		chunkFrames: chunkFrames,
		tempSuffix:  tempSuffix,
	}
}

// Merge the microphone store into the system-audio store, replacing the system-audio
// file with the stereo result, then delete the microphone store.
//
// On failure nothing is replaced and nothing is deleted.
func (m *Mixer) MergeInPlace(ctx context.Context, micPath, systemPath string) (MergeStats, error) {
	stats, err := m.Merge(ctx, micPath, systemPath, systemPath)
	if err != nil {
		return stats, err
	}
	if err := os.Remove(micPath); err != nil {
		// The merged file is already in place, so the session output is intact
		m.logger.Warn("could not remove microphone store", "path", micPath, "err", err)
	}
	return stats, nil
}

// Merge the two stores into a stereo file at dstPath, which may be one of the inputs.
//
// The output is written to dstPath plus the temp suffix and renamed over dstPath once
// complete, so dstPath is either untouched or fully merged.
func (m *Mixer) Merge(ctx context.Context, micPath, systemPath, dstPath string) (MergeStats, error) {
	var stats MergeStats
	logger := m.logger.With("microphone", micPath, "system", systemPath, "output", dstPath)

	mic, err := openCanonical(micPath)
	if err != nil {
		return stats, err
	}
	defer mic.Close()
	system, err := openCanonical(systemPath)
	if err != nil {
		return stats, err
	}
	defer system.Close()

	stats.MicrophoneFrames = mic.NumFrames()
	stats.SystemFrames = system.NumFrames()
	if stats.MicrophoneFrames == 0 && stats.SystemFrames == 0 {
		return stats, ErrEmptyInputs
	}

	tempPath := dstPath + m.tempSuffix
	out, err := os.Create(tempPath)
	if err != nil {
		return stats, fmt.Errorf("create merge output %s: %w", tempPath, err)
	}
	outputFrames, err := m.mergeChunks(ctx, mic, system, out)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tempPath, dstPath)
	}
	if err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.Warn("could not remove merge output", "path", tempPath, "err", removeErr)
		}
		logger.Error("merge failed", "err", err)
		return stats, err
	}

	stats.OutputFrames = outputFrames
	logger.Info(
		"merge complete",
		"microphoneFrames", stats.MicrophoneFrames,
		"systemFrames", stats.SystemFrames,
		"outputFrames", stats.OutputFrames,
	)
	return stats, nil
}

func (m *Mixer) mergeChunks(
	ctx context.Context,
	mic, system *device.StreamReader,
	out *os.File,
) (int64, error) {
	encoder := wav.NewEncoder(
		out,
		audiodevice.CanonicalProperties.SampleRate,
		device.FloatBitDepth,
		outputChannels,
		device.WavFormatIEEEFloat,
	)

	micChunk := make(frame.PCMFrame, m.chunkFrames)
	systemChunk := make(frame.PCMFrame, m.chunkFrames)
	outBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: outputChannels,
			SampleRate:  audiodevice.CanonicalProperties.SampleRate,
		},
		Data:           make([]int, outputChannels*m.chunkFrames),
		SourceBitDepth: device.FloatBitDepth,
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		micLen, err := mic.ReadChunk(micChunk)
		if err != nil {
			return total, fmt.Errorf("read microphone store: %w", err)
		}
		systemLen, err := system.ReadChunk(systemChunk)
		if err != nil {
			return total, fmt.Errorf("read system store: %w", err)
		}

		n := max(micLen, systemLen)
		if n == 0 {
			break
		}

		data := outBuf.Data[:outputChannels*n]
		for i := 0; i < n; i++ {
			var micSample, systemSample float32
			if i < micLen {
				micSample = micChunk[i]
			}
			if i < systemLen {
				systemSample = systemChunk[i]
			}
			data[2*i] = floatToEncoded(micSample)
			data[2*i+1] = floatToEncoded(systemSample)
		}

		chunk := *outBuf
		chunk.Data = data
		if err := encoder.Write(&chunk); err != nil {
			return total, fmt.Errorf("write merged chunk: %w", err)
		}
		total += int64(n)
	}

	if err := encoder.Close(); err != nil {
		return total, fmt.Errorf("finalize merge output: %w", err)
	}
	return total, nil
}

func openCanonical(path string) (*device.StreamReader, error) {
	r, err := device.OpenStreamReader(path)
	if err != nil {
		return nil, err
	}
	if r.GetDeviceProperties() != audiodevice.CanonicalProperties {
		r.Close()
		return nil, fmt.Errorf("%w: %s is %+v", ErrNotCanonical, path, r.GetDeviceProperties())
	}
	return r, nil
}

// The wav encoder writes 32 bit samples as int32; passing the float bits through
// an int32 stores the float unchanged.
func floatToEncoded(v float32) int {
	return int(int32(math.Float32bits(v)))
}
