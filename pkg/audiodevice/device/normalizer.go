package device

import (
	"log/slog"
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	DefaultResampleQuality = 10

	// Source rates within this many Hz of the target are passed through untouched.
	sampleRateToleranceHz = 1

	// The resampler holds back its filter latency until more input arrives,
	// so the input is followed by silence until the expected length is reached.
	// This bounds how many blocks of silence are fed in.
	maxFlushPasses = 4
)

// Converts buffers of any format into a target format (by default the canonical
// mono 16 kHz format).
//
// Multi-channel audio is reduced to mono by taking the arithmetic mean across channels.
// Resampling is done per buffer, with no state carried between buffers. This can leave
// small discontinuities at buffer edges, which is accepted.
//
// A Normalizer is not safe for concurrent use; each source pipeline owns its own.
type Normalizer struct {
	logger          *slog.Logger
	sinkProperties  audiodevice.DeviceProperties
	resampleQuality int

	monoBuf frame.PCMFrame
}

func NewNormalizer(
	sinkProperties audiodevice.DeviceProperties,
	resampleQuality int,
	logger *slog.Logger,
) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if resampleQuality < 0 || resampleQuality > 10 {
		resampleQuality = DefaultResampleQuality
	}
	return &Normalizer{
		logger:          logger,
		sinkProperties:  sinkProperties,
		resampleQuality: resampleQuality,
	}
}

func (n *Normalizer) GetDeviceProperties() audiodevice.DeviceProperties {
	return n.sinkProperties
}

// Normalize a buffer to the sink format.
//
// The returned frame is newly allocated and owned by the caller.
// A buffer that yields no output frames returns nil; this is not an error.
func (n *Normalizer) Normalize(buf frame.PCMBuffer) frame.PCMFrame {
	numFrames := buf.NumFrames()
	if numFrames == 0 || buf.SampleRate <= 0 {
		return nil
	}

	mono := n.downmix(buf, numFrames)

	var out frame.PCMFrame
	if abs(buf.SampleRate-n.sinkProperties.SampleRate) > sampleRateToleranceHz {
		out = resample(mono, buf.SampleRate, n.sinkProperties.SampleRate, n.resampleQuality)
	} else {
		out = make(frame.PCMFrame, len(mono))
		copy(out, mono)
	}
	if len(out) == 0 {
		n.logger.Debug("buffer produced no frames after conversion", "sourceFrames", numFrames, "sourceRate", buf.SampleRate)
		return nil
	}

	if n.sinkProperties.NumChannels > 1 {
		return upmix(out, n.sinkProperties.NumChannels)
	}
	return out
}

// --------------------------------------------------------------------------------

func (n *Normalizer) downmix(buf frame.PCMBuffer, numFrames int) frame.PCMFrame {
	if buf.NumChannels == 1 {
		return buf.Samples[:numFrames]
	}

	if cap(n.monoBuf) < numFrames {
		n.monoBuf = make(frame.PCMFrame, numFrames)
	}
	mono := n.monoBuf[:numFrames]
	channels := buf.NumChannels
	scale := 1 / float32(channels)
	for i := 0; i < numFrames; i++ {
		var sum float32
		for _, v := range buf.Samples[i*channels : (i+1)*channels] {
			sum += v
		}
		mono[i] = sum * scale
	}
	return mono
}

func upmix(mono frame.PCMFrame, channels int) frame.PCMFrame {
	out := make(frame.PCMFrame, len(mono)*channels)
	for i, v := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

// Resample a mono frame from one rate to another using a fresh resampler,
// producing round(len(in) * to / from) output samples.
//
// The resampler skips its leading zeros so output sample 0 lines up with input
// sample 0; a plain resampler.New would emit its filter latency as silence at
// the start of every buffer.
func resample(in frame.PCMFrame, from, to, quality int) frame.PCMFrame {
	want := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	if want == 0 {
		return nil
	}

	r := resampler.NewWithSkipZeros(1, from, to, quality)
	out := make(frame.PCMFrame, want)
	silence := make(frame.PCMFrame, len(in))

	pending := in
	written := 0
	flushes := 0
	for written < want {
		src := pending
		if len(src) == 0 {
			if flushes == maxFlushPasses {
				break
			}
			flushes++
			src = silence
		}

		read, n := r.ProcessFloat32(0, src, out[written:])
		written += n
		if len(pending) > 0 {
			pending = pending[read:]
		}
		if read == 0 && n == 0 {
			break
		}
	}
	return out[:written]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
