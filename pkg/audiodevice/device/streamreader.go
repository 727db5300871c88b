package device

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	"github.com/go-audio/wav"
)

var ErrUnsupportedStoreFormat = errors.New("unsupported stream store format")

// --------------------------------------------------------------------------------
// StreamReader

// Reads float32 frames back out of a WAV store written by a StreamWriter
// (or any IEEE float, 32 bit WAV file), sequentially, in chunks.
type StreamReader struct {
	path       string
	fileHandle *os.File
	properties audiodevice.DeviceProperties
	pcm        *bufio.Reader
	numFrames  int64
	raw        []byte
}

// Open the WAV store at path for sequential reading.
func OpenStreamReader(path string) (*StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream store %s: %w", path, err)
	}

	decoder := wav.NewDecoder(f)
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	// FwdToPCM swallows header errors, they are only reported by Err.
	if err := decoder.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if decoder.PCMChunk == nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w: no data chunk", path, ErrUnsupportedStoreFormat)
	}
	if decoder.WavAudioFormat != WavFormatIEEEFloat || decoder.BitDepth != FloatBitDepth {
		f.Close()
		return nil, fmt.Errorf(
			"%s: %w: format %d with %d bit samples",
			path, ErrUnsupportedStoreFormat, decoder.WavAudioFormat, decoder.BitDepth,
		)
	}

	properties := audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}
	frameSize := int64(properties.NumChannels * bytesPerSample)
	numFrames := int64(decoder.PCMLen()) / frameSize

	return &StreamReader{
		path:       path,
		fileHandle: f,
		properties: properties,
		pcm:        bufio.NewReader(io.LimitReader(f, numFrames*frameSize)),
		numFrames:  numFrames,
	}, nil
}

func (r *StreamReader) Path() string {
	return r.path
}

func (r *StreamReader) GetDeviceProperties() audiodevice.DeviceProperties {
	return r.properties
}

// Number of frames the store's header declares.
func (r *StreamReader) NumFrames() int64 {
	return r.numFrames
}

// Read up to len(dst)/NumChannels whole frames into dst.
//
// ReadChunk only returns fewer frames than requested at the end of the store,
// so consecutive chunks line up frame for frame. It returns 0, nil once the
// store is exhausted.
func (r *StreamReader) ReadChunk(dst frame.PCMFrame) (int, error) {
	numChannels := r.properties.NumChannels
	numSamples := (len(dst) / numChannels) * numChannels
	if numSamples == 0 {
		return 0, nil
	}

	size := numSamples * bytesPerSample
	if cap(r.raw) < size {
		r.raw = make([]byte, size)
	}
	raw := r.raw[:size]

	n, err := io.ReadFull(r.pcm, raw)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("read %s: %w", r.path, err)
	}

	frameBytes := numChannels * bytesPerSample
	numFrames := n / frameBytes
	for i := 0; i < numFrames*numChannels; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}
	return numFrames, nil
}

func (r *StreamReader) Close() error {
	return r.fileHandle.Close()
}
