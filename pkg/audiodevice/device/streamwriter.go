package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	"github.com/go-audio/riff"
	"github.com/google/uuid"
)

const (
	// WAVE_FORMAT_IEEE_FLOAT
	WavFormatIEEEFloat = 3
	FloatBitDepth      = 32

	bytesPerSample = FloatBitDepth / 8
	wavHeaderSize  = 44

	riffSizeOffset = 4
	dataSizeOffset = 40
)

var ErrStreamClosed = errors.New("stream writer is closed")

// The file a StreamWriter appends to.
// *os.File satisfies this; tests substitute files that fail on demand.
type StreamFile interface {
	io.WriteSeeker
	io.Closer
}

// --------------------------------------------------------------------------------
// StreamWriter

// Appends float32 frames to a WAV file as they arrive, tracking how many frames
// have been committed.
//
// The WAV header is written when the writer is opened and patched with the final
// sizes on Close, so a closed store is always a valid file, even when empty.
//
// A failed Append drops the whole buffer: the file position is rewound to the end of
// the last committed frame, so a later Append overwrites any partial data.
// The frame counter only ever counts committed frames.
type StreamWriter struct {
	logger     *slog.Logger
	path       string
	properties audiodevice.DeviceProperties

	mu        sync.Mutex
	file      StreamFile
	dataBytes int64
	scratch   []byte
	closed    bool

	framesWritten atomic.Int64
	failedWrites  atomic.Int64
}

// Create (truncating) a WAV store at path and open a StreamWriter on it.
func CreateStreamWriter(
	path string,
	properties audiodevice.DeviceProperties,
	logger *slog.Logger,
) (*StreamWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create stream store %s: %w", path, err)
	}

	w, err := NewStreamWriter(f, path, properties, logger)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// Open a StreamWriter on an already opened file. The path is used for logging and
// reporting only. The writer takes ownership of the file and closes it on Close.
func NewStreamWriter(
	file StreamFile,
	path string,
	properties audiodevice.DeviceProperties,
	logger *slog.Logger,
) (*StreamWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"stream writer uuid", uuid.New(),
		"path", path,
	)
	if properties.SampleRate <= 0 || properties.NumChannels <= 0 {
		return nil, fmt.Errorf("invalid stream properties %+v", properties)
	}

	w := &StreamWriter{
		logger:     logger,
		path:       path,
		properties: properties,
		file:       file,
	}
	if err := w.writeHeader(); err != nil {
		logger.Error("could not write stream header", "err", err)
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}

	logger.Debug(
		"opened stream store",
		"sampleRate", properties.SampleRate,
		"channels", properties.NumChannels,
	)
	return w, nil
}

func (w *StreamWriter) Path() string {
	return w.path
}

func (w *StreamWriter) GetDeviceProperties() audiodevice.DeviceProperties {
	return w.properties
}

// Cumulative number of frames committed to the store.
func (w *StreamWriter) FramesWritten() int64 {
	return w.framesWritten.Load()
}

// Number of Append calls whose buffer was dropped because of a write error.
func (w *StreamWriter) FailedWrites() int64 {
	return w.failedWrites.Load()
}

// Append interleaved samples to the store. A trailing partial frame is ignored.
//
// On a write error the buffer is dropped and the error returned; the writer remains
// usable and the next Append starts at the end of the last committed frame.
func (w *StreamWriter) Append(pcmFrame frame.PCMFrame) error {
	numFrames := len(pcmFrame) / w.properties.NumChannels
	if numFrames == 0 {
		return nil
	}
	samples := pcmFrame[:numFrames*w.properties.NumChannels]

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStreamClosed
	}

	size := len(samples) * bytesPerSample
	if cap(w.scratch) < size {
		w.scratch = make([]byte, size)
	}
	buf := w.scratch[:size]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(v))
	}

	n, err := w.file.Write(buf)
	if err == nil && n < size {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.failedWrites.Add(1)
		if n > 0 {
			if _, seekErr := w.file.Seek(wavHeaderSize+w.dataBytes, io.SeekStart); seekErr != nil {
				err = errors.Join(err, seekErr)
			}
		}
		return fmt.Errorf("append %d frames to %s: %w", numFrames, w.path, err)
	}

	w.dataBytes += int64(size)
	w.framesWritten.Add(int64(numFrames))
	return nil
}

// Finalize the WAV header and close the file.
// Frames appended after Close are rejected with ErrStreamClosed.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finalize()
	if closeErr := w.file.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		w.logger.Error("could not finalize stream store", "err", err)
		return fmt.Errorf("finalize %s: %w", w.path, err)
	}

	w.logger.Debug(
		"closed stream store",
		"framesWritten", w.framesWritten.Load(),
		"failedWrites", w.failedWrites.Load(),
	)
	return nil
}

// --------------------------------------------------------------------------------

func (w *StreamWriter) writeHeader() error {
	blockAlign := w.properties.NumChannels * bytesPerSample
	header := make([]byte, 0, wavHeaderSize)
	header = append(header, riff.RiffID[:]...)
	header = binary.LittleEndian.AppendUint32(header, wavHeaderSize-8)
	header = append(header, riff.WavFormatID[:]...)
	header = append(header, riff.FmtID[:]...)
	header = binary.LittleEndian.AppendUint32(header, 16)
	header = binary.LittleEndian.AppendUint16(header, WavFormatIEEEFloat)
	header = binary.LittleEndian.AppendUint16(header, uint16(w.properties.NumChannels))
	header = binary.LittleEndian.AppendUint32(header, uint32(w.properties.SampleRate))
	header = binary.LittleEndian.AppendUint32(header, uint32(w.properties.SampleRate*blockAlign))
	header = binary.LittleEndian.AppendUint16(header, uint16(blockAlign))
	header = binary.LittleEndian.AppendUint16(header, FloatBitDepth)
	header = append(header, riff.DataFormatID[:]...)
	header = binary.LittleEndian.AppendUint32(header, 0)

	_, err := w.file.Write(header)
	return err
}

func (w *StreamWriter) finalize() error {
	sizes := []struct {
		offset int64
		value  uint32
	}{
		{riffSizeOffset, uint32(wavHeaderSize - 8 + w.dataBytes)},
		{dataSizeOffset, uint32(w.dataBytes)},
	}
	var field [4]byte
	for _, s := range sizes {
		if _, err := w.file.Seek(s.offset, io.SeekStart); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(field[:], s.value)
		if _, err := w.file.Write(field[:]); err != nil {
			return err
		}
	}

	// Drop any partial data left behind by a failed final Append.
	if t, ok := w.file.(interface{ Truncate(int64) error }); ok {
		if err := t.Truncate(wavHeaderSize + w.dataBytes); err != nil {
			return err
		}
	}
	if s, ok := w.file.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
