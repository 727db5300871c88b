package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
)

var errInjected = errors.New("injected write failure")

func canonicalStereo() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  audiodevice.CanonicalProperties.SampleRate,
		NumChannels: 2,
	}
}

// Wraps a real file, failing selected writes after writing half of the data.
type flakyFile struct {
	*os.File
	writes   int
	failOn   map[int]bool
	failures int
}

func (f *flakyFile) Write(p []byte) (int, error) {
	f.writes++
	if f.failOn[f.writes] {
		f.failures++
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errInjected
	}
	return f.File.Write(p)
}

func readAllFrames(t *testing.T, path string) (audiodevice.DeviceProperties, frame.PCMFrame) {
	t.Helper()
	r, err := OpenStreamReader(path)
	if err != nil {
		t.Fatalf("could not open %s: %v", path, err)
	}
	defer r.Close()

	var all frame.PCMFrame
	chunk := make(frame.PCMFrame, 3*r.GetDeviceProperties().NumChannels)
	for {
		n, err := r.ReadChunk(chunk)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if n == 0 {
			break
		}
		all = append(all, chunk[:n*r.GetDeviceProperties().NumChannels]...)
	}
	if int64(len(all)/r.GetDeviceProperties().NumChannels) != r.NumFrames() {
		t.Fatalf("header declares %d frames, read %d", r.NumFrames(), len(all))
	}
	return r.GetDeviceProperties(), all
}

func TestStreamWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.wav")
	w, err := CreateStreamWriter(path, audiodevice.CanonicalProperties, nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}

	if err := w.Append(frame.PCMFrame{0.25, -0.5}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := w.Append(frame.PCMFrame{1, 0, -1, 0.125, 0.75}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if got := w.FramesWritten(); got != 7 {
		t.Fatalf("expected 7 frames written, got %d", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	props, got := readAllFrames(t, path)
	if props != audiodevice.CanonicalProperties {
		t.Fatalf("expected %+v, got %+v", audiodevice.CanonicalProperties, props)
	}
	want := frame.PCMFrame{0.25, -0.5, 1, 0, -1, 0.125, 0.75}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestStreamWriterEmptyStoreIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	w, err := CreateStreamWriter(path, audiodevice.CanonicalProperties, nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != wavHeaderSize {
		t.Fatalf("expected a bare %d byte header, got %d bytes", wavHeaderSize, info.Size())
	}

	_, got := readAllFrames(t, path)
	if len(got) != 0 {
		t.Fatalf("expected no frames, got %d", len(got))
	}
}

func TestStreamWriterSurvivesTransientFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flaky.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("could not create file: %v", err)
	}
	// write 1 is the header, write 3 is the second Append
	flaky := &flakyFile{File: f, failOn: map[int]bool{3: true}}
	w, err := NewStreamWriter(flaky, path, audiodevice.CanonicalProperties, nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}

	if err := w.Append(frame.PCMFrame{0.1, 0.2}); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := w.Append(frame.PCMFrame{0.9, 0.9, 0.9, 0.9}); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := w.FramesWritten(); got != 2 {
		t.Fatalf("dropped buffer was counted: %d frames", got)
	}
	if err := w.Append(frame.PCMFrame{0.3, 0.4, 0.5}); err != nil {
		t.Fatalf("append after failure failed: %v", err)
	}
	if got := w.FramesWritten(); got != 5 {
		t.Fatalf("expected frame counter to keep increasing to 5, got %d", got)
	}
	if got := w.FailedWrites(); got != 1 {
		t.Fatalf("expected 1 failed write, got %d", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, got := readAllFrames(t, path)
	want := frame.PCMFrame{0.1, 0.2, 0.3, 0.4, 0.5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestStreamWriterTruncatesPartialFinalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("could not create file: %v", err)
	}
	flaky := &flakyFile{File: f, failOn: map[int]bool{3: true}}
	w, err := NewStreamWriter(flaky, path, audiodevice.CanonicalProperties, nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}
	w.Append(frame.PCMFrame{0.5})
	w.Append(frame.PCMFrame{0.1, 0.2, 0.3, 0.4})
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != wavHeaderSize+bytesPerSample {
		t.Fatalf("expected partial data to be truncated, file is %d bytes", info.Size())
	}
}

func TestStreamWriterStereoCountsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	w, err := CreateStreamWriter(path, canonicalStereo(), nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}
	defer w.Close()

	if err := w.Append(frame.PCMFrame{1, 10, 2, 20, 3}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if got := w.FramesWritten(); got != 2 {
		t.Fatalf("expected 2 frames, got %d", got)
	}
}

func TestStreamWriterRejectsAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.wav")
	w, err := CreateStreamWriter(path, audiodevice.CanonicalProperties, nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}
	w.Close()
	if err := w.Append(frame.PCMFrame{1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
