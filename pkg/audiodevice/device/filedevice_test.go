package device

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeIntWav(t *testing.T, path string, sampleRate, numChannels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("could not create %s: %v", path, err)
	}
	defer f.Close()

	encoder := wav.NewEncoder(f, sampleRate, 16, numChannels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: numChannels},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		t.Fatalf("could not write wav: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("could not close wav: %v", err)
	}
}

type bufferCollector struct {
	mu      sync.Mutex
	buffers []frame.PCMBuffer
}

func (c *bufferCollector) deliver(buf frame.PCMBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers = append(c.buffers, buf)
}

func TestFileCaptureSourceDeliversFileInBuffers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo48k.wav")
	// 25ms of 48kHz stereo audio, left at half scale, right silent
	data := make([]int, 1200*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = 16383
	}
	writeIntWav(t, path, 48000, 2, data)

	source, err := NewFileCaptureSource("system", path, 10*time.Millisecond, false)
	if err != nil {
		t.Fatalf("could not create source: %v", err)
	}
	props := source.GetDeviceProperties()
	if props.SampleRate != 48000 || props.NumChannels != 2 {
		t.Fatalf("unexpected properties %+v", props)
	}

	collector := &bufferCollector{}
	if err := source.Start(context.Background(), collector.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	source.WaitForEnd()
	if err := source.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	// 480 frames per buffer: 480, 480, 240
	wantFrames := []int{480, 480, 240}
	if len(collector.buffers) != len(wantFrames) {
		t.Fatalf("expected %d buffers, got %d", len(wantFrames), len(collector.buffers))
	}
	if source.MaxBuffers() < len(wantFrames) {
		t.Fatalf("MaxBuffers %d underestimates %d buffers", source.MaxBuffers(), len(wantFrames))
	}
	for i, buf := range collector.buffers {
		if buf.NumFrames() != wantFrames[i] {
			t.Errorf("buffer %d: expected %d frames, got %d", i, wantFrames[i], buf.NumFrames())
		}
		if buf.SampleRate != 48000 || buf.NumChannels != 2 {
			t.Errorf("buffer %d: unexpected format %d Hz, %d channels", i, buf.SampleRate, buf.NumChannels)
		}
	}

	first := collector.buffers[0].Samples
	if first[0] < 0.49 || first[0] > 0.51 || first[1] != 0 {
		t.Fatalf("unexpected sample scaling: left %v, right %v", first[0], first[1])
	}
}

func TestFileCaptureSourceReadsFloatStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.wav")
	w, err := CreateStreamWriter(path, canonicalStereo(), nil)
	if err != nil {
		t.Fatalf("could not create writer: %v", err)
	}
	w.Append(frame.PCMFrame{0.25, -0.75, 0.5, 1})
	w.Close()

	source, err := NewFileCaptureSource("mic", path, time.Second, false)
	if err != nil {
		t.Fatalf("could not create source: %v", err)
	}
	collector := &bufferCollector{}
	if err := source.Start(context.Background(), collector.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	source.WaitForEnd()
	source.Stop()

	if len(collector.buffers) != 1 {
		t.Fatalf("expected 1 buffer, got %d", len(collector.buffers))
	}
	want := frame.PCMFrame{0.25, -0.75, 0.5, 1}
	got := collector.buffers[0].Samples
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestFileCaptureSourceRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav file"), 0o644); err != nil {
		t.Fatalf("could not write junk: %v", err)
	}
	if _, err := NewFileCaptureSource("mic", path, time.Second, false); err == nil {
		t.Fatalf("expected an error for an invalid file")
	}
}

func TestFileCaptureSourceStopInterruptsRealtimePlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	writeIntWav(t, path, 16000, 1, make([]int, 16000*5))

	source, err := NewFileCaptureSource("mic", path, 100*time.Millisecond, true)
	if err != nil {
		t.Fatalf("could not create source: %v", err)
	}
	collector := &bufferCollector{}
	if err := source.Start(context.Background(), collector.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	source.Stop()

	collector.mu.Lock()
	delivered := len(collector.buffers)
	collector.mu.Unlock()
	if delivered >= 50 {
		t.Fatalf("expected playback to be interrupted, got all %d buffers", delivered)
	}
}
