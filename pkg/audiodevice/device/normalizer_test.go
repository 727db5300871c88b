package device

import (
	"math"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
)

func TestNormalizeDownmixesByMean(t *testing.T) {
	n := NewNormalizer(audiodevice.CanonicalProperties, DefaultResampleQuality, nil)

	tests := []struct {
		name string
		buf  frame.PCMBuffer
		want frame.PCMFrame
	}{
		{
			name: "mono passthrough",
			buf:  frame.PCMBuffer{Samples: frame.PCMFrame{0.1, -0.2, 0.3}, SampleRate: 16000, NumChannels: 1},
			want: frame.PCMFrame{0.1, -0.2, 0.3},
		},
		{
			name: "stereo",
			buf:  frame.PCMBuffer{Samples: frame.PCMFrame{1, 0, 0.5, 0.5, -1, 1}, SampleRate: 16000, NumChannels: 2},
			want: frame.PCMFrame{0.5, 0.5, 0},
		},
		{
			name: "four channels",
			buf:  frame.PCMBuffer{Samples: frame.PCMFrame{1, 1, 1, 1, 0.4, 0, 0, 0}, SampleRate: 16000, NumChannels: 4},
			want: frame.PCMFrame{1, 0.1},
		},
		{
			name: "trailing partial frame ignored",
			buf:  frame.PCMBuffer{Samples: frame.PCMFrame{0.2, 0.4, 0.9}, SampleRate: 16000, NumChannels: 2},
			want: frame.PCMFrame{0.3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.buf)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d frames, got %d (%v)", len(tt.want), len(got), got)
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("frame %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	n := NewNormalizer(audiodevice.CanonicalProperties, DefaultResampleQuality, nil)
	in := frame.PCMFrame{0.1, 0.2}
	got := n.Normalize(frame.PCMBuffer{Samples: in, SampleRate: 16000, NumChannels: 1})
	in[0] = 0.9
	if got[0] != 0.1 {
		t.Fatalf("normalized output shares memory with the input buffer")
	}
}

func TestNormalizeWithinToleranceSkipsResampling(t *testing.T) {
	n := NewNormalizer(audiodevice.CanonicalProperties, DefaultResampleQuality, nil)
	in := make(frame.PCMFrame, 320)
	for i := range in {
		in[i] = float32(i) / 320
	}

	got := n.Normalize(frame.PCMBuffer{Samples: in, SampleRate: 16001, NumChannels: 1})
	if len(got) != len(in) {
		t.Fatalf("expected %d frames, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("frame %d changed: %v -> %v", i, in[i], got[i])
		}
	}
}

func TestNormalizeResamplesToCanonicalRate(t *testing.T) {
	n := NewNormalizer(audiodevice.CanonicalProperties, DefaultResampleQuality, nil)

	tests := []struct {
		name        string
		sampleRate  int
		numChannels int
		numFrames   int
		wantFrames  int
	}{
		{"48kHz mono", 48000, 1, 4800, 1600},
		{"48kHz stereo", 48000, 2, 480, 160},
		{"44.1kHz mono", 44100, 1, 441, 160},
		{"8kHz mono", 8000, 1, 800, 1600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make(frame.PCMFrame, tt.numFrames*tt.numChannels)
			for i := range samples {
				samples[i] = float32(math.Sin(float64(i) / 10))
			}
			got := n.Normalize(frame.PCMBuffer{Samples: samples, SampleRate: tt.sampleRate, NumChannels: tt.numChannels})
			if len(got) != tt.wantFrames {
				t.Fatalf("expected %d frames, got %d", tt.wantFrames, len(got))
			}
		})
	}
}

func TestNormalizeResampledBuffersCarryTheSignal(t *testing.T) {
	n := NewNormalizer(audiodevice.CanonicalProperties, DefaultResampleQuality, nil)

	tests := []struct {
		name       string
		sampleRate int
		numFrames  int
	}{
		{"48kHz 10ms period", 48000, 480},
		{"48kHz 1024 frame period", 48000, 1024},
		{"44.1kHz 10ms period", 44100, 441},
		{"44.1kHz 1024 frame period", 44100, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name+" constant", func(t *testing.T) {
			in := make(frame.PCMFrame, tt.numFrames)
			for i := range in {
				in[i] = 0.5
			}
			// Every buffer of a stream is resampled independently
			for buffer := 0; buffer < 3; buffer++ {
				got := n.Normalize(frame.PCMBuffer{Samples: in, SampleRate: tt.sampleRate, NumChannels: 1})
				if len(got) == 0 {
					t.Fatalf("buffer %d produced no frames", buffer)
				}
				if got[0] < 0.1 {
					t.Fatalf("buffer %d starts with silence: first sample %v", buffer, got[0])
				}
				for i, v := range got {
					if math.Abs(float64(v)) < 0.05 {
						t.Fatalf("buffer %d: sample %d of %d is near zero", buffer, i, len(got))
					}
				}
				for i := len(got) / 4; i < 3*len(got)/4; i++ {
					if math.Abs(float64(got[i])-0.5) > 0.05 {
						t.Fatalf("buffer %d: sample %d is %v, expected about 0.5", buffer, i, got[i])
					}
				}
			}
		})

		t.Run(tt.name+" sine", func(t *testing.T) {
			const tone = 100.0
			in := make(frame.PCMFrame, tt.numFrames)
			for i := range in {
				in[i] = float32(math.Sin(2 * math.Pi * tone * float64(i) / float64(tt.sampleRate)))
			}
			got := n.Normalize(frame.PCMBuffer{Samples: in, SampleRate: tt.sampleRate, NumChannels: 1})
			for i := len(got) / 4; i < 3*len(got)/4; i++ {
				want := math.Sin(2 * math.Pi * tone * float64(i) / 16000)
				if math.Abs(float64(got[i])-want) > 0.1 {
					t.Fatalf("sample %d is %v, expected about %v", i, got[i], want)
				}
			}
		})
	}
}

func TestNormalizeDropsEmptyBuffers(t *testing.T) {
	n := NewNormalizer(audiodevice.CanonicalProperties, DefaultResampleQuality, nil)

	tests := []struct {
		name string
		buf  frame.PCMBuffer
	}{
		{"no samples", frame.PCMBuffer{SampleRate: 48000, NumChannels: 2}},
		{"less than one frame", frame.PCMBuffer{Samples: frame.PCMFrame{0.5}, SampleRate: 16000, NumChannels: 2}},
		{"no channels", frame.PCMBuffer{Samples: frame.PCMFrame{0.5}, SampleRate: 16000}},
		{"rounds to zero output frames", frame.PCMBuffer{Samples: frame.PCMFrame{0.5}, SampleRate: 96000, NumChannels: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.buf); got != nil {
				t.Fatalf("expected nil, got %v", got)
			}
		})
	}
}
