package frame

// A PCMFrame is a run of raw audio samples as float32 values in [-1, 1].
//
// Multi-channel audio is interleaved, i.e. for stereo audio the samples
// alternate left, right, left, right...
type PCMFrame []float32

// A PCMBuffer is the unit of delivery from a capture source: a PCMFrame
// together with the format it was captured in.
//
// PCMBuffers are ephemeral. They are normalized and written as soon as they
// are received and must not be retained afterwards.
type PCMBuffer struct {
	Samples     PCMFrame
	SampleRate  int
	NumChannels int
}

// The number of frames (samples per channel) held by this buffer.
// A trailing partial frame is not counted.
func (b PCMBuffer) NumFrames() int {
	if b.NumChannels <= 0 {
		return 0
	}
	return len(b.Samples) / b.NumChannels
}
