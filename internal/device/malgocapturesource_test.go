package device

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodeFloat32LE(t *testing.T) {
	want := []float32{0, 1, -1, 0.25, -0.125}
	raw := make([]byte, 0, len(want)*4+3)
	for _, v := range want {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	// A torn trailing sample is ignored
	raw = append(raw, 0x01, 0x02, 0x03)

	got := decodeFloat32LE(raw)
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	raw[0] = 0xff
	if got[0] != 0 {
		t.Fatalf("decoded samples alias the device buffer")
	}
}
