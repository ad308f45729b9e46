package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestCaptureFrame_QuantizesAndClamps(t *testing.T) {
	f := CaptureFrame([]float64{0, 1, -1, 2.5, -2.5, 0.5})
	if f.Samples() != 6 {
		t.Fatalf("expected 6 samples, got %d", f.Samples())
	}
	want := []int16{0, 32767, -32767, 32767, -32767, 16383}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(f[i*2 : i*2+2]))
		if got != w {
			t.Fatalf("sample %d: got %d want %d", i, got, w)
		}
	}
}

func TestDecodeFrame_Inverse(t *testing.T) {
	in := []float64{0, 0.25, -0.25, 0.99, -0.99}
	back := DecodeFrame(CaptureFrame(in))
	if len(back) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(back), len(in))
	}
	for i := range in {
		if math.Abs(back[i]-in[i]) > 1.0/32767+1e-9 {
			t.Fatalf("sample %d: got %f want ~%f", i, back[i], in[i])
		}
	}
}

func TestCaptureFrame_Deterministic(t *testing.T) {
	in := []float64{0.1, -0.7, 0.33}
	a := CaptureFrame(in)
	b := CaptureFrame(in)
	if string(a) != string(b) {
		t.Fatalf("quantization must be deterministic")
	}
}
