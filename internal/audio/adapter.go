package audio

import (
	"encoding/binary"
	"errors"
)

// SampleRate is the wire rate of the streaming speech channel. Capture must be
// requested at this rate directly; the adapter performs no resampling.
const SampleRate = 24000

// MinUtteranceBytes is the smallest PCM payload treated as actual speech.
// Anything shorter is discarded as noise and the capture loop restarts.
const MinUtteranceBytes = 1000

// ErrPermissionDenied reports that the platform refused capture-device access.
// The caller must surface it and may not retry without new user consent.
var ErrPermissionDenied = errors.New("audio: capture permission denied")

// Frame is a fixed-duration slice of PCM16LE mono samples at SampleRate.
type Frame []byte

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int { return len(f) / 2 }

// CaptureFrame quantizes floating-point samples in [-1,1] to PCM16LE.
// Out-of-range samples clamp symmetrically before scaling.
func CaptureFrame(raw []float64) Frame {
	out := make([]byte, len(raw)*2)
	for i, s := range raw {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return Frame(out)
}

// DecodeFrame is the inverse quantization, for playback.
func DecodeFrame(f Frame) []float64 {
	n := f.Samples()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(f[i*2 : i*2+2]))
		out[i] = float64(v) / 32767
	}
	return out
}
