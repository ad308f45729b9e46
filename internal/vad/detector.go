package vad

import (
	"encoding/binary"
	"sync"
	"time"
)

// DefaultThreshold is the energy level (0-255 scale) below which a sample
// counts as silence.
const DefaultThreshold = 5.0

// DefaultSilenceDuration is the sustained quiet interval required before an
// utterance is treated as finished.
const DefaultSilenceDuration = 1500 * time.Millisecond

// Detector decides when a speaker has finished talking. It fires its callback
// at most once per lifetime; create a new Detector for each recording segment.
type Detector struct {
	threshold float64
	duration  time.Duration
	onSilence func()

	mu              sync.Mutex
	silenceStarted  time.Time
	silenceTracking bool
	fired           bool
	stopped         bool
}

// New returns a Detector with the given threshold and quiet duration.
// Zero values select the defaults.
func New(threshold float64, duration time.Duration, onSilence func()) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultSilenceDuration
	}
	return &Detector{threshold: threshold, duration: duration, onSilence: onSilence}
}

// Sample feeds one energy reading taken at the caller's tick cadence.
// Any reading at or above the threshold cancels a running countdown.
// It returns true once the detector has fired.
func (d *Detector) Sample(level float64, now time.Time) bool {
	d.mu.Lock()
	if d.fired || d.stopped {
		fired := d.fired
		d.mu.Unlock()
		return fired
	}
	if level >= d.threshold {
		d.silenceTracking = false
		d.mu.Unlock()
		return false
	}
	if !d.silenceTracking {
		d.silenceTracking = true
		d.silenceStarted = now
		d.mu.Unlock()
		return false
	}
	if now.Sub(d.silenceStarted) <= d.duration {
		d.mu.Unlock()
		return false
	}
	d.fired = true
	cb := d.onSilence
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

// Fired reports whether the silence callback has already run.
func (d *Detector) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Stop releases the detector. Samples after Stop are ignored and the callback
// will never run. Callers must always Stop a detector they abandon; a live
// detector holds a per-tick callback on the analysis source.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.silenceTracking = false
	d.mu.Unlock()
}

// EnergyLevel computes the mean magnitude of a PCM16LE buffer mapped onto the
// 0-255 scale the detector thresholds against.
func EnergyLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		// widen before negating: -int16(-32768) overflows back to -32768
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		if v < 0 {
			v = -v
		}
		sum += float64(v)
		n++
	}
	return sum / float64(n) / 128
}
