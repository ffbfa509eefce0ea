// Package loudness implements ITU-R BS.1770-4 integrated loudness for
// the canonical stereo buffers, plus the ReplayGain figure derived from
// it.
package loudness

import (
	"math"
	"sort"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/dsp"
)

const (
	// DefaultLUFS is reported when a track is too short to gate.
	DefaultLUFS = -14.0

	// replayGainReference is the loudness the track gain aims for.
	replayGainReference = -18.0

	absoluteGateLUFS = -70.0
	relativeGateLU   = -10.0
)

// kWeighting returns the BS.1770 pre-filter (head-model high shelf) and
// RLB high-pass for a sample rate, both as biquads.
func kWeighting(rate float64) (pre, rlb dsp.Biquad) {
	// Pre-filter constants from the analog prototype in BS.1770-4.
	centerFreq := 1681.974450955533
	gainDB := 3.999843853973347
	q := 0.7071752369554196

	k := math.Tan(math.Pi * centerFreq / rate)
	v := math.Pow(10, gainDB/20)
	vb := math.Pow(v, 0.4996667741545416)

	norm := 1 + k/q + k*k
	pre.B0 = (v + vb*k/q + k*k) / norm
	pre.B1 = 2 * (k*k - v) / norm
	pre.B2 = (v - vb*k/q + k*k) / norm
	pre.A1 = 2 * (k*k - 1) / norm
	pre.A2 = (1 - k/q + k*k) / norm

	centerFreq = 38.13547087602444
	q = 0.5003270373238773
	k = math.Tan(math.Pi * centerFreq / rate)

	norm = 1 + k/q + k*k
	rlb.B0 = 1 / norm
	rlb.B1 = -2 / norm
	rlb.B2 = 1 / norm
	rlb.A1 = 2 * (k*k - 1) / norm
	rlb.A2 = (1 - k/q + k*k) / norm

	return pre, rlb
}

// Integrated measures gated integrated loudness in LUFS. Tracks shorter
// than one 400 ms block report DefaultLUFS with ok = false.
func Integrated(b *audio.Buffer) (lufs float64, ok bool) {
	frames := b.Frames()
	blockSize := int(0.4 * float64(b.Rate)) // 400 ms
	hop := blockSize / 4                    // 75 % overlap
	if frames < blockSize || b.Channels == 0 {
		return DefaultLUFS, false
	}

	pre, rlb := kWeighting(float64(b.Rate))
	preState := make([]dsp.BiquadState, b.Channels)
	rlbState := make([]dsp.BiquadState, b.Channels)

	// K-weighted squared signal summed across channels.
	weighted := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < b.Channels; c++ {
			s := float64(b.Data[f*b.Channels+c])
			s = preState[c].Process(&pre, s)
			s = rlbState[c].Process(&rlb, s)
			sum += s * s
		}
		weighted[f] = sum
	}

	// Block mean squares with a running window sum.
	var blocks []float64
	windowSum := 0.0
	for f := 0; f < frames; f++ {
		windowSum += weighted[f]
		if f >= blockSize {
			windowSum -= weighted[f-blockSize]
		}
		if f >= blockSize-1 && (f-(blockSize-1))%hop == 0 {
			blocks = append(blocks, windowSum/float64(blockSize))
		}
	}
	if len(blocks) == 0 {
		return DefaultLUFS, false
	}

	blockLoudness := func(ms float64) float64 {
		return -0.691 + 10*math.Log10(ms+1e-15)
	}

	// Absolute gate.
	var passed []float64
	for _, ms := range blocks {
		if blockLoudness(ms) > absoluteGateLUFS {
			passed = append(passed, ms)
		}
	}
	if len(passed) == 0 {
		return DefaultLUFS, false
	}

	// Relative gate at mean - 10 LU.
	mean := 0.0
	for _, ms := range passed {
		mean += ms
	}
	mean /= float64(len(passed))
	relGate := blockLoudness(mean) + relativeGateLU

	var gated []float64
	for _, ms := range passed {
		if blockLoudness(ms) > relGate {
			gated = append(gated, ms)
		}
	}
	if len(gated) == 0 {
		gated = passed
	}
	sort.Float64s(gated)

	total := 0.0
	for _, ms := range gated {
		total += ms
	}
	return blockLoudness(total / float64(len(gated))), true
}

// ReplayGain returns the track gain in dB for the given integrated
// loudness, relative to the -18 LUFS reference.
func ReplayGain(integratedLUFS float64) float64 {
	return replayGainReference - integratedLUFS
}

// NormalizeGain returns the linear gain that brings the measured
// loudness to the target, limited to ±12 dB of correction.
func NormalizeGain(measuredLUFS, targetLUFS float64) float64 {
	db := targetLUFS - measuredLUFS
	if db > 12 {
		db = 12
	} else if db < -12 {
		db = -12
	}
	return math.Pow(10, db/20)
}
