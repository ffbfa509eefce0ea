package analysis

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cartomix/havana/internal/dsp"
	"github.com/cartomix/havana/internal/track"
)

// Krumhansl-Schmuckler key profiles.
var (
	majorProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

const (
	keyWindowSeconds  = 20.0
	keyFrameSize      = 4096
	keyHopSize        = 2048
	fallbackFrameSize = 2048
	fallbackHopSize   = 1024
)

// detectKey votes across windows centred at 20/50/80 % of the track
// plus a full-track pass; the key with the highest average correlation
// strength wins.
func (n *Native) detectKey(mono []float32, rate int) (track.Key, float64, error) {
	duration := float64(len(mono)) / float64(rate)
	if duration < keyWindowSeconds {
		return track.Key{}, 0, &Error{Stage: "track too short for windowed key vote"}
	}

	type window struct{ start, length float64 }
	windows := []window{
		{0.20*duration - keyWindowSeconds/2, keyWindowSeconds},
		{0.50*duration - keyWindowSeconds/2, keyWindowSeconds},
		{0.80*duration - keyWindowSeconds/2, keyWindowSeconds},
		{0, duration},
	}

	strength := make(map[track.Key][]float64)
	for _, w := range windows {
		start := int(math.Max(0, w.start) * float64(rate))
		end := start + int(w.length*float64(rate))
		if end > len(mono) {
			end = len(mono)
		}
		if end-start < keyFrameSize {
			continue
		}
		chroma := chromaHistogram(mono[start:end], rate, keyFrameSize, keyHopSize)
		key, corr := bestKey(chroma)
		strength[key] = append(strength[key], corr)
	}
	if len(strength) == 0 {
		return track.Key{}, 0, &Error{Stage: "no key votes"}
	}

	var (
		winner  track.Key
		bestAvg = math.Inf(-1)
	)
	for key, votes := range strength {
		avg := dsp.Mean(votes)
		// Weight by vote count so a key seen in several windows beats a
		// single strong outlier.
		avg *= 1 + 0.1*float64(len(votes)-1)
		if avg > bestAvg {
			bestAvg = avg
			winner = key
		}
	}
	if bestAvg < 0 {
		bestAvg = 0
	}
	return winner, math.Min(1, bestAvg), nil
}

// fallbackKey analyses 20 seconds centred on the track midpoint with
// the smaller FFT, correlating the pitch-class histogram against the
// scale templates.
func fallbackKey(mono []float32, rate int) (track.Key, float64) {
	mid := len(mono) / 2
	half := int(keyWindowSeconds / 2 * float64(rate))
	start := mid - half
	if start < 0 {
		start = 0
	}
	end := mid + half
	if end > len(mono) {
		end = len(mono)
	}
	if end-start < fallbackFrameSize {
		return track.Key{PitchClass: 0, Mode: track.ModeMajor}, 0
	}
	chroma := chromaHistogram(mono[start:end], rate, fallbackFrameSize, fallbackHopSize)
	key, corr := bestKey(chroma)
	if corr < 0 {
		corr = 0
	}
	return key, math.Min(1, corr)
}

// chromaHistogram accumulates FFT magnitudes into the 12 pitch classes
// over 65 Hz - 4 kHz.
func chromaHistogram(samples []float32, rate, frameSize, hopSize int) []float64 {
	fftSize := dsp.NextPow2(frameSize)
	fft := fourier.NewFFT(fftSize)
	window := dsp.HannWindow(frameSize)
	chroma := make([]float64, 12)

	numFrames := (len(samples) - frameSize) / hopSize
	seq := make([]float64, fftSize)
	var coeffs []complex128
	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		for k := range seq {
			seq[k] = 0
		}
		for j := 0; j < frameSize; j++ {
			seq[j] = float64(samples[start+j]) * window[j]
		}
		coeffs = fft.Coefficients(coeffs, seq)
		for bin := 1; bin < len(coeffs); bin++ {
			freq := float64(bin) * float64(rate) / float64(fftSize)
			if freq < 65 || freq > 4000 {
				continue
			}
			semitones := 12 * math.Log2(freq/261.63) // relative to C4
			pc := ((int(math.Round(semitones)) % 12) + 12) % 12
			chroma[pc] += cmplx.Abs(coeffs[bin])
		}
	}
	return chroma
}

// bestKey correlates a chroma histogram against all 24 rotated
// profiles.
func bestKey(chroma []float64) (track.Key, float64) {
	bestCorr := math.Inf(-1)
	best := track.Key{}
	rolled := make([]float64, 12)
	for rot := 0; rot < 12; rot++ {
		for j := 0; j < 12; j++ {
			rolled[j] = chroma[(j+rot)%12]
		}
		if c := dsp.Pearson(rolled, majorProfile); c > bestCorr {
			bestCorr = c
			best = track.Key{PitchClass: rot, Mode: track.ModeMajor}
		}
		if c := dsp.Pearson(rolled, minorProfile); c > bestCorr {
			bestCorr = c
			best = track.Key{PitchClass: rot, Mode: track.ModeMinor}
		}
	}
	return best, bestCorr
}
