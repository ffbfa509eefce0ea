package analysis

import (
	"math"

	"github.com/cartomix/havana/internal/dsp"
	"github.com/cartomix/havana/internal/track"
)

const (
	onsetFrameSize = 1024
	onsetHopSize   = 441 // 10 ms at 44.1 kHz

	minBPM = 60.0
	maxBPM = 180.0

	// Octave correction prefers tempi in this band when two candidates
	// are related by a simple integer ratio.
	preferMinBPM = 80.0
	preferMaxBPM = 140.0
)

// trackBeats is the primary path: spectral-flux onsets, autocorrelation
// tempo, and per-beat phase snapping to onset peaks.
func (n *Native) trackBeats(mono []float32, rate int, duration float64) ([]track.Beat, float64, error) {
	onset := dsp.OnsetEnvelope(mono, onsetFrameSize, onsetHopSize)
	if len(onset) < 64 {
		return nil, 0, &Error{Stage: "onset envelope too short"}
	}

	bpm := estimateBPM(onset, rate, onsetHopSize)
	if bpm <= 0 {
		return nil, 0, &Error{Stage: "no tempo candidate"}
	}

	anchor := phaseAnchor(onset, rate, onsetHopSize)
	ticks := beatTicks(anchor, bpm, duration)
	if len(ticks) < 8 {
		return nil, 0, &Error{Stage: "beat grid degenerate"}
	}

	// Snap each tick to the strongest nearby onset so the grid follows
	// the performance instead of the metronome.
	period := 60.0 / bpm
	window := period * 0.15
	frameDur := float64(onsetHopSize) / float64(rate)
	peakMean := dsp.Mean(onset)
	snapped := make([]float64, 0, len(ticks))
	conf := make([]float64, 0, len(ticks))
	prev := -math.MaxFloat64
	for _, t := range ticks {
		bestT, bestV := t, 0.0
		lo := int((t - window) / frameDur)
		hi := int((t + window) / frameDur)
		for f := lo; f <= hi && f < len(onset); f++ {
			if f < 0 {
				continue
			}
			if onset[f] > bestV {
				bestV = onset[f]
				bestT = float64(f) * frameDur
			}
		}
		if bestT <= prev {
			bestT = t // keep strict ordering over snapping
		}
		if bestT <= prev {
			continue
		}
		snapped = append(snapped, bestT)
		c := 0.5
		if peakMean > 0 {
			c = math.Min(1, bestV/(3*peakMean))
		}
		conf = append(conf, c)
		prev = bestT
	}

	return gridFromTicks(snapped, conf, duration), bpm, nil
}

// fallbackBeats synthesises a uniform grid from an energy-peak
// autocorrelation BPM estimate.
func (n *Native) fallbackBeats(mono []float32, rate int, duration float64) ([]track.Beat, float64, error) {
	frameSize := rate / 100 // 10 ms
	energy := energyFrames(mono, frameSize, frameSize/2)
	if len(energy) < 16 {
		return nil, 0, &Error{Stage: "track too short for tempo estimation"}
	}

	hop := frameSize / 2
	bpm := estimateBPM(energy, rate, hop)
	if bpm <= 0 {
		bpm = 120.0
	}

	ticks := beatTicks(0, bpm, duration)
	conf := make([]float64, len(ticks))
	for i := range conf {
		conf[i] = 0.2 // uniform grids carry low confidence
	}
	return gridFromTicks(ticks, conf, duration), bpm, nil
}

// estimateBPM autocorrelates an envelope over the 60-180 BPM lag range
// and applies octave correction preferring 80-140 BPM.
func estimateBPM(envelope []float64, rate, hop int) float64 {
	frameDur := float64(hop) / float64(rate)
	minLag := int(60.0 / (maxBPM * frameDur))
	maxLag := int(60.0 / (minBPM * frameDur))
	if minLag < 1 {
		minLag = 1
	}
	corr := dsp.Autocorrelate(envelope, minLag, maxLag)
	if len(corr) == 0 {
		return 0
	}
	lagBPM := func(i int) float64 {
		return 60.0 / (float64(i+minLag) * frameDur)
	}

	// Perceptual weighting biases toward the 120 BPM region so octave
	// pairs do not tie.
	for i := range corr {
		b := lagBPM(i)
		weight := math.Exp(-0.5 * math.Pow((b-120.0)/40.0, 2))
		corr[i] *= 0.8 + 0.2*weight
	}

	// Two strongest lags for the ratio test; the runner-up must sit
	// away from the winner, not on its shoulder.
	best := 0
	for i := range corr {
		if corr[i] > corr[best] {
			best = i
		}
	}
	second := -1
	for i := range corr {
		d := i - best
		if d < 0 {
			d = -d
		}
		if d <= (best+minLag)/8 {
			continue
		}
		if second < 0 || corr[i] > corr[second] {
			second = i
		}
	}

	bpm := lagBPM(best)
	if second >= 0 {
		alt := lagBPM(second)
		if octaveRelated(bpm, alt) && !inPreferredBand(bpm) && inPreferredBand(alt) {
			bpm = alt
		}
	}

	// Fold octave-out estimates into range as a last resort.
	for bpm > maxBPM {
		bpm /= 2
	}
	for bpm < minBPM {
		bpm *= 2
	}
	return math.Round(bpm*10) / 10
}

// octaveRelated reports whether two tempi differ by a 2:1, 3:2, or 4:3
// integer ratio within 4 %.
func octaveRelated(a, b float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	r := a / b
	if r < 1 {
		r = 1 / r
	}
	for _, target := range []float64{2.0, 1.5, 4.0 / 3.0} {
		if math.Abs(r-target)/target < 0.04 {
			return true
		}
	}
	return false
}

func inPreferredBand(bpm float64) bool {
	return bpm >= preferMinBPM && bpm <= preferMaxBPM
}

// phaseAnchor finds the strongest onset within the first five seconds.
func phaseAnchor(onset []float64, rate, hop int) float64 {
	frameDur := float64(hop) / float64(rate)
	search := int(5.0 / frameDur)
	if search > len(onset) {
		search = len(onset)
	}
	bestIdx, bestVal := 0, 0.0
	for i := 0; i < search; i++ {
		if onset[i] > bestVal {
			bestVal = onset[i]
			bestIdx = i
		}
	}
	return float64(bestIdx) * frameDur
}

// beatTicks lays out uniform ticks through [0, duration) anchored at
// the given phase.
func beatTicks(anchor, bpm, duration float64) []float64 {
	period := 60.0 / bpm
	start := math.Mod(anchor, period)
	var ticks []float64
	for t := start; t < duration; t += period {
		ticks = append(ticks, t)
	}
	return ticks
}

// gridFromTicks converts tick times to beats whose durations cover the
// track exactly: each beat lasts until the next tick, the final beat
// until the end of the track.
func gridFromTicks(ticks, conf []float64, duration float64) []track.Beat {
	beats := make([]track.Beat, 0, len(ticks))
	for i, t := range ticks {
		end := duration
		if i+1 < len(ticks) {
			end = ticks[i+1]
		}
		if end <= t {
			continue
		}
		c := 0.5
		if i < len(conf) {
			c = conf[i]
		}
		beats = append(beats, track.Beat{Start: t, Duration: end - t, Confidence: c})
	}
	// Leading gap folds into the first beat so durations sum to the
	// track duration.
	if len(beats) > 0 && beats[0].Start > 0 {
		beats[0].Duration += beats[0].Start
		beats[0].Start = 0
	}
	return beats
}

// meterCandidates pairs each candidate numerator with its denominator.
var meterCandidates = []track.Meter{
	{Numerator: 2, Denominator: 4},
	{Numerator: 3, Denominator: 4},
	{Numerator: 4, Denominator: 4},
	{Numerator: 5, Denominator: 4},
	{Numerator: 6, Denominator: 8},
	{Numerator: 7, Denominator: 4},
	{Numerator: 9, Denominator: 8},
	{Numerator: 12, Denominator: 8},
}

// inferMeter groups per-beat loudness by offset class for every
// candidate numerator; the numerator whose loudest class stands out
// most wins, and that class is the downbeat offset.
func inferMeter(beatLoudness []float64) (track.Meter, int) {
	best := track.Meter{Numerator: 4, Denominator: 4}
	bestOffset := 0
	bestScore := -1.0

	for _, cand := range meterCandidates {
		n := cand.Numerator
		if len(beatLoudness) < n*4 {
			continue
		}
		sums := make([]float64, n)
		counts := make([]int, n)
		for i, l := range beatLoudness {
			sums[i%n] += l
			counts[i%n]++
		}
		means := make([]float64, n)
		total := 0.0
		for i := range sums {
			if counts[i] > 0 {
				means[i] = sums[i] / float64(counts[i])
			}
			total += means[i]
		}
		maxIdx := 0
		for i := range means {
			if means[i] > means[maxIdx] {
				maxIdx = i
			}
		}
		rest := (total - means[maxIdx]) / float64(n-1)
		if rest <= 0 {
			continue
		}
		// Contrast of the loudest class over the others, discounted for
		// larger numerators which fragment the evidence.
		score := (means[maxIdx] - rest) / rest / math.Sqrt(float64(n))
		if score > bestScore {
			bestScore = score
			best = cand
			bestOffset = maxIdx
		}
	}

	return best, bestOffset
}

// buildPhrases marks a phrase boundary every 8 downbeats.
func buildPhrases(beats []track.Beat) []float64 {
	var phrases []float64
	count := 0
	for _, b := range beats {
		if !b.Downbeat {
			continue
		}
		if count%8 == 0 {
			phrases = append(phrases, b.Start)
		}
		count++
	}
	return phrases
}

// perBeatRMS computes RMS energy for each beat's sample range, capped
// at maxSamples per beat (0 = uncapped).
func perBeatRMS(mono []float32, rate int, beats []track.Beat, maxSamples int) []float64 {
	out := make([]float64, len(beats))
	for i, b := range beats {
		start := int(b.Start * float64(rate))
		end := int((b.Start + b.Duration) * float64(rate))
		if maxSamples > 0 && end-start > maxSamples {
			end = start + maxSamples
		}
		if start < 0 {
			start = 0
		}
		if end > len(mono) {
			end = len(mono)
		}
		if end <= start {
			continue
		}
		var sum float64
		for j := start; j < end; j++ {
			v := float64(mono[j])
			sum += v * v
		}
		out[i] = math.Sqrt(sum / float64(end-start))
	}
	return out
}

// energyFrames computes short-window RMS frames for the fallback tempo
// path.
func energyFrames(mono []float32, frameSize, hopSize int) []float64 {
	if frameSize <= 0 || hopSize <= 0 {
		return nil
	}
	numFrames := (len(mono) - frameSize) / hopSize
	if numFrames <= 0 {
		return nil
	}
	out := make([]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		var sum float64
		for j := 0; j < frameSize; j++ {
			v := float64(mono[start+j])
			sum += v * v
		}
		out[i] = math.Sqrt(sum / float64(frameSize))
	}
	return out
}
