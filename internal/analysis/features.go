package analysis

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cartomix/havana/internal/dsp"
	"github.com/cartomix/havana/internal/track"
)

const (
	energyMaxSamples   = 8192
	centroidMaxSamples = 4096
	centroidMinSamples = 512

	vocalEnergyFloor  = 0.05
	vocalCentroidLow  = 300.0
	vocalCentroidHigh = 2500.0

	onsetPickThreshold  = 3.0  // multiple of mean frame energy
	onsetMinSpacingSec  = 0.05 // 50 ms
	onsetWindowSec      = 0.01 // 10 ms frames, 50 % overlap
)

// computeFeatures fills the per-beat feature arrays plus the onset
// list.
func computeFeatures(mono []float32, rate int, beats []track.Beat) track.Features {
	f := track.Features{
		Energy:   perBeatRMS(mono, rate, beats, energyMaxSamples),
		Centroid: make([]float64, len(beats)),
		HasVocal: make([]bool, len(beats)),
	}

	// Normalise energy to [0,1] over the track.
	maxE := 0.0
	for _, e := range f.Energy {
		if e > maxE {
			maxE = e
		}
	}
	if maxE > 1e-9 {
		for i := range f.Energy {
			f.Energy[i] /= maxE
		}
	}

	fftSize := dsp.NextPow2(centroidMaxSamples)
	fft := fourier.NewFFT(fftSize)
	window := dsp.HannWindow(centroidMaxSamples)

	for i, b := range beats {
		start := int(b.Start * float64(rate))
		end := int((b.Start + b.Duration) * float64(rate))
		if end > len(mono) {
			end = len(mono)
		}
		if end-start < centroidMinSamples {
			continue // centroid stays 0 for segments this short
		}
		if end-start > centroidMaxSamples {
			end = start + centroidMaxSamples
		}
		mag := dsp.Spectrum(fft, mono[start:end], window, fftSize)
		f.Centroid[i] = spectralCentroid(mag, float64(rate)/float64(fftSize))
	}

	for i := range beats {
		f.HasVocal[i] = f.Energy[i] > vocalEnergyFloor &&
			f.Centroid[i] > vocalCentroidLow && f.Centroid[i] < vocalCentroidHigh
	}

	f.Onsets = pickOnsets(mono, rate)
	return f
}

// spectralCentroid returns the magnitude-weighted mean frequency.
func spectralCentroid(mag []float64, binHz float64) float64 {
	var num, den float64
	for i, m := range mag {
		num += float64(i) * binHz * m
		den += m
	}
	if den < 1e-12 {
		return 0
	}
	return num / den
}

// pickOnsets detects onsets with adaptive energy-peak picking: 10 ms
// frames at 50 % overlap, threshold three times the mean energy,
// minimum 50 ms spacing.
func pickOnsets(mono []float32, rate int) []float64 {
	frameSize := int(onsetWindowSec * float64(rate))
	hopSize := frameSize / 2
	frames := energyFrames(mono, frameSize, hopSize)
	if len(frames) == 0 {
		return nil
	}
	threshold := onsetPickThreshold * dsp.Mean(frames)
	minSpacing := int(onsetMinSpacingSec * float64(rate) / float64(hopSize))
	if minSpacing < 1 {
		minSpacing = 1
	}
	peaks := dsp.PickPeaks(frames, threshold, minSpacing)
	out := make([]float64, len(peaks))
	frameDur := float64(hopSize) / float64(rate)
	for i, p := range peaks {
		out[i] = float64(p) * frameDur
	}
	return out
}

// InferSections classifies phrase-aligned regions by energy terciles
// when no semantic timeline is available: the loudest phrases read as
// chorus, the quietest as breakdown, with intro/outro at the edges.
// The result is contiguous over [0, duration).
func InferSections(a *track.Analysis) []track.Section {
	if len(a.Phrases) == 0 {
		return []track.Section{{Start: 0, End: a.Duration, Type: track.SectionVerse}}
	}

	energies := make([]float64, len(a.Phrases))
	for i, p := range a.Phrases {
		end := a.Duration
		if i+1 < len(a.Phrases) {
			end = a.Phrases[i+1]
		}
		var sum float64
		count := 0
		bi := a.BeatAt(p)
		for ; bi < len(a.Beats) && a.Beats[bi].Start < end; bi++ {
			if bi < len(a.Features.Energy) {
				sum += a.Features.Energy[bi]
				count++
			}
		}
		if count > 0 {
			energies[i] = sum / float64(count)
		}
	}

	sorted := append([]float64(nil), energies...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	lowThresh := sorted[len(sorted)*3/10]
	highThresh := sorted[len(sorted)*7/10]

	sections := make([]track.Section, 0, len(a.Phrases))
	for i, p := range a.Phrases {
		end := a.Duration
		if i+1 < len(a.Phrases) {
			end = a.Phrases[i+1]
		}
		e := energies[i]
		rel := p / a.Duration
		typ := track.SectionVerse
		switch {
		case rel < 0.15 && e < highThresh:
			typ = track.SectionIntro
		case rel > 0.85 && e < highThresh:
			typ = track.SectionOutro
		case e >= highThresh:
			typ = track.SectionChorus
		case e <= lowThresh:
			typ = track.SectionBreakdown
		}
		sections = append(sections, track.Section{Start: p, End: end, Type: typ})
	}
	if sections[0].Start > 0 {
		sections[0].Start = 0
	}
	return sections
}
