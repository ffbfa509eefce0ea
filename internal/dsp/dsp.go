// Package dsp collects the signal-processing primitives shared by the
// analysers and the renderer: windowed FFT magnitudes, onset envelopes,
// autocorrelation, peak picking, and biquad filters.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// NextPow2 returns the smallest power of two >= n.
func NextPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

// HannWindow returns an n-point Hann window.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Spectrum computes the magnitude spectrum of a Hann-windowed frame,
// zero-padded to the FFT size. The returned slice has fftSize/2+1 bins.
func Spectrum(fft *fourier.FFT, frame []float32, window []float64, fftSize int) []float64 {
	seq := make([]float64, fftSize)
	for i := 0; i < len(frame) && i < len(window); i++ {
		seq[i] = float64(frame[i]) * window[i]
	}
	coeffs := fft.Coefficients(nil, seq)
	mag := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mag[i] = cmplx.Abs(c)
	}
	return mag
}

// OnsetEnvelope computes a spectral-flux onset strength signal with the
// given frame and hop sizes. Positive magnitude differences are summed
// per frame.
func OnsetEnvelope(samples []float32, frameSize, hopSize int) []float64 {
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		return nil
	}
	fftSize := NextPow2(frameSize)
	fft := fourier.NewFFT(fftSize)
	window := HannWindow(frameSize)

	onset := make([]float64, numFrames)
	prev := make([]float64, fftSize/2+1)
	seq := make([]float64, fftSize)
	var coeffs []complex128

	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		for k := range seq {
			seq[k] = 0
		}
		for j := 0; j < frameSize && start+j < n; j++ {
			seq[j] = float64(samples[start+j]) * window[j]
		}
		coeffs = fft.Coefficients(coeffs, seq)
		flux := 0.0
		for j, c := range coeffs {
			m := cmplx.Abs(c)
			if d := m - prev[j]; d > 0 {
				flux += d
			}
			prev[j] = m
		}
		onset[i] = flux
	}
	return onset
}

// Autocorrelate returns the normalised autocorrelation of x for lags in
// [minLag, maxLag].
func Autocorrelate(x []float64, minLag, maxLag int) []float64 {
	if maxLag >= len(x) {
		maxLag = len(x) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if maxLag < minLag {
		return nil
	}
	out := make([]float64, maxLag-minLag+1)
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		count := 0
		for i := 0; i+lag < len(x); i++ {
			sum += x[i] * x[i+lag]
			count++
		}
		if count > 0 {
			out[lag-minLag] = sum / float64(count)
		}
	}
	return out
}

// PickPeaks returns indexes of local maxima in x exceeding threshold,
// at least minSpacing apart. Greedy from the strongest down.
func PickPeaks(x []float64, threshold float64, minSpacing int) []int {
	type peak struct {
		idx int
		val float64
	}
	var peaks []peak
	for i := 1; i < len(x)-1; i++ {
		if x[i] >= threshold && x[i] >= x[i-1] && x[i] > x[i+1] {
			peaks = append(peaks, peak{i, x[i]})
		}
	}
	// Strongest first, then suppress neighbours.
	for i := 1; i < len(peaks); i++ {
		for j := i; j > 0 && peaks[j].val > peaks[j-1].val; j-- {
			peaks[j], peaks[j-1] = peaks[j-1], peaks[j]
		}
	}
	taken := []int{}
	for _, p := range peaks {
		ok := true
		for _, t := range taken {
			d := p.idx - t
			if d < 0 {
				d = -d
			}
			if d < minSpacing {
				ok = false
				break
			}
		}
		if ok {
			taken = append(taken, p.idx)
		}
	}
	// Restore time order.
	for i := 1; i < len(taken); i++ {
		for j := i; j > 0 && taken[j] < taken[j-1]; j-- {
			taken[j], taken[j-1] = taken[j-1], taken[j]
		}
	}
	return taken
}

// Mean returns the arithmetic mean of x, 0 for empty input.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// Pearson returns the Pearson correlation of two equal-length series.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var sumA, sumB, sumAB, sumA2, sumB2 float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
		sumAB += a[i] * b[i]
		sumA2 += a[i] * a[i]
		sumB2 += b[i] * b[i]
	}
	num := float64(n)*sumAB - sumA*sumB
	den := math.Sqrt((float64(n)*sumA2 - sumA*sumA) * (float64(n)*sumB2 - sumB*sumB))
	if den < 1e-12 {
		return 0
	}
	return num / den
}
