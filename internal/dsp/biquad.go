package dsp

import "math"

// Biquad holds direct-form-II-transposed filter coefficients.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// BiquadState is the per-channel running state of a biquad.
type BiquadState struct {
	z1, z2 float64
}

// Process runs one sample through the filter.
func (s *BiquadState) Process(b *Biquad, in float64) float64 {
	out := b.B0*in + s.z1
	s.z1 = b.B1*in - b.A1*out + s.z2
	s.z2 = b.B2*in - b.A2*out
	return out
}

// Reset clears the filter state.
func (s *BiquadState) Reset() {
	s.z1 = 0
	s.z2 = 0
}

// LowShelf designs a low-shelf filter with the given corner frequency
// and shelf gain in dB (RBJ audio EQ cookbook).
func LowShelf(sampleRate, freq, gainDB float64) Biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosW, sinW := math.Cos(w0), math.Sin(w0)
	// Shelf slope 1.0.
	alpha := sinW / 2 * math.Sqrt((a+1/a)*(1/1.0-1)+2)
	twoRootAAlpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) - (a-1)*cosW + twoRootAAlpha)
	b1 := 2 * a * ((a - 1) - (a+1)*cosW)
	b2 := a * ((a + 1) - (a-1)*cosW - twoRootAAlpha)
	a0 := (a + 1) + (a-1)*cosW + twoRootAAlpha
	a1 := -2 * ((a - 1) + (a+1)*cosW)
	a2 := (a + 1) + (a-1)*cosW - twoRootAAlpha

	return Biquad{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// HighShelf designs a high-shelf filter with the given corner frequency
// and shelf gain in dB.
func HighShelf(sampleRate, freq, gainDB float64) Biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosW, sinW := math.Cos(w0), math.Sin(w0)
	alpha := sinW / 2 * math.Sqrt((a+1/a)*(1/1.0-1)+2)
	twoRootAAlpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) + (a-1)*cosW + twoRootAAlpha)
	b1 := -2 * a * ((a - 1) + (a+1)*cosW)
	b2 := a * ((a + 1) + (a-1)*cosW - twoRootAAlpha)
	a0 := (a + 1) - (a-1)*cosW + twoRootAAlpha
	a1 := 2 * ((a - 1) - (a+1)*cosW)
	a2 := (a + 1) - (a-1)*cosW - twoRootAAlpha

	return Biquad{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// Peaking designs a peaking EQ at the given centre frequency, Q, and
// gain in dB.
func Peaking(sampleRate, freq, q, gainDB float64) Biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosW, sinW := math.Cos(w0), math.Sin(w0)
	alpha := sinW / (2 * q)

	b0 := 1 + alpha*a
	b1 := -2 * cosW
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW
	a2 := 1 - alpha/a

	return Biquad{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// Identity returns a pass-through biquad.
func Identity() Biquad {
	return Biquad{B0: 1}
}
