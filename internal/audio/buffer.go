// Package audio provides the canonical PCM representation used across
// the pipeline: interleaved Float32 samples at 44.1 kHz stereo, plus the
// conversions to get arbitrary decoded audio into that shape.
package audio

import "math"

// Canonical output format for everything downstream of the decoder.
const (
	SampleRate = 44100
	Channels   = 2
)

// Buffer holds interleaved Float32 PCM.
type Buffer struct {
	Data     []float32
	Rate     int
	Channels int
}

// NewBuffer allocates a zeroed buffer of the given frame count in the
// canonical format.
func NewBuffer(frames int) *Buffer {
	return &Buffer{
		Data:     make([]float32, frames*Channels),
		Rate:     SampleRate,
		Channels: Channels,
	}
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.Rate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.Rate)
}

// Sample returns the sample for channel ch at the given frame, zero when
// out of range.
func (b *Buffer) Sample(ch, frame int) float32 {
	i := frame*b.Channels + ch
	if i < 0 || i >= len(b.Data) {
		return 0
	}
	return b.Data[i]
}

// Mono returns a mono downmix, averaging channels. The result is a copy;
// analysis code is free to window it destructively.
func (b *Buffer) Mono() []float32 {
	frames := b.Frames()
	out := make([]float32, frames)
	if b.Channels == 1 {
		copy(out, b.Data)
		return out
	}
	inv := 1.0 / float32(b.Channels)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < b.Channels; c++ {
			sum += b.Data[f*b.Channels+c]
		}
		out[f] = sum * inv
	}
	return out
}

// Canonical converts a decoded buffer to 44.1 kHz stereo. A buffer that
// already matches is returned unchanged (resampling is a no-op).
func Canonical(b *Buffer) *Buffer {
	if b.Rate == SampleRate && b.Channels == Channels {
		return b
	}
	st := toStereo(b)
	if st.Rate == SampleRate {
		return st
	}
	return resample(st, SampleRate)
}

func toStereo(b *Buffer) *Buffer {
	if b.Channels == Channels {
		return b
	}
	frames := b.Frames()
	out := &Buffer{Data: make([]float32, frames*Channels), Rate: b.Rate, Channels: Channels}
	for f := 0; f < frames; f++ {
		var l, r float32
		switch {
		case b.Channels == 1:
			l = b.Data[f]
			r = l
		default:
			// Average every channel into both outputs.
			var sum float32
			for c := 0; c < b.Channels; c++ {
				sum += b.Data[f*b.Channels+c]
			}
			l = sum / float32(b.Channels)
			r = l
		}
		out.Data[f*2] = l
		out.Data[f*2+1] = r
	}
	return out
}

// resample performs linear-interpolation rate conversion per channel.
func resample(b *Buffer, rate int) *Buffer {
	srcFrames := b.Frames()
	dstFrames := int(math.Round(float64(srcFrames) * float64(rate) / float64(b.Rate)))
	out := &Buffer{Data: make([]float32, dstFrames*b.Channels), Rate: rate, Channels: b.Channels}
	step := float64(b.Rate) / float64(rate)
	for f := 0; f < dstFrames; f++ {
		pos := float64(f) * step
		i := int(pos)
		frac := float32(pos - float64(i))
		for c := 0; c < b.Channels; c++ {
			s0 := b.Sample(c, i)
			s1 := b.Sample(c, i+1)
			out.Data[f*b.Channels+c] = s0 + (s1-s0)*frac
		}
	}
	return out
}

// ApplyGain scales every sample by the linear gain, hard-clamping to
// ±1.0 so normalisation stays clip-safe.
func (b *Buffer) ApplyGain(gain float64) {
	g := float32(gain)
	for i, s := range b.Data {
		v := s * g
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		b.Data[i] = v
	}
}

// PeakRMS returns the RMS level of the buffer in dBFS, the fallback
// loudness measure when no integrated reading is available.
func (b *Buffer) PeakRMS() float64 {
	if len(b.Data) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range b.Data {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(b.Data)))
	return 20 * math.Log10(rms+1e-12)
}
