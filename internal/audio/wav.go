package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// EncodeWAV writes the buffer as canonical RIFF/WAVE: PCM format code 1,
// 16-bit little-endian signed samples, interleaved channels.
func EncodeWAV(w io.Writer, b *Buffer) error {
	samples := make([]int16, len(b.Data))
	for i, s := range b.Data {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = int16(math.Round(v * 32767))
	}

	bitDepth := 16
	byteRate := b.Rate * b.Channels * bitDepth / 8
	blockAlign := b.Channels * bitDepth / 8
	dataLen := len(samples) * 2

	if _, err := w.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36+dataLen)); err != nil {
		return err
	}
	if _, err := w.Write([]byte("WAVE")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(1)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(b.Channels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(b.Rate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(byteRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(blockAlign)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitDepth)); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(dataLen)); err != nil {
		return err
	}
	buf := make([]byte, dataLen)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	_, err := w.Write(buf)
	return err
}

// DecodeWAV parses a RIFF/WAVE stream. PCM16 and IEEE Float32 chunks are
// accepted; anything else is rejected.
func DecodeWAV(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var (
		format     uint16
		channels   uint16
		rate       uint32
		bitDepth   uint16
		haveFormat bool
	)

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("fmt chunk truncated")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bitDepth = binary.LittleEndian.Uint16(data[body+14:])
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			return decodeWAVData(data[body:body+chunkLen], format, int(channels), int(rate), int(bitDepth))
		}

		pos = body + chunkLen
		if chunkLen%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	return nil, fmt.Errorf("no data chunk")
}

func decodeWAVData(raw []byte, format uint16, channels, rate, bitDepth int) (*Buffer, error) {
	if channels <= 0 || rate <= 0 {
		return nil, fmt.Errorf("invalid wav format: %d channels at %d Hz", channels, rate)
	}

	switch {
	case format == 1 && bitDepth == 16:
		n := len(raw) / 2
		out := &Buffer{Data: make([]float32, n), Rate: rate, Channels: channels}
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			out.Data[i] = float32(s) / 32768.0
		}
		return out, nil
	case format == 3 && bitDepth == 32:
		n := len(raw) / 4
		out := &Buffer{Data: make([]float32, n), Rate: rate, Channels: channels}
		for i := 0; i < n; i++ {
			out.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported wav encoding: format %d, %d-bit", format, bitDepth)
	}
}
