// Package decode turns compressed audio bytes into canonical PCM
// buffers. Containers are selected by MIME hint with a magic-byte sniff
// as backstop; everything decodes to 44.1 kHz stereo Float32.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/loudness"
)

// Accepted MIME types.
const (
	MimeMP3  = "audio/mpeg"
	MimeWAV  = "audio/wav"
	MimeMP4  = "audio/mp4"
	MimeFLAC = "audio/flac"
	MimeOGG  = "audio/ogg"
)

// Error reports a failed decode. The track it belongs to is excluded
// from planning; the batch continues.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the stable error tag.
func (e *Error) Kind() string { return "decode" }

// Options controls post-decode conditioning.
type Options struct {
	// NormalizeLoudness brings the track to TargetLUFS when set.
	NormalizeLoudness bool
	TargetLUFS        float64
}

// Decode decodes the byte stream indicated by the MIME hint into a
// canonical buffer. The context is checked between container stages so
// a cancelled ingest does not hold PCM alive.
func Decode(ctx context.Context, logger *slog.Logger, data []byte, mime string, opts Options) (*audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &Error{Reason: "empty stream"}
	}

	if mime == "" {
		mime = sniff(data)
	}

	var (
		buf *audio.Buffer
		err error
	)
	switch mime {
	case MimeWAV, "audio/x-wav", "audio/wave":
		buf, err = decodeWAV(data)
	case MimeMP3:
		buf, err = decodeMP3(data)
	case MimeFLAC, "audio/x-flac":
		buf, err = decodeFLAC(data)
	case MimeOGG, "application/ogg":
		buf, err = decodeOGG(data)
	case MimeMP4:
		return nil, &Error{Reason: "unsupported container: audio/mp4"}
	default:
		if sniffed := sniff(data); sniffed != "" && sniffed != mime {
			return Decode(ctx, logger, data, sniffed, opts)
		}
		return nil, &Error{Reason: "unsupported container: " + mime}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf = audio.Canonical(buf)

	if opts.NormalizeLoudness {
		target := opts.TargetLUFS
		if target == 0 {
			target = -14.0
		}
		measured, ok := loudness.Integrated(buf)
		if !ok {
			// Peak-RMS fallback for material too short to gate.
			measured = buf.PeakRMS()
		}
		gain := loudness.NormalizeGain(measured, target)
		logger.Debug("loudness normalise", "measured_lufs", measured, "target_lufs", target, "gain", gain)
		buf.ApplyGain(gain)
	}

	return buf, nil
}

// sniff identifies a container from its magic bytes, returning "" when
// nothing matches.
func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return MimeWAV
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return MimeFLAC
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return MimeOGG
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return MimeMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MimeMP3
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return MimeMP4
	}
	return ""
}

func decodeWAV(data []byte) (*audio.Buffer, error) {
	buf, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: "corrupt wav stream", Err: err}
	}
	return buf, nil
}

func decodeMP3(data []byte) (*audio.Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: "corrupt mp3 stream", Err: err}
	}

	// go-mp3 emits 16-bit little-endian stereo at the source rate.
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, &Error{Reason: "corrupt mp3 stream", Err: err}
	}
	n := len(raw) / 2
	out := &audio.Buffer{Data: make([]float32, n), Rate: dec.SampleRate(), Channels: 2}
	for i := 0; i < n; i++ {
		s := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		out.Data[i] = float32(s) / 32768.0
	}
	return out, nil
}

func decodeFLAC(data []byte) (*audio.Buffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: "corrupt flac stream", Err: err}
	}

	info := stream.Info
	channels := int(info.NChannels)
	scale := float32(int64(1) << (info.BitsPerSample - 1))
	out := &audio.Buffer{Rate: int(info.SampleRate), Channels: channels}

	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &Error{Reason: "corrupt flac stream", Err: err}
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		frames := len(frame.Subframes[0].Samples)
		for f := 0; f < frames; f++ {
			for c := 0; c < channels && c < len(frame.Subframes); c++ {
				out.Data = append(out.Data, float32(frame.Subframes[c].Samples[f])/scale)
			}
		}
	}
	return out, nil
}

func decodeOGG(data []byte) (*audio.Buffer, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: "corrupt ogg stream", Err: err}
	}
	return &audio.Buffer{Data: samples, Rate: format.SampleRate, Channels: format.Channels}, nil
}
