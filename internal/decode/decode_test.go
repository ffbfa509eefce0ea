package decode

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/fixtures"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func wavBytes(t *testing.T, buf *audio.Buffer) []byte {
	t.Helper()
	var b bytes.Buffer
	if err := audio.EncodeWAV(&b, buf); err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}
	return b.Bytes()
}

func TestDecodeWAVByMIME(t *testing.T) {
	data := wavBytes(t, fixtures.ClickTrack(120, 16))
	buf, err := Decode(context.Background(), testLogger(), data, MimeWAV, Options{})
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if buf.Rate != audio.SampleRate || buf.Channels != audio.Channels {
		t.Errorf("decoded as %d Hz %d ch", buf.Rate, buf.Channels)
	}
}

// TestDecodeSniffsWhenMIMEWrong: magic bytes beat a bogus hint.
func TestDecodeSniffsWhenMIMEWrong(t *testing.T) {
	data := wavBytes(t, fixtures.ClickTrack(120, 16))
	buf, err := Decode(context.Background(), testLogger(), data, "application/octet-stream", Options{})
	if err != nil {
		t.Fatalf("Decode() with wrong MIME failed: %v", err)
	}
	if buf.Frames() == 0 {
		t.Error("empty decode")
	}
}

func TestDecodeFailures(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty", nil, MimeWAV},
		{"garbage wav", []byte("RIFFxxxxWAVEjunkjunkjunk"), MimeWAV},
		{"mp4 unsupported", []byte{0, 0, 0, 24, 'f', 't', 'y', 'p', 'M', '4', 'A', ' '}, MimeMP4},
		{"unknown container", []byte("plain text"), "text/plain"},
	}
	for _, tc := range cases {
		_, err := Decode(context.Background(), testLogger(), tc.data, tc.mime, Options{})
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		var derr *Error
		if !errors.As(err, &derr) {
			t.Errorf("%s: error %T is not a decode error", tc.name, err)
			continue
		}
		if derr.Kind() != "decode" {
			t.Errorf("%s: kind = %q", tc.name, derr.Kind())
		}
	}
}

// TestDecodeNormalizesLoudness: a quiet track comes out louder when
// normalisation is on, and never clips.
func TestDecodeNormalizesLoudness(t *testing.T) {
	src := fixtures.ClickTrack(120, 64)
	for i := range src.Data {
		src.Data[i] *= 0.05
	}
	data := wavBytes(t, src)

	buf, err := Decode(context.Background(), testLogger(), data, MimeWAV, Options{
		NormalizeLoudness: true,
		TargetLUFS:        -14,
	})
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	var peakIn, peakOut float32
	for i := range src.Data {
		if v := src.Data[i]; v > peakIn {
			peakIn = v
		}
		if v := buf.Data[i]; v > peakOut {
			peakOut = v
		}
	}
	if peakOut <= peakIn {
		t.Errorf("normalisation did not raise level: %.4f -> %.4f", peakIn, peakOut)
	}
	for _, v := range buf.Data {
		if v > 1.0 || v < -1.0 {
			t.Fatal("normalisation clipped past full scale")
		}
	}
}

func TestDecodeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := wavBytes(t, fixtures.ClickTrack(120, 16))
	if _, err := Decode(ctx, testLogger(), data, MimeWAV, Options{}); err == nil {
		t.Error("expected error from cancelled context")
	}
}
