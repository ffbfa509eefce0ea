// Package analysis estimates tempo, beat grids, downbeats, meter, tonal
// key, loudness, and per-beat features from decoded PCM. The primary
// path tracks beats from a spectral-flux onset envelope; when it cannot,
// a uniform-grid fallback takes over. Analysis fails a decoded track
// only when the buffer is empty or too short for the fallback tempo
// estimate.
package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/loudness"
	"github.com/cartomix/havana/internal/track"
)

// Error reports a failed analysis stage. Callers fall back to the
// heuristic path; the error is never fatal to the batch.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis: %s: %v", e.Stage, e.Err)
	}
	return "analysis: " + e.Stage
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the stable error tag.
func (e *Error) Kind() string { return "analysis" }

// Analyzer abstracts the analysis backend.
type Analyzer interface {
	AnalyzeTrack(ctx context.Context, buf *audio.Buffer, name string) (*track.Analysis, error)
}

// Native is the in-process DSP analyzer.
type Native struct {
	logger *slog.Logger
}

// NewNative creates the native analyzer.
func NewNative(logger *slog.Logger) *Native {
	return &Native{logger: logger}
}

// AnalyzeTrack runs the full per-track analysis. The returned analysis
// always has a usable beat grid; Fallback marks grids synthesised from
// a plain BPM estimate.
func (n *Native) AnalyzeTrack(ctx context.Context, buf *audio.Buffer, name string) (*track.Analysis, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, &Error{Stage: "empty buffer"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mono := buf.Mono()
	duration := buf.Duration()

	a := &track.Analysis{Duration: duration}

	beats, bpm, err := n.trackBeats(mono, buf.Rate, duration)
	if err != nil {
		n.logger.Warn("primary beat tracker failed, synthesising grid", "track", name, "error", err)
		beats, bpm, err = n.fallbackBeats(mono, buf.Rate, duration)
		if err != nil {
			return nil, err
		}
		a.Fallback = true
	}
	a.Beats = beats
	a.BPM = bpm

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Loudness per beat drives meter inference and downbeat alignment.
	beatLoudness := perBeatRMS(mono, buf.Rate, beats, 0)
	meter, offset := inferMeter(beatLoudness)
	a.Meter = meter
	a.DownbeatOffset = offset
	for i := range a.Beats {
		a.Beats[i].Downbeat = i%meter.Numerator == offset
	}
	a.Phrases = buildPhrases(a.Beats)

	key, conf, err := n.detectKey(mono, buf.Rate)
	if err != nil {
		n.logger.Warn("windowed key vote failed, using centred fallback", "track", name, "error", err)
		key, conf = fallbackKey(mono, buf.Rate)
	}
	a.Key = key
	a.KeyConfidence = conf

	if lufs, ok := loudness.Integrated(buf); ok {
		a.IntegratedLUFS = lufs
		a.ReplayGainDB = loudness.ReplayGain(lufs)
	} else {
		a.IntegratedLUFS = loudness.DefaultLUFS
		a.ReplayGainDB = 0
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.Features = computeFeatures(mono, buf.Rate, a.Beats)

	n.logger.Debug("track analysed",
		"track", name,
		"bpm", a.BPM,
		"meter", fmt.Sprintf("%d/%d", meter.Numerator, meter.Denominator),
		"key", a.Key.Camelot(),
		"beats", len(a.Beats),
		"lufs", a.IntegratedLUFS,
		"fallback", a.Fallback,
	)

	return a, nil
}
