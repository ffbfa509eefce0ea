package analysis

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/cartomix/havana/internal/fixtures"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestAnalyzeClickTrack runs the full analyser over a 120 BPM click
// track and checks tempo, grid invariants, and downbeat alignment.
func TestAnalyzeClickTrack(t *testing.T) {
	buf := fixtures.ClickTrack(120, 128)
	a, err := NewNative(testLogger()).AnalyzeTrack(context.Background(), buf, "click120")
	if err != nil {
		t.Fatalf("AnalyzeTrack() failed: %v", err)
	}

	if math.Abs(a.BPM-120) > 5 {
		t.Errorf("bpm = %.1f, want about 120", a.BPM)
	}
	if len(a.Beats) < 100 {
		t.Errorf("only %d beats in a 128-beat track", len(a.Beats))
	}

	// Beats are strictly time-ordered and cover the track.
	var sum float64
	for i, b := range a.Beats {
		sum += b.Duration
		if i > 0 && b.Start < a.Beats[i-1].Start {
			t.Fatalf("beat %d starts before beat %d", i, i-1)
		}
	}
	if math.Abs(sum-a.Duration) > 0.1 {
		t.Errorf("beat durations sum to %.3f, track lasts %.3f", sum, a.Duration)
	}

	// Downbeats form a single modulo class of the meter numerator.
	if a.Meter.Numerator != 4 {
		t.Errorf("meter numerator = %d, want 4", a.Meter.Numerator)
	}
	for _, idx := range a.Downbeats() {
		if idx%a.Meter.Numerator != a.DownbeatOffset {
			t.Fatalf("downbeat %d breaks offset %d (mod %d)", idx, a.DownbeatOffset, a.Meter.Numerator)
		}
	}
}

// TestAnalyzePhraseTrackKey checks the key vote lands on the fixture
// key or its relative.
func TestAnalyzePhraseTrackKey(t *testing.T) {
	buf, _ := fixtures.PhraseTrack(128, "8A")
	a, err := NewNative(testLogger()).AnalyzeTrack(context.Background(), buf, "phrase")
	if err != nil {
		t.Fatalf("AnalyzeTrack() failed: %v", err)
	}

	got := a.Key.Camelot()
	if got != "8A" && got != "8B" {
		t.Errorf("key = %s, want 8A or its relative 8B", got)
	}
	if len(a.Phrases) == 0 {
		t.Error("no phrases built")
	}
	if len(a.Features.Energy) != len(a.Beats) {
		t.Errorf("energy array length %d != beat count %d", len(a.Features.Energy), len(a.Beats))
	}
}

func TestAnalyzeEmptyBufferFails(t *testing.T) {
	_, err := NewNative(testLogger()).AnalyzeTrack(context.Background(), nil, "empty")
	if err == nil {
		t.Fatal("expected error for nil buffer")
	}
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("error %v is not an analysis error", err)
	}
	if aerr.Kind() != "analysis" {
		t.Errorf("kind = %q, want analysis", aerr.Kind())
	}
}

func TestInferSectionsCoversTrack(t *testing.T) {
	buf, _ := fixtures.PhraseTrack(128, "8A")
	a, err := NewNative(testLogger()).AnalyzeTrack(context.Background(), buf, "phrase")
	if err != nil {
		t.Fatalf("AnalyzeTrack() failed: %v", err)
	}

	sections := InferSections(a)
	if len(sections) == 0 {
		t.Fatal("no sections inferred")
	}
	if sections[0].Start != 0 {
		t.Errorf("first section starts at %.2f, want 0", sections[0].Start)
	}
	for i := 1; i < len(sections); i++ {
		if sections[i].Start != sections[i-1].End {
			t.Errorf("gap between section %d and %d", i-1, i)
		}
	}
	if last := sections[len(sections)-1]; math.Abs(last.End-a.Duration) > 0.01 {
		t.Errorf("last section ends at %.2f, track lasts %.2f", last.End, a.Duration)
	}
}
