package storage

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cartomix/havana/internal/track"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "havana.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCacheKey(t *testing.T) {
	cases := []struct {
		name     string
		size     int64
		duration float64
		want     string
	}{
		{"Track.mp3", 1024, 180.7, "track_1024_180"},
		{"/music/Deep Cut.FLAC", 99, 59.999, "deep cut_99_59"},
		{"noext", 1, 0.2, "noext_1_0"},
	}
	for _, tc := range cases {
		if got := CacheKey(tc.name, tc.size, tc.duration); got != tc.want {
			t.Errorf("CacheKey(%q, %d, %.3f) = %q, want %q", tc.name, tc.size, tc.duration, got, tc.want)
		}
	}
}

func sampleAnalysis() *track.Analysis {
	return &track.Analysis{
		Duration: 180,
		BPM:      128,
		Meter:    track.Meter{Numerator: 4, Denominator: 4},
		Key:      track.Key{PitchClass: 9, Mode: track.ModeMinor},
		Beats: []track.Beat{
			{Start: 0, Duration: 0.5, Confidence: 0.9, Downbeat: true},
			{Start: 0.5, Duration: 0.5, Confidence: 0.8},
		},
		IntegratedLUFS: -9.5,
		ReplayGainDB:   -8.5,
	}
}

// TestPutGetRoundTrip: what goes in comes back out.
func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	key := CacheKey("song.mp3", 4096, 180)
	rec := &CachedAnalysis{
		Analysis: sampleAnalysis(),
		Timeline: &track.Timeline{Sections: []track.Section{
			{Start: 0, End: 180, Type: track.SectionVerse},
		}},
	}
	if err := db.PutAnalysis(key, "song.mp3", 4096, rec); err != nil {
		t.Fatalf("PutAnalysis() failed: %v", err)
	}

	got, err := db.GetAnalysis(key)
	if err != nil {
		t.Fatalf("GetAnalysis() failed: %v", err)
	}
	if got == nil {
		t.Fatal("cache miss after put")
	}
	if got.Analysis.BPM != 128 || got.Analysis.Key.Camelot() != "8A" {
		t.Errorf("analysis round trip lost data: %+v", got.Analysis)
	}
	if len(got.Analysis.Beats) != 2 || !got.Analysis.Beats[0].Downbeat {
		t.Errorf("beats round trip lost data: %+v", got.Analysis.Beats)
	}
	if got.Timeline == nil || len(got.Timeline.Sections) != 1 {
		t.Errorf("timeline round trip lost data: %+v", got.Timeline)
	}
}

// TestUpsertIdempotent: writing the same key twice converges on the
// latest payload without error.
func TestUpsertIdempotent(t *testing.T) {
	db := openTestDB(t)
	key := CacheKey("song.mp3", 4096, 180)

	first := &CachedAnalysis{Analysis: sampleAnalysis()}
	if err := db.PutAnalysis(key, "song.mp3", 4096, first); err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	updated := &CachedAnalysis{Analysis: sampleAnalysis()}
	updated.Analysis.BPM = 130
	if err := db.PutAnalysis(key, "song.mp3", 4096, updated); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := db.GetAnalysis(key)
	if err != nil {
		t.Fatalf("GetAnalysis() failed: %v", err)
	}
	if got.Analysis.BPM != 130 {
		t.Errorf("bpm = %.0f after upsert, want 130", got.Analysis.BPM)
	}
	if got.Timeline != nil {
		t.Error("timeline should be nil when never set")
	}
}

func TestGetMissingIsNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetAnalysis("nope_0_0")
	if err != nil {
		t.Fatalf("GetAnalysis() failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a miss, got %+v", got)
	}
}
