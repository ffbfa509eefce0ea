// Package track holds the shared data model for the mixing pipeline:
// tracks, beat grids, keys, per-beat features, and semantic timelines.
// Tracks live in an arena and are referenced by integer ID everywhere
// else; nothing in the model holds a pointer back into the arena.
package track

import (
	"github.com/cartomix/havana/internal/audio"
)

// ID is a stable arena index for a track.
type ID int

// Meter is the inferred time signature of a track.
type Meter struct {
	Numerator   int
	Denominator int
}

// Beat is one entry in a track's beat grid. Beats are strictly
// time-ordered and their durations sum to the track duration.
type Beat struct {
	Start      float64 // seconds
	Duration   float64 // seconds
	Confidence float64 // 0..1
	Downbeat   bool
}

// Features holds the per-beat feature arrays, parallel to the beat grid.
// Onsets are independent of the grid.
type Features struct {
	Energy   []float64 // normalised RMS in [0,1]
	Centroid []float64 // Hz
	HasVocal []bool
	Onsets   []float64 // seconds
}

// Analysis is the complete per-track analysis result.
type Analysis struct {
	Duration       float64
	BPM            float64
	Meter          Meter
	DownbeatOffset int
	Beats          []Beat
	Phrases        []float64 // phrase start times, every 8 downbeats
	Key            Key
	KeyConfidence  float64
	IntegratedLUFS float64
	ReplayGainDB   float64
	Features       Features
	Fallback       bool // true when the primary beat tracker failed
}

// Downbeats returns the indexes of downbeat entries in the grid.
func (a *Analysis) Downbeats() []int {
	var idx []int
	for i, b := range a.Beats {
		if b.Downbeat {
			idx = append(idx, i)
		}
	}
	return idx
}

// BeatAt returns the index of the grid beat containing the given time,
// or the nearest beat when the time falls outside the grid.
func (a *Analysis) BeatAt(t float64) int {
	if len(a.Beats) == 0 {
		return 0
	}
	lo, hi := 0, len(a.Beats)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.Beats[mid].Start <= t {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// NearestBeat returns the index of the beat whose start is closest to t.
func (a *Analysis) NearestBeat(t float64) int {
	i := a.BeatAt(t)
	if i+1 < len(a.Beats) {
		if t-a.Beats[i].Start > a.Beats[i+1].Start-t {
			return i + 1
		}
	}
	return i
}

// Track is one input audio source. It is created on ingest and immutable
// afterwards, except for the semantic timeline which is attached once.
type Track struct {
	ID       ID
	Name     string
	Duration float64
	PCM      *audio.Buffer // owned by the decoder until rendering ends
	Analysis *Analysis
	Semantic TimelineResult
}

// ReleasePCM drops the decoded samples once rendering is finished.
func (t *Track) ReleasePCM() {
	t.PCM = nil
}

// Arena owns every track in a session, indexed by ID.
type Arena struct {
	tracks []*Track
}

// Add appends a track and assigns its ID.
func (a *Arena) Add(t *Track) ID {
	t.ID = ID(len(a.tracks))
	a.tracks = append(a.tracks, t)
	return t.ID
}

// Get returns the track for an ID. The ID must have come from Add.
func (a *Arena) Get(id ID) *Track {
	return a.tracks[int(id)]
}

// Len returns the number of tracks in the arena.
func (a *Arena) Len() int {
	return len(a.tracks)
}

// All returns the tracks in ID order.
func (a *Arena) All() []*Track {
	return a.tracks
}
