// Package render realises a planned route as audio: it first lays the
// route out beat by beat into a TimeMap, then renders the map through
// an offline audio graph into PCM, whole or in streaming blocks.
package render

import (
	"fmt"

	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/track"
)

// Error reports a graph-scheduling inconsistency. Fatal for the mix.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "render: " + e.Reason }

// Kind returns the stable error tag.
func (e *Error) Kind() string { return "render" }

// Row is one audible beat of the final mix.
type Row struct {
	MixTime    float64
	Track      track.ID
	BeatIndex  int
	Transition bool
}

// Play describes one track's contiguous contribution to the mix.
type Play struct {
	Track        track.ID
	EntryBeat    int
	ExitBeat     int     // exclusive
	TransitionAt float64 // mix time the track becomes the focus
	Rate         float64
	Kind         points.Kind
	Fade         float64 // crossfade duration into this track
}

// TimeMap is the per-beat schedule of the mix plus the per-track play
// spans the graph schedules from.
type TimeMap struct {
	Rows  []Row
	Plays []Play
}

// Duration returns the mix time of the last row plus its beat length.
func (tm *TimeMap) Duration(arena *track.Arena) float64 {
	if len(tm.Rows) == 0 {
		return 0
	}
	last := tm.Rows[len(tm.Rows)-1]
	a := arena.Get(last.Track).Analysis
	d := 0.0
	if last.BeatIndex < len(a.Beats) {
		d = a.Beats[last.BeatIndex].Duration
	}
	return last.MixTime + d
}

// BuildTimeMap lays out the route. The seed plays from beat zero up to
// its planned exit, clamped into the first-song window; every other
// track enters at its entry point (snapped back to its section start)
// and leaves at the next transition's exit beat, the last by the
// chorus-preference rules.
func BuildTimeMap(route *planner.Route, arena *track.Arena, w config.Weights) (*TimeMap, error) {
	if len(route.Candidates) == 0 {
		return nil, &Error{Reason: "empty route"}
	}

	tm := &TimeMap{}
	mixTime := 0.0

	seed := route.Candidates[0].From.Track
	seedTrack := arena.Get(seed)
	exit := clampInt(route.Candidates[0].From.BeatIndex, w.MinFirstBeats, w.MaxFirstBeats)
	if exit >= len(seedTrack.Analysis.Beats) {
		exit = len(seedTrack.Analysis.Beats) - 1
	}
	tm.Plays = append(tm.Plays, Play{
		Track:    seed,
		ExitBeat: exit,
		Rate:     1.0,
	})
	mixTime = emitRows(tm, seedTrack, 0, exit, mixTime, 1.0, false)

	for i, cand := range route.Candidates {
		dest := arena.Get(cand.To.Track)
		entry := entryBeat(dest, cand.To, w)

		var exitBeat int
		if i+1 < len(route.Candidates) {
			exitBeat = route.Candidates[i+1].From.BeatIndex
			if exitBeat <= entry {
				exitBeat = boundedExit(dest, entry, w)
			}
		} else {
			exitBeat = finalExit(dest, entry, w)
		}
		if exitBeat > len(dest.Analysis.Beats) {
			exitBeat = len(dest.Analysis.Beats)
		}
		if exitBeat <= entry {
			return nil, &Error{Reason: fmt.Sprintf("track %q: exit beat %d not after entry %d", dest.Name, exitBeat, entry)}
		}

		tm.Plays = append(tm.Plays, Play{
			Track:        cand.To.Track,
			EntryBeat:    entry,
			ExitBeat:     exitBeat,
			TransitionAt: mixTime,
			Rate:         cand.PlaybackRate,
			Kind:         cand.From.Kind,
			Fade:         cand.CrossfadeDuration,
		})
		mixTime = emitRows(tm, dest, entry, exitBeat, mixTime, cand.PlaybackRate, true)
	}

	return tm, nil
}

// emitRows appends the beat rows of one play span, advancing mix time
// by each beat duration divided by the playback rate.
func emitRows(tm *TimeMap, t *track.Track, from, to int, mixTime, rate float64, transition bool) float64 {
	beats := t.Analysis.Beats
	for bi := from; bi < to && bi < len(beats); bi++ {
		tm.Rows = append(tm.Rows, Row{
			MixTime:    mixTime,
			Track:      t.ID,
			BeatIndex:  bi,
			Transition: transition && bi == from,
		})
		mixTime += beats[bi].Duration / rate
	}
	return mixTime
}

// entryBeat snaps an entry point back to the start of its containing
// section; entries close to the head of the track start from beat zero.
func entryBeat(t *track.Track, p points.Point, w config.Weights) int {
	if p.Time < w.EntrySnapLimit {
		return 0
	}
	tl, ok := t.Semantic.Timeline()
	if !ok {
		return p.BeatIndex
	}
	sec := tl.SectionAt(p.Time)
	if sec == nil {
		return p.BeatIndex
	}
	return t.Analysis.NearestBeat(sec.Start)
}

// finalExit picks where the last track stops: after the second chorus
// when that plays long enough, else after the first chorus, else at the
// outro, else at the ideal duration — always within the duration
// bounds.
func finalExit(t *track.Track, entry int, w config.Weights) int {
	a := t.Analysis
	entryTime := a.Beats[entry].Start

	if tl, ok := t.Semantic.Timeline(); ok {
		var chorusEnds []float64
		var outroStart float64 = -1
		for _, s := range tl.Sections {
			if s.End <= entryTime {
				continue
			}
			switch s.Type {
			case track.SectionChorus:
				chorusEnds = append(chorusEnds, s.End)
			case track.SectionOutro:
				if outroStart < 0 {
					outroStart = s.Start
				}
			}
		}
		if len(chorusEnds) >= 2 && chorusEnds[1]-entryTime >= w.MinDurationSec {
			return boundByDuration(a, entry, chorusEnds[1], w)
		}
		if len(chorusEnds) >= 1 && chorusEnds[0]-entryTime >= w.MinDurationSec {
			return boundByDuration(a, entry, chorusEnds[0], w)
		}
		if outroStart >= 0 && outroStart-entryTime >= w.MinDurationSec {
			return boundByDuration(a, entry, outroStart, w)
		}
		return boundByDuration(a, entry, entryTime+w.IdealDuration, w)
	}

	return boundedExit(t, entry, w)
}

// boundedExit is the no-timeline rule: entry plus a beat-count window.
func boundedExit(t *track.Track, entry int, w config.Weights) int {
	exit := entry + w.MaxFirstBeats
	if min := entry + w.MinFirstBeats; exit < min {
		exit = min
	}
	if exit > len(t.Analysis.Beats) {
		exit = len(t.Analysis.Beats)
	}
	return exit
}

// boundByDuration converts a target exit time to a beat index while
// clamping the span into [MinDurationSec, MaxDurationSec].
func boundByDuration(a *track.Analysis, entry int, exitTime float64, w config.Weights) int {
	entryTime := a.Beats[entry].Start
	if exitTime-entryTime > w.MaxDurationSec {
		exitTime = entryTime + w.MaxDurationSec
	}
	if exitTime-entryTime < w.MinDurationSec {
		exitTime = entryTime + w.MinDurationSec
	}
	exit := a.NearestBeat(exitTime) + 1
	if exit > len(a.Beats) {
		exit = len(a.Beats)
	}
	if exit <= entry {
		exit = entry + 1
	}
	return exit
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
