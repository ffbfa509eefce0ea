// Package points enumerates and scores candidate transition points on
// a single track, from its semantic timeline when present and from the
// beat grid heuristically when not.
package points

import (
	"fmt"
	"sort"

	"github.com/cartomix/havana/internal/analysis"
	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/track"
)

// Kind is the preferred transition style at a point.
type Kind string

const (
	KindCrossfade Kind = "crossfade"
	KindCut       Kind = "cut"
	KindBeatmatch Kind = "beatmatch"
)

// Position tags where in the track a point lies.
type Position string

const (
	PositionEarly  Position = "early"
	PositionMiddle Position = "middle"
	PositionLate   Position = "late"
)

// Point is a candidate splice position on a track.
type Point struct {
	Track     track.ID
	BeatIndex int
	Time      float64
	Score     float64
	Quality   track.PointQuality
	Kind      Kind
	Position  Position

	// Section ending at this point and the one starting after it, when
	// a timeline is known.
	Section     track.SectionType
	NextSection track.SectionType

	// Entry marks the candidate at time zero.
	Entry bool
}

// UsedSegments records spans of tracks already spent in the mix. The
// planner owns mutation; the finder and scorer only read it.
type UsedSegments struct {
	spans map[track.ID][]track.Span
}

// NewUsedSegments returns empty bookkeeping.
func NewUsedSegments() *UsedSegments {
	return &UsedSegments{spans: make(map[track.ID][]track.Span)}
}

// Mark records a used window on a track.
func (u *UsedSegments) Mark(id track.ID, start, end float64) {
	u.spans[id] = append(u.spans[id], track.Span{Start: start, End: end})
}

// IsUsed reports whether the time falls inside a marked window.
func (u *UsedSegments) IsUsed(id track.ID, t float64) bool {
	for _, s := range u.spans[id] {
		if t >= s.Start && t < s.End {
			return true
		}
	}
	return false
}

// Finder enumerates transition points under a weight record.
type Finder struct {
	weights config.Weights
}

// NewFinder creates a finder.
func NewFinder(weights config.Weights) *Finder {
	return &Finder{weights: weights}
}

// Find returns the retained candidate points for a track, best first.
// The entry candidate is always kept and takes one of the RetainTopN
// slots. It fails only when the beat grid is empty.
func (f *Finder) Find(t *track.Track, used *UsedSegments) ([]Point, error) {
	a := t.Analysis
	if a == nil || len(a.Beats) == 0 {
		return nil, fmt.Errorf("track %q: empty beat grid", t.Name)
	}
	if used == nil {
		used = NewUsedSegments()
	}

	var pts []Point
	if tl, ok := t.Semantic.Timeline(); ok {
		pts = f.fromTimeline(t, a, tl)
	} else {
		pts = f.fromHeuristic(t, a, used)
	}

	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Score > pts[j].Score })

	kept := pts[:0]
	others := 0
	for _, p := range pts {
		switch {
		case p.Entry:
			kept = append(kept, p)
		case p.Score >= f.weights.RetainMinScore && others < f.weights.RetainTopN-1:
			kept = append(kept, p)
			others++
		}
	}
	return kept, nil
}

// fromTimeline emits a candidate at the end of every section, snapped
// to the nearest beat at or after the boundary, plus the entry point at
// time zero.
func (f *Finder) fromTimeline(t *track.Track, a *track.Analysis, tl *track.Timeline) []Point {
	w := f.weights
	pts := []Point{entryPoint(t, a, w)}

	for i, s := range tl.Sections {
		bi := beatAtOrAfter(a, s.End)
		if bi < 0 {
			continue
		}
		beat := a.Beats[bi]

		score, ok := w.SectionExit[s.Type]
		if !ok {
			score = w.SectionExit[track.SectionVerse]
		}
		kind := KindCrossfade
		if s.Type == track.SectionChorus {
			kind = KindBeatmatch
			if beat.Downbeat {
				score += w.ChorusDownbeatBonus
			}
			if i+1 < len(tl.Sections) && tl.Sections[i+1].Type == track.SectionChorus {
				score += w.ChorusNextChorusBonus
			}
		}

		next := track.SectionType("")
		if i+1 < len(tl.Sections) {
			next = tl.Sections[i+1].Type
		}

		pts = append(pts, Point{
			Track:       t.ID,
			BeatIndex:   bi,
			Time:        beat.Start,
			Score:       score,
			Quality:     qualityFor(score),
			Kind:        kind,
			Position:    positionFor(beat.Start, a.Duration),
			Section:     s.Type,
			NextSection: next,
		})
	}
	return pts
}

// fromHeuristic scores every downbeat against the energy, vocal, and
// proximity rubric, keeping those above the floor.
func (f *Finder) fromHeuristic(t *track.Track, a *track.Analysis, used *UsedSegments) []Point {
	w := f.weights
	sections := analysis.InferSections(a)
	pts := []Point{entryPoint(t, a, w)}

	for bi, beat := range a.Beats {
		if !beat.Downbeat {
			continue
		}
		score := 0.0

		var sec, next track.SectionType
		for si, s := range sections {
			if s.Contains(beat.Start) {
				sec = s.Type
				if si+1 < len(sections) {
					next = sections[si+1].Type
				}
				break
			}
		}
		if sec != "" {
			score += w.HeuristicSection[sec]
		}

		score += proximityBonus(t, beat.Start, w)

		var energy float64
		var vocal bool
		if bi < len(a.Features.Energy) {
			energy = a.Features.Energy[bi]
		}
		if bi < len(a.Features.HasVocal) {
			vocal = a.Features.HasVocal[bi]
		}
		switch {
		case energy > 0.7:
			score += w.EnergyHighBonus
		case energy > 0.35 && energy <= 0.5:
			score += w.EnergyMidBonus
		}
		if energy < 0.05 {
			score += w.EnergySilentPenalty
		} else if energy < 0.15 {
			score += w.EnergyLowPenalty
		}
		if vocal {
			score -= w.VocalSwing
		} else {
			score += w.VocalSwing
		}
		score += w.DownbeatBonus
		if used.IsUsed(t.ID, beat.Start) {
			score += w.UsedRangePenalty
		}

		if score < w.MinHeuristicScore {
			continue
		}

		kind := KindCrossfade
		switch {
		case energy > 0.7:
			kind = KindBeatmatch
		case energy < 0.15:
			kind = KindCut
		}

		pts = append(pts, Point{
			Track:       t.ID,
			BeatIndex:   bi,
			Time:        beat.Start,
			Score:       score,
			Quality:     qualityFor(score),
			Kind:        kind,
			Position:    positionFor(beat.Start, a.Duration),
			Section:     sec,
			NextSection: next,
		})
	}
	return pts
}

func entryPoint(t *track.Track, a *track.Analysis, w config.Weights) Point {
	sec := track.SectionIntro
	return Point{
		Track:    t.ID,
		Time:     a.Beats[0].Start,
		Score:    w.SectionExit[track.SectionIntro],
		Quality:  track.QualityFair,
		Kind:     KindCrossfade,
		Position: PositionEarly,
		Section:  sec,
		Entry:    true,
	}
}

// proximityBonus rewards points near a collaborator-suggested
// transition time.
func proximityBonus(t *track.Track, at float64, w config.Weights) float64 {
	tl, ok := t.Semantic.Timeline()
	if !ok {
		return 0
	}
	best := 0.0
	for _, sp := range tl.Suggested {
		d := sp.Time - at
		if d < 0 {
			d = -d
		}
		if d > w.ProximityWindow {
			continue
		}
		if b := w.SuggestedProximity[sp.Quality]; b > best {
			best = b
		}
	}
	return best
}

// beatAtOrAfter returns the first beat index at or after t, -1 when t
// is past the grid.
func beatAtOrAfter(a *track.Analysis, t float64) int {
	i := a.BeatAt(t)
	if a.Beats[i].Start >= t {
		return i
	}
	if i+1 < len(a.Beats) {
		return i + 1
	}
	return -1
}

func qualityFor(score float64) track.PointQuality {
	switch {
	case score >= 280:
		return track.QualityExcellent
	case score >= 220:
		return track.QualityGood
	default:
		return track.QualityFair
	}
}

func positionFor(t, duration float64) Position {
	switch {
	case t < duration*0.33:
		return PositionEarly
	case t < duration*0.67:
		return PositionMiddle
	default:
		return PositionLate
	}
}
