// Package score rates ordered pairs of transition points with the
// seven-component rubric: point quality, structure, harmony, energy,
// mood, variety, and semantic hints, followed by the multiplicative
// tempo and harmony penalties.
package score

import (
	"math"
	"strings"

	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/track"
)

// Breakdown itemises a candidate's score.
type Breakdown struct {
	PointQuality  float64
	Structure     float64
	Harmony       float64
	Energy        float64
	Mood          float64
	Variety       float64
	SemanticHint  float64
	HarmonyFactor float64
	TempoFactor   float64
}

// Candidate is a scored ordered pair of transition points.
type Candidate struct {
	From              points.Point
	To                points.Point
	Total             float64
	Breakdown         Breakdown
	PlaybackRate      float64
	CrossfadeDuration float64
}

// RouteState is the read-only context a score depends on: how often the
// destination has been used and the recent structural pattern. The
// planner passes a snapshot; scoring never mutates it.
type RouteState struct {
	UseCount map[track.ID]int
	History  [][2]track.SectionType
}

// Scorer rates candidates against an arena under a weight record.
type Scorer struct {
	arena   *track.Arena
	weights config.Weights
}

// NewScorer creates a scorer.
func NewScorer(arena *track.Arena, weights config.Weights) *Scorer {
	return &Scorer{arena: arena, weights: weights}
}

// Score rates the ordered pair (from, to). The two points must lie on
// different tracks.
func (s *Scorer) Score(from, to points.Point, state *RouteState) Candidate {
	w := s.weights
	fromTrack := s.arena.Get(from.Track)
	toTrack := s.arena.Get(to.Track)

	var b Breakdown
	b.PointQuality = w.PointQualityFactor * (from.Score + to.Score)
	b.Structure = s.structure(from, to, fromTrack, toTrack)
	b.Harmony, b.HarmonyFactor = s.harmony(fromTrack, toTrack)
	b.Energy = s.energy(from, to, fromTrack, toTrack)
	b.Mood = s.mood(from, to, fromTrack, toTrack)
	b.Variety = s.variety(from, to, state)
	b.SemanticHint = s.semanticHint(from, fromTrack) + s.semanticHint(to, toTrack)

	total := b.PointQuality + b.Structure + b.Harmony + b.Energy + b.Mood + b.Variety + b.SemanticHint
	total *= b.HarmonyFactor

	fromBPM := fromTrack.Analysis.BPM
	toBPM := toTrack.Analysis.BPM
	b.TempoFactor = 1.0
	if fromBPM > 0 {
		r := math.Abs(toBPM-fromBPM) / fromBPM
		switch {
		case r > w.TempoHardRatio:
			b.TempoFactor = w.TempoHardFactor
		case r > w.TempoSoftRatio:
			b.TempoFactor = w.TempoSoftFactor
		}
	}
	total *= b.TempoFactor

	rate := 1.0
	if fromBPM > 0 && toBPM > 0 {
		rate = clampF(toBPM/fromBPM, w.RateMin, w.RateMax)
	}

	return Candidate{
		From:              from,
		To:                to,
		Total:             total,
		Breakdown:         b,
		PlaybackRate:      rate,
		CrossfadeDuration: s.fadeDuration(from.Kind),
	}
}

func (s *Scorer) fadeDuration(kind points.Kind) float64 {
	switch kind {
	case points.KindCut:
		return s.weights.FadeCut
	case points.KindBeatmatch:
		return s.weights.FadeBeatmatch
	default:
		return s.weights.FadeCrossfade
	}
}

// structure rewards downbeat-aligned splices and flattering section
// pairings, clamped to the configured ceiling.
func (s *Scorer) structure(from, to points.Point, fromTrack, toTrack *track.Track) float64 {
	w := s.weights
	fromDown := isDownbeat(fromTrack, from.BeatIndex)
	toDown := isDownbeat(toTrack, to.BeatIndex)

	var base float64
	switch {
	case fromDown && toDown:
		base = w.StructureBoth
	case fromDown || toDown:
		base = w.StructureOne
	default:
		base = w.StructureNone
	}

	entrySec := entrySection(to, toTrack)
	switch {
	case from.Section == track.SectionOutro && entrySec == track.SectionIntro:
		base *= w.StructureOutroIntro
	case from.Section == track.SectionInstrumental &&
		(entrySec == track.SectionIntro || entrySec == track.SectionVerse):
		base *= w.StructureInstrIn
	case (from.Section == track.SectionVerse || from.Section == track.SectionChorus) &&
		entrySec == track.SectionInstrumental:
		base *= w.StructureInstrOut
	}

	if base > w.StructureClamp {
		base = w.StructureClamp
	}
	return base
}

// harmony scores the Camelot relationship by semitone distance and mode
// parity. Incompatible keys zero the component and shrink the total.
func (s *Scorer) harmony(fromTrack, toTrack *track.Track) (float64, float64) {
	w := s.weights
	fk := fromTrack.Analysis.Key
	tk := toTrack.Analysis.Key

	delta := fk.PitchClass - tk.PitchClass
	if delta < 0 {
		delta = -delta
	}
	sameMode := fk.Mode == tk.Mode

	entry, ok := w.Harmony[delta]
	if !ok {
		return 0, w.HarmonyZeroFactor
	}
	if sameMode {
		return entry.SameMode, 1.0
	}
	return entry.DiffMode, 1.0
}

// energy rewards matched per-beat energy at the two endpoints.
func (s *Scorer) energy(from, to points.Point, fromTrack, toTrack *track.Track) float64 {
	w := s.weights
	fe := beatEnergy(fromTrack, from.BeatIndex)
	te := beatEnergy(toTrack, to.BeatIndex)
	return math.Max(0, w.EnergyWeight*(1-w.EnergySlope*math.Abs(fe-te)))
}

// mood compares the collaborator descriptions around the endpoints:
// shared words count as themes, matching energy and mode stand in for
// the two mood axes.
func (s *Scorer) mood(from, to points.Point, fromTrack, toTrack *track.Track) float64 {
	w := s.weights
	total := 0.0

	fromThemes := sectionThemes(fromTrack, from.Time)
	toThemes := sectionThemes(toTrack, to.Time)
	if len(fromThemes) > 0 && len(toThemes) > 0 {
		shared := 0.0
		for word := range fromThemes {
			if toThemes[word] {
				shared += w.MoodThemeBonus
			}
		}
		total += math.Min(shared, w.MoodThemeCap)
	}

	// Energy axis.
	fe := beatEnergy(fromTrack, from.BeatIndex)
	te := beatEnergy(toTrack, to.BeatIndex)
	if math.Abs(fe-te) < 0.15 {
		total += w.MoodAxisBonus
	}
	// Emotion axis: shared mode reads as shared emotional colour.
	if fromTrack.Analysis.Key.Mode == toTrack.Analysis.Key.Mode {
		total += w.MoodAxisBonus
	}

	return total
}

// variety discourages leaning on the same destination and repeating the
// same structural move, and rewards the classic pairings.
func (s *Scorer) variety(from, to points.Point, state *RouteState) float64 {
	w := s.weights
	total := 0.0

	uses := 0
	if state != nil && state.UseCount != nil {
		uses = state.UseCount[to.Track]
	}
	idx := uses
	if idx >= len(w.VarietyByUse) {
		idx = len(w.VarietyByUse) - 1
	}
	if idx >= 0 && len(w.VarietyByUse) > 0 {
		total += w.VarietyByUse[idx]
	}

	pair := [2]track.SectionType{from.Section, to.Section}
	if state != nil && len(state.History) >= 2 {
		n := len(state.History)
		if state.History[n-1] == pair && state.History[n-2] == pair {
			total += w.PatternPenalty
		}
	}

	if bonus, ok := w.PairingBonuses[pair]; ok {
		total += bonus
	}
	return total
}

// semanticHint rewards endpoints near collaborator-suggested points.
func (s *Scorer) semanticHint(p points.Point, t *track.Track) float64 {
	tl, ok := t.Semantic.Timeline()
	if !ok {
		return 0
	}
	w := s.weights
	best := 0.0
	for _, sp := range tl.Suggested {
		d := math.Abs(sp.Time - p.Time)
		if d > w.ProximityWindow {
			continue
		}
		if b := w.SemanticHint[sp.Quality]; b > best {
			best = b
		}
	}
	return best
}

func isDownbeat(t *track.Track, beatIdx int) bool {
	if beatIdx < 0 || beatIdx >= len(t.Analysis.Beats) {
		return false
	}
	return t.Analysis.Beats[beatIdx].Downbeat
}

func beatEnergy(t *track.Track, beatIdx int) float64 {
	e := t.Analysis.Features.Energy
	if beatIdx < 0 || beatIdx >= len(e) {
		return 0
	}
	return e[beatIdx]
}

func entrySection(p points.Point, t *track.Track) track.SectionType {
	if tl, ok := t.Semantic.Timeline(); ok {
		if sec := tl.SectionAt(p.Time); sec != nil {
			return sec.Type
		}
	}
	return p.Section
}

// sectionThemes tokenises the collaborator description of the section
// containing t into a lowercase word set.
func sectionThemes(tr *track.Track, t float64) map[string]bool {
	tl, ok := tr.Semantic.Timeline()
	if !ok {
		return nil
	}
	sec := tl.SectionAt(t)
	if sec == nil || sec.Desc == "" {
		return nil
	}
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(sec.Desc)) {
		if len(w) >= 3 {
			words[w] = true
		}
	}
	return words
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
