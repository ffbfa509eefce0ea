package score

import (
	"math"
	"testing"

	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/track"
)

// synthTrack builds an analysed track without audio.
func synthTrack(arena *track.Arena, name string, bpm float64, key track.Key, duration float64) *track.Track {
	a := &track.Analysis{Duration: duration, BPM: bpm, Meter: track.Meter{Numerator: 4, Denominator: 4}, Key: key}
	period := 60.0 / bpm
	n := int(duration / period)
	a.Features.Energy = make([]float64, n)
	a.Features.Centroid = make([]float64, n)
	a.Features.HasVocal = make([]bool, n)
	for i := 0; i < n; i++ {
		end := float64(i+1) * period
		if end > duration {
			end = duration
		}
		a.Beats = append(a.Beats, track.Beat{
			Start:    float64(i) * period,
			Duration: end - float64(i)*period,
			Downbeat: i%4 == 0,
		})
		a.Features.Energy[i] = 0.6
	}
	t := &track.Track{Name: name, Duration: duration, Analysis: a}
	arena.Add(t)
	return t
}

func exitPoint(t *track.Track, kind points.Kind) points.Point {
	// A downbeat two thirds in.
	bi := (len(t.Analysis.Beats) * 2 / 3) / 4 * 4
	return points.Point{
		Track:     t.ID,
		BeatIndex: bi,
		Time:      t.Analysis.Beats[bi].Start,
		Score:     200,
		Kind:      kind,
		Section:   track.SectionChorus,
	}
}

func entryPoint(t *track.Track) points.Point {
	return points.Point{
		Track:   t.ID,
		Score:   180,
		Kind:    points.KindCrossfade,
		Section: track.SectionIntro,
		Entry:   true,
	}
}

var keyC = track.Key{PitchClass: 0, Mode: track.ModeMajor} // 8B

// TestSameKeySameBPMCrossfade is the canonical two-track case: rate
// 1.0, the 8-second default crossfade, full harmony, no tempo penalty.
func TestSameKeySameBPMCrossfade(t *testing.T) {
	arena := &track.Arena{}
	a := synthTrack(arena, "a", 120, keyC, 180)
	b := synthTrack(arena, "b", 120, keyC, 180)

	s := NewScorer(arena, config.DefaultWeights())
	c := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b), nil)

	if c.PlaybackRate != 1.0 {
		t.Errorf("playback rate = %.3f, want 1.0", c.PlaybackRate)
	}
	if c.CrossfadeDuration != 8.0 {
		t.Errorf("crossfade = %.1f, want 8.0", c.CrossfadeDuration)
	}
	if c.Breakdown.Harmony != 250 {
		t.Errorf("harmony = %.0f, want 250", c.Breakdown.Harmony)
	}
	if c.Breakdown.TempoFactor != 1.0 {
		t.Errorf("tempo factor = %.2f, want 1.0", c.Breakdown.TempoFactor)
	}
	if c.Breakdown.HarmonyFactor != 1.0 {
		t.Errorf("harmony factor = %.2f, want 1.0", c.Breakdown.HarmonyFactor)
	}
}

// TestHarmonicMismatch: a tritone apart zeroes harmony and multiplies
// the total by 0.6, landing at least 40 % below the matched pair.
func TestHarmonicMismatch(t *testing.T) {
	arena := &track.Arena{}
	a := synthTrack(arena, "a", 120, keyC, 180)
	b := synthTrack(arena, "b", 120, keyC, 180)
	c2 := synthTrack(arena, "c", 120, track.Key{PitchClass: 6, Mode: track.ModeMajor}, 180) // 2B

	s := NewScorer(arena, config.DefaultWeights())
	matched := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b), nil)
	clash := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(c2), nil)

	if clash.Breakdown.Harmony != 0 {
		t.Errorf("harmony = %.0f, want 0 for a tritone", clash.Breakdown.Harmony)
	}
	if clash.Breakdown.HarmonyFactor != 0.6 {
		t.Errorf("harmony factor = %.2f, want 0.6", clash.Breakdown.HarmonyFactor)
	}
	if clash.Total > matched.Total*0.6 {
		t.Errorf("clash scores %.0f, matched %.0f: want at least 40%% below", clash.Total, matched.Total)
	}
}

// TestTempoExtremes: doubling the tempo clamps the rate to 1.1 and
// halves the total.
func TestTempoExtremes(t *testing.T) {
	arena := &track.Arena{}
	a := synthTrack(arena, "a", 100, keyC, 180)
	b := synthTrack(arena, "b", 200, keyC, 180)

	s := NewScorer(arena, config.DefaultWeights())
	c := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b), nil)

	if c.PlaybackRate != 1.1 {
		t.Errorf("playback rate = %.3f, want clamp at 1.1", c.PlaybackRate)
	}
	if c.Breakdown.TempoFactor != 0.5 {
		t.Errorf("tempo factor = %.2f, want 0.5", c.Breakdown.TempoFactor)
	}
}

// TestHarmonySymmetry: harmony(A->B) equals harmony(B->A) for every key
// pair; the relation depends only on distance and mode parity.
func TestHarmonySymmetry(t *testing.T) {
	w := config.DefaultWeights()
	for pcA := 0; pcA < 12; pcA++ {
		for pcB := 0; pcB < 12; pcB++ {
			for _, modes := range [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
				arena := &track.Arena{}
				a := synthTrack(arena, "a", 120, track.Key{PitchClass: pcA, Mode: modes[0]}, 120)
				b := synthTrack(arena, "b", 120, track.Key{PitchClass: pcB, Mode: modes[1]}, 120)
				s := NewScorer(arena, w)

				ab := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b), nil)
				ba := s.Score(exitPoint(b, points.KindCrossfade), entryPoint(a), nil)
				if ab.Breakdown.Harmony != ba.Breakdown.Harmony {
					t.Fatalf("harmony asymmetric for %d/%d modes %v: %.0f vs %.0f",
						pcA, pcB, modes, ab.Breakdown.Harmony, ba.Breakdown.Harmony)
				}
			}
		}
	}
}

// TestTempoPenaltyMonotonic: a smaller tempo ratio never penalises
// harder than a bigger one.
func TestTempoPenaltyMonotonic(t *testing.T) {
	w := config.DefaultWeights()
	factorFor := func(fromBPM, toBPM float64) float64 {
		arena := &track.Arena{}
		a := synthTrack(arena, "a", fromBPM, keyC, 120)
		b := synthTrack(arena, "b", toBPM, keyC, 120)
		s := NewScorer(arena, w)
		return s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b), nil).Breakdown.TempoFactor
	}

	prev := math.Inf(1)
	ratios := []float64{1.0, 1.1, 1.2, 1.3, 1.6, 2.0}
	for _, r := range ratios {
		f := factorFor(100, 100*r)
		if f > prev {
			t.Fatalf("tempo factor rose from %.2f to %.2f at ratio %.1f", prev, f, r)
		}
		prev = f
	}
}

// TestVarietyByUse: reusing a destination scores below a fresh one.
func TestVarietyByUse(t *testing.T) {
	arena := &track.Arena{}
	a := synthTrack(arena, "a", 120, keyC, 180)
	b := synthTrack(arena, "b", 120, keyC, 180)

	w := config.DefaultWeights()
	s := NewScorer(arena, w)

	fresh := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b),
		&RouteState{UseCount: map[track.ID]int{}})
	reused := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b),
		&RouteState{UseCount: map[track.ID]int{b.ID: 1}})
	exhausted := s.Score(exitPoint(a, points.KindCrossfade), entryPoint(b),
		&RouteState{UseCount: map[track.ID]int{b.ID: 3}})

	if fresh.Breakdown.Variety <= reused.Breakdown.Variety {
		t.Errorf("fresh variety %.0f not above reused %.0f", fresh.Breakdown.Variety, reused.Breakdown.Variety)
	}
	if got := exhausted.Breakdown.Variety - reused.Breakdown.Variety; got >= 0 {
		t.Errorf("heavy reuse variety did not drop: %+.0f", got)
	}
	if want := w.VarietyByUse[3]; exhausted.Breakdown.Variety > want+200 {
		t.Errorf("exhausted variety %.0f implausibly high", exhausted.Breakdown.Variety)
	}
}

// TestCutFadeDuration: the exit point's kind picks the fade length.
func TestCutFadeDuration(t *testing.T) {
	arena := &track.Arena{}
	a := synthTrack(arena, "a", 120, keyC, 180)
	b := synthTrack(arena, "b", 120, keyC, 180)
	s := NewScorer(arena, config.DefaultWeights())

	if c := s.Score(exitPoint(a, points.KindCut), entryPoint(b), nil); c.CrossfadeDuration != 2.0 {
		t.Errorf("cut fade = %.1f, want 2.0", c.CrossfadeDuration)
	}
	if c := s.Score(exitPoint(a, points.KindBeatmatch), entryPoint(b), nil); c.CrossfadeDuration != 12.0 {
		t.Errorf("beatmatch fade = %.1f, want 12.0", c.CrossfadeDuration)
	}
}
