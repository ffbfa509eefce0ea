package render

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/fixtures"
	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/score"
	"github.com/cartomix/havana/internal/track"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testWeights shrinks the timing windows so fixtures stay small.
func testWeights() config.Weights {
	w := config.DefaultWeights()
	w.MinFirstBeats = 8
	w.MaxFirstBeats = 16
	w.MinDurationSec = 4
	w.IdealDuration = 8
	w.MaxDurationSec = 20
	w.FadeCrossfade = 1
	w.OverlapLead = 0.2
	w.BlockSeconds = 2
	w.TailFadeSeconds = 1
	return w
}

// addTrack wraps PCM in an analysed track with a uniform 120 BPM grid.
func addTrack(arena *track.Arena, name string, buf *audio.Buffer) *track.Track {
	duration := buf.Duration()
	a := &track.Analysis{Duration: duration, BPM: 120, Meter: track.Meter{Numerator: 4, Denominator: 4}}
	period := 0.5
	n := int(duration / period)
	a.Features.Energy = make([]float64, n)
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
	}
	t := &track.Track{Name: name, Duration: duration, PCM: buf, Analysis: a}
	arena.Add(t)
	return t
}

// twoTrackRoute links track 0's beat 16 to track 1's entry.
func twoTrackRoute(arena *track.Arena) *planner.Route {
	a := arena.Get(0)
	from := points.Point{
		Track:     a.ID,
		BeatIndex: 16,
		Time:      a.Analysis.Beats[16].Start,
		Score:     250,
		Kind:      points.KindCrossfade,
		Section:   track.SectionChorus,
	}
	to := points.Point{Track: 1, Score: 180, Kind: points.KindCrossfade, Section: track.SectionIntro, Entry: true}
	return &planner.Route{Candidates: []score.Candidate{{
		From:              from,
		To:                to,
		Total:             1000,
		PlaybackRate:      1.0,
		CrossfadeDuration: 1.0,
	}}}
}

// TestTimeMapMonotonic: mix time starts at zero and never decreases.
func TestTimeMapMonotonic(t *testing.T) {
	arena := &track.Arena{}
	addTrack(arena, "a", audio.NewBuffer(30*audio.SampleRate))
	addTrack(arena, "b", audio.NewBuffer(30*audio.SampleRate))

	tm, err := BuildTimeMap(twoTrackRoute(arena), arena, testWeights())
	if err != nil {
		t.Fatalf("BuildTimeMap() failed: %v", err)
	}
	if len(tm.Rows) == 0 {
		t.Fatal("empty time map")
	}
	if tm.Rows[0].MixTime != 0 {
		t.Errorf("first row at %.3f, want 0", tm.Rows[0].MixTime)
	}
	for i := 1; i < len(tm.Rows); i++ {
		if tm.Rows[i].MixTime < tm.Rows[i-1].MixTime {
			t.Fatalf("mix time decreased at row %d", i)
		}
	}

	// Exactly one transition row, at the destination's first beat.
	transitions := 0
	for _, r := range tm.Rows {
		if r.Transition {
			transitions++
			if r.Track != 1 {
				t.Errorf("transition row on track %d, want 1", r.Track)
			}
		}
	}
	if transitions != 1 {
		t.Errorf("%d transition rows, want 1", transitions)
	}
}

// TestRenderSilentMixRoundTrip renders two silent tracks and round-
// trips the WAV: all zeros, canonical format, duration matching the
// schedule.
func TestRenderSilentMixRoundTrip(t *testing.T) {
	arena := &track.Arena{}
	addTrack(arena, "a", audio.NewBuffer(30*audio.SampleRate))
	addTrack(arena, "b", audio.NewBuffer(30*audio.SampleRate))
	w := testWeights()

	route := twoTrackRoute(arena)
	tm, err := BuildTimeMap(route, arena, w)
	if err != nil {
		t.Fatalf("BuildTimeMap() failed: %v", err)
	}
	graph, err := BuildGraph(tm, arena, w)
	if err != nil {
		t.Fatalf("BuildGraph() failed: %v", err)
	}
	buf, err := graph.Render()
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}

	rowEnd := tm.Duration(arena)
	if buf.Duration() < rowEnd || buf.Duration() > rowEnd+60 {
		t.Errorf("mix lasts %.2fs, schedule ends at %.2fs", buf.Duration(), rowEnd)
	}

	var out bytes.Buffer
	if err := audio.EncodeWAV(&out, buf); err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}
	decoded, err := audio.DecodeWAV(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("DecodeWAV() failed: %v", err)
	}

	if decoded.Rate != 44100 || decoded.Channels != 2 {
		t.Errorf("decoded as %d Hz %d ch", decoded.Rate, decoded.Channels)
	}
	if math.Abs(decoded.Duration()-buf.Duration()) > 0.001 {
		t.Errorf("duration drifted through WAV: %.4f -> %.4f", buf.Duration(), decoded.Duration())
	}
	for i, s := range decoded.Data {
		if s != 0 {
			t.Fatalf("silent mix has non-zero sample %d: %f", i, s)
		}
	}
}

// TestBlockRenderMatchesWholeMix: concatenated streaming blocks equal
// the whole-mix render sample for sample.
func TestBlockRenderMatchesWholeMix(t *testing.T) {
	arena := &track.Arena{}
	addTrack(arena, "a", fixtures.ClickTrack(120, 64))
	addTrack(arena, "b", fixtures.ClickTrack(120, 64))
	w := testWeights()

	route := twoTrackRoute(arena)
	tm, err := BuildTimeMap(route, arena, w)
	if err != nil {
		t.Fatalf("BuildTimeMap() failed: %v", err)
	}
	graph, err := BuildGraph(tm, arena, w)
	if err != nil {
		t.Fatalf("BuildGraph() failed: %v", err)
	}
	whole, err := graph.Render()
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}

	r := NewRenderer(w, testLogger())
	stream, err := r.Stream(route, arena)
	if err != nil {
		t.Fatalf("Stream() failed: %v", err)
	}

	var concat []float32
	for {
		block, err := stream.Next()
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if block == nil {
			break
		}
		concat = append(concat, block.Data...)
	}

	if len(concat) != len(whole.Data) {
		t.Fatalf("blocks total %d samples, whole mix %d", len(concat), len(whole.Data))
	}
	for i := range concat {
		if concat[i] != whole.Data[i] {
			t.Fatalf("block render diverges at sample %d: %g vs %g", i, concat[i], whole.Data[i])
		}
	}
}

// TestBuildGraphRejectsNegativeStart: a transition scheduled before the
// mix begins is a scheduling inconsistency.
func TestBuildGraphRejectsNegativeStart(t *testing.T) {
	arena := &track.Arena{}
	a := addTrack(arena, "a", audio.NewBuffer(30*audio.SampleRate))
	b := addTrack(arena, "b", audio.NewBuffer(60*audio.SampleRate))
	w := testWeights()
	w.MinFirstBeats = 0

	// Exit after one beat; the destination enters 25 s into its audio
	// with a fade longer than the elapsed mix.
	route := &planner.Route{Candidates: []score.Candidate{{
		From: points.Point{Track: a.ID, BeatIndex: 1, Time: 0.5, Kind: points.KindCrossfade, Section: track.SectionChorus},
		To:   points.Point{Track: b.ID, BeatIndex: 50, Time: 25, Section: track.SectionVerse},
		PlaybackRate:      1.0,
		CrossfadeDuration: 1.0,
	}}}

	tm, err := BuildTimeMap(route, arena, w)
	if err != nil {
		t.Fatalf("BuildTimeMap() failed: %v", err)
	}
	_, err = BuildGraph(tm, arena, w)
	if err == nil {
		t.Fatal("expected scheduling error")
	}
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error %T is not a render error", err)
	}
	if rerr.Kind() != "render" {
		t.Errorf("kind = %q, want render", rerr.Kind())
	}
}

// TestGraphReleasedPCMFails: rendering after PCM release is an error.
func TestGraphReleasedPCMFails(t *testing.T) {
	arena := &track.Arena{}
	addTrack(arena, "a", audio.NewBuffer(30*audio.SampleRate))
	addTrack(arena, "b", audio.NewBuffer(30*audio.SampleRate))
	arena.Get(1).ReleasePCM()

	tm, err := BuildTimeMap(twoTrackRoute(arena), arena, testWeights())
	if err != nil {
		t.Fatalf("BuildTimeMap() failed: %v", err)
	}
	if _, err := BuildGraph(tm, arena, testWeights()); err == nil {
		t.Fatal("expected error for released PCM")
	}
}
