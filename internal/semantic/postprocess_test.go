package semantic

import (
	"math"
	"testing"

	"github.com/cartomix/havana/internal/track"
)

// gridAnalysis builds a uniform 120 BPM grid with downbeats every four
// beats.
func gridAnalysis(duration float64) *track.Analysis {
	a := &track.Analysis{Duration: duration, BPM: 120, Meter: track.Meter{Numerator: 4, Denominator: 4}}
	period := 0.5
	for t := 0.0; t < duration; t += period {
		end := t + period
		if end > duration {
			end = duration
		}
		a.Beats = append(a.Beats, track.Beat{
			Start:    t,
			Duration: end - t,
			Downbeat: len(a.Beats)%4 == 0,
		})
	}
	return a
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"00:00.0", 0, false},
		{"01:30.5", 90.5, false},
		{"02:05", 125, false}, // missing decimal accepted
		{"10:59.9", 659.9, false},
		{"1:90.0", 0, true},
		{"90", 0, true},
		{"", 0, true},
		{"aa:bb.c", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseTimestamp(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tc.in, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("ParseTimestamp(%q) = %f, want %f", tc.in, got, tc.want)
		}
	}
}

// TestPostprocessContiguity: after post-processing, sections touch and
// cover [0, duration).
func TestPostprocessContiguity(t *testing.T) {
	a := gridAnalysis(180)
	doc := &Document{Timeline: []RawSegment{
		{Start: "00:02.0", End: "00:20.0", Type: "intro"},
		{Start: "00:25.0", End: "01:00.0", Type: "verse", HasVocals: true},
		{Start: "01:00.0", End: "01:40.0", Type: "chorus", HasVocals: true},
		{Start: "01:45.0", End: "02:59.0", Type: "outro"},
	}}

	tl := Postprocess(doc, a)
	if tl.Sections[0].Start != 0 {
		t.Errorf("first section starts at %.1f, want 0", tl.Sections[0].Start)
	}
	for i := 1; i < len(tl.Sections); i++ {
		if tl.Sections[i].Start != tl.Sections[i-1].End {
			t.Errorf("sections %d and %d do not touch", i-1, i)
		}
	}
	if last := tl.Sections[len(tl.Sections)-1]; last.End != a.Duration {
		t.Errorf("last section ends at %.1f, want %.1f (tail extension)", last.End, a.Duration)
	}
}

// TestPostprocessDropsInvertedEntries: end <= start entries vanish.
func TestPostprocessDropsInvertedEntries(t *testing.T) {
	a := gridAnalysis(120)
	doc := &Document{Timeline: []RawSegment{
		{Start: "00:30.0", End: "00:10.0", Type: "verse"},
		{Start: "00:00.0", End: "01:59.0", Type: "chorus"},
	}}
	tl := Postprocess(doc, a)
	if len(tl.Sections) != 1 || tl.Sections[0].Type != track.SectionChorus {
		t.Errorf("sections = %+v, want single chorus", tl.Sections)
	}
}

// TestMergeIdempotence: running the merge pass twice yields identical
// output.
func TestMergeIdempotence(t *testing.T) {
	in := []track.Section{
		{Start: 0, End: 30, Type: track.SectionVerse},
		{Start: 33, End: 60, Type: track.SectionVerse},  // gap 3 < 6: merge
		{Start: 70, End: 90, Type: track.SectionVerse},  // gap 10: keep
		{Start: 92, End: 110, Type: track.SectionChorus}, // type change: keep
	}

	once := MergeSections(in)
	twice := MergeSections(once)

	if len(once) != 3 {
		t.Fatalf("merged to %d sections, want 3", len(once))
	}
	if once[0].End != 60 {
		t.Errorf("merged section ends at %.0f, want 60", once[0].End)
	}
	if len(twice) != len(once) {
		t.Fatalf("second merge changed count: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("section %d changed on second merge: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

// TestPostprocessFallback: an empty document yields the three-section
// default.
func TestPostprocessFallback(t *testing.T) {
	a := gridAnalysis(180)
	for _, doc := range []*Document{nil, {}, {Timeline: []RawSegment{{Start: "xx", End: "yy", Type: "??"}}}} {
		tl := Postprocess(doc, a)
		if len(tl.Sections) != 3 {
			t.Fatalf("fallback has %d sections, want 3", len(tl.Sections))
		}
		if tl.Sections[0].Type != track.SectionIntro || tl.Sections[0].End != 15 {
			t.Errorf("intro = %+v, want [0,15)", tl.Sections[0])
		}
		if tl.Sections[2].Type != track.SectionOutro || tl.Sections[2].Start != 165 {
			t.Errorf("outro = %+v, want [165,180)", tl.Sections[2])
		}
		if len(tl.Loops) != 0 {
			t.Error("fallback carries loops")
		}
	}
}

// TestSnapToBeatDownbeatPriority: a downbeat within the priority bonus
// beats a nearer plain beat.
func TestSnapToBeatDownbeatPriority(t *testing.T) {
	a := gridAnalysis(60)
	// Beat starts every 0.5s, downbeats at 0, 2, 4, ...
	// Target 2.28s: plain beat at 2.5 is 0.22 away, downbeat at 2.0 is
	// 0.28 away; with the 0.1s bonus the downbeat wins.
	got, ok := SnapToBeat(a, 2.28)
	if !ok {
		t.Fatal("no snap")
	}
	if got != 2.0 {
		t.Errorf("snapped to %.2f, want downbeat 2.0", got)
	}

	// Far outside the window: no snap.
	short := &track.Analysis{Duration: 60, Beats: []track.Beat{{Start: 0, Duration: 60, Downbeat: true}}}
	if _, ok := SnapToBeat(short, 50); ok {
		t.Error("snapped across more than the window")
	}
}

// TestPostprocessLoopsAndBlocks: loops cap at ten; vocal sections
// become blocks.
func TestPostprocessLoopsAndBlocks(t *testing.T) {
	a := gridAnalysis(600)
	doc := &Document{
		Timeline: []RawSegment{
			{Start: "00:00.0", End: "01:00.0", Type: "verse", HasVocals: true},
			{Start: "01:00.0", End: "02:00.0", Type: "chorus", HasVocals: true},
			{Start: "02:00.0", End: "10:00.0", Type: "instrumental"},
		},
	}
	for i := 0; i < 12; i++ {
		doc.Loops = append(doc.Loops, RawLoop{Start: "00:10.0", End: "00:20.0"})
	}

	tl := Postprocess(doc, a)
	if len(tl.Loops) != 10 {
		t.Errorf("%d loops kept, want 10", len(tl.Loops))
	}
	if len(tl.VocalBlocks) != 2 {
		t.Fatalf("%d vocal blocks, want 2", len(tl.VocalBlocks))
	}
	if tl.VocalBlocks[0].Kind != track.BlockVerse || tl.VocalBlocks[1].Kind != track.BlockChorus {
		t.Errorf("block kinds = %v/%v", tl.VocalBlocks[0].Kind, tl.VocalBlocks[1].Kind)
	}
	if len(tl.InstrumentalGaps) != 1 {
		t.Errorf("%d instrumental gaps, want 1", len(tl.InstrumentalGaps))
	}
}
