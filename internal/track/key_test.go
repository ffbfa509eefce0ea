package track

import "testing"

func TestCamelotMapping(t *testing.T) {
	cases := []struct {
		key  Key
		want string
	}{
		{Key{PitchClass: 0, Mode: ModeMajor}, "8B"},  // C major
		{Key{PitchClass: 9, Mode: ModeMinor}, "8A"},  // A minor
		{Key{PitchClass: 7, Mode: ModeMajor}, "9B"},  // G major
		{Key{PitchClass: 4, Mode: ModeMinor}, "9A"},  // E minor
		{Key{PitchClass: 6, Mode: ModeMajor}, "2B"},  // F# major
		{Key{PitchClass: 11, Mode: ModeMajor}, "1B"}, // B major
		{Key{PitchClass: 8, Mode: ModeMinor}, "1A"},  // G# minor
		{Key{PitchClass: 2, Mode: ModeMinor}, "7A"},  // D minor
	}
	for _, tc := range cases {
		if got := tc.key.Camelot(); got != tc.want {
			t.Errorf("%s: Camelot() = %s, want %s", tc.key.Name(), got, tc.want)
		}
	}
}

func TestCompatible(t *testing.T) {
	am := Key{PitchClass: 9, Mode: ModeMinor} // 8A
	cases := []struct {
		other Key
		want  bool
	}{
		{Key{PitchClass: 9, Mode: ModeMinor}, true},  // same
		{Key{PitchClass: 4, Mode: ModeMinor}, true},  // 9A, +1
		{Key{PitchClass: 2, Mode: ModeMinor}, true},  // 7A, -1
		{Key{PitchClass: 0, Mode: ModeMajor}, true},  // 8B, relative
		{Key{PitchClass: 6, Mode: ModeMajor}, false}, // 2B
		{Key{PitchClass: 7, Mode: ModeMajor}, false}, // 9B, neighbour but cross-mode
	}
	for _, tc := range cases {
		if got := Compatible(am, tc.other); got != tc.want {
			t.Errorf("Compatible(8A, %s) = %v, want %v", tc.other.Camelot(), got, tc.want)
		}
	}
}

func TestBeatLookups(t *testing.T) {
	a := &Analysis{Duration: 10}
	for i := 0; i < 20; i++ {
		a.Beats = append(a.Beats, Beat{Start: float64(i) * 0.5, Duration: 0.5})
	}

	if got := a.BeatAt(0); got != 0 {
		t.Errorf("BeatAt(0) = %d, want 0", got)
	}
	if got := a.BeatAt(2.7); got != 5 {
		t.Errorf("BeatAt(2.7) = %d, want 5", got)
	}
	if got := a.BeatAt(99); got != 19 {
		t.Errorf("BeatAt(99) = %d, want 19", got)
	}
	if got := a.NearestBeat(2.7); got != 5 {
		t.Errorf("NearestBeat(2.7) = %d, want 5", got)
	}
	if got := a.NearestBeat(2.8); got != 6 {
		t.Errorf("NearestBeat(2.8) = %d, want 6", got)
	}
}

func TestTimelineResultVariant(t *testing.T) {
	absent := AbsentTimeline("collaborator down")
	if _, ok := absent.Timeline(); ok {
		t.Error("absent result reported a timeline")
	}
	if absent.AbsentReason() != "collaborator down" {
		t.Errorf("reason = %q", absent.AbsentReason())
	}

	present := PresentTimeline(&Timeline{})
	tl, ok := present.Timeline()
	if !ok || tl == nil {
		t.Error("present result lost its timeline")
	}
	// Zero sections is still "present": never conflated with absent.
	if present.AbsentReason() != "" {
		t.Error("present result carries an absence reason")
	}
}
