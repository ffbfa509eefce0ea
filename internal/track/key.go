package track

import "fmt"

// Mode distinguishes minor from major keys.
const (
	ModeMinor = 0
	ModeMajor = 1
)

// Key is a tonal key as pitch class plus mode.
type Key struct {
	PitchClass int // 0 = C .. 11 = B
	Mode       int // ModeMinor or ModeMajor
}

// camelotMajor maps pitch class to Camelot number for major (B) keys;
// minor (A) keys of the same number are the relative minors.
var camelotMajor = [12]int{8, 3, 10, 5, 12, 7, 2, 9, 4, 11, 6, 1}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// CamelotNum returns the Camelot wheel number 1..12.
func (k Key) CamelotNum() int {
	if k.Mode == ModeMajor {
		return camelotMajor[((k.PitchClass%12)+12)%12]
	}
	// Relative major sits three semitones up from the minor tonic.
	return camelotMajor[((k.PitchClass+3)%12+12)%12]
}

// Camelot returns the standard Camelot code, e.g. "8A" for A minor.
func (k Key) Camelot() string {
	mode := "A"
	if k.Mode == ModeMajor {
		mode = "B"
	}
	return fmt.Sprintf("%d%s", k.CamelotNum(), mode)
}

// Name returns a human-readable key name, e.g. "A Minor".
func (k Key) Name() string {
	mode := "Minor"
	if k.Mode == ModeMajor {
		mode = "Major"
	}
	return noteNames[((k.PitchClass%12)+12)%12] + " " + mode
}

// WheelDistance returns the circular distance between two keys on the
// Camelot wheel, 0..6.
func WheelDistance(a, b Key) int {
	d := a.CamelotNum() - b.CamelotNum()
	if d < 0 {
		d = -d
	}
	if d > 6 {
		d = 12 - d
	}
	return d
}

// Compatible reports whether two keys mix harmonically: same code,
// one step around the wheel, or relative major/minor.
func Compatible(a, b Key) bool {
	d := WheelDistance(a, b)
	if a.Mode == b.Mode {
		return d <= 1
	}
	return d == 0
}
