package render

import (
	"fmt"
	"math"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/dsp"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/track"
)

const (
	// silenceFloor is the lowest scheduled gain; exponential ramps
	// cannot reach zero.
	silenceFloor = 0.001

	clickGuardSeconds = 0.05

	shelfFreq   = 320.0
	peakFreq    = 1000.0
	peakQ       = 0.5
	highFreq    = 3200.0

	shelfDipBeatmatch = -24.0
	shelfDipCrossfade = -12.0

	// coeffChunk is how often the animated low shelf re-derives its
	// coefficients, in frames.
	coeffChunk = 64
)

// autoPoint is one scheduled automation value.
type autoPoint struct {
	t float64
	v float64
}

// envelope interpolates scheduled points. Gain envelopes interpolate
// exponentially (equal-power fades); the shelf envelope linearly in dB.
type envelope struct {
	pts         []autoPoint
	exponential bool
}

func (e *envelope) add(t, v float64) {
	e.pts = append(e.pts, autoPoint{t, v})
}

func (e *envelope) valueAt(t float64) float64 {
	if len(e.pts) == 0 {
		return 1
	}
	if t <= e.pts[0].t {
		return e.pts[0].v
	}
	for i := 1; i < len(e.pts); i++ {
		if t < e.pts[i].t {
			p0, p1 := e.pts[i-1], e.pts[i]
			frac := (t - p0.t) / (p1.t - p0.t)
			if e.exponential {
				v0 := math.Max(p0.v, silenceFloor)
				v1 := math.Max(p1.v, silenceFloor)
				return v0 * math.Pow(v1/v0, frac)
			}
			return p0.v + (p1.v-p0.v)*frac
		}
	}
	return e.pts[len(e.pts)-1].v
}

// sourceNode is one scheduled track play with its per-source chain:
// gain, low shelf, peaking, high shelf, output gain.
type sourceNode struct {
	buf *audio.Buffer

	scheduleStart float64 // mix seconds the source starts playing
	audioStart    float64 // seconds into the source audio at that point
	mixEnd        float64 // mix seconds the source stops
	rate          float64

	gain       envelope
	shelfDB    envelope
	outputGain float64
}

// Graph is the offline audio graph for one mix. Scheduling order and
// timestamps are the single source of truth; rendering never consults
// the clock.
type Graph struct {
	sources  []*sourceNode
	duration float64
}

// BuildGraph schedules every play span of the time map.
func BuildGraph(tm *TimeMap, arena *track.Arena, w config.Weights) (*Graph, error) {
	if len(tm.Plays) == 0 {
		return nil, &Error{Reason: "empty time map"}
	}

	g := &Graph{}
	rowEnd := tm.Duration(arena)

	for i, play := range tm.Plays {
		t := arena.Get(play.Track)
		if t.PCM == nil {
			return nil, &Error{Reason: fmt.Sprintf("track %q: PCM already released", t.Name)}
		}
		a := t.Analysis

		entryTime := a.Beats[play.EntryBeat].Start

		// Mix time this source stops: the next transition, or for the
		// last source the end of the rows plus the tail fade.
		var mixEnd float64
		if i+1 < len(tm.Plays) {
			mixEnd = tm.Plays[i+1].TransitionAt
		} else {
			mixEnd = rowEnd + w.TailFadeSeconds
		}

		src := &sourceNode{
			buf:        t.PCM,
			rate:       play.Rate,
			mixEnd:     mixEnd,
			outputGain: 1.0,
			gain:       envelope{exponential: true},
		}

		if i == 0 {
			src.scheduleStart = 0
			src.audioStart = entryTime
			// Anti-click fade-in on the first source.
			src.gain.add(0, silenceFloor)
			src.gain.add(clickGuardSeconds, 1.0)
		} else {
			T := play.TransitionAt
			lead := play.Fade + w.OverlapLead
			src.scheduleStart = T - lead
			src.audioStart = entryTime - lead*play.Rate
			if src.audioStart < 0 {
				// Not enough audio before the entry; push the start
				// forward so the entry beat still lands on T.
				src.scheduleStart = T - entryTime/play.Rate
				src.audioStart = 0
			}
			if src.scheduleStart < 0 {
				return nil, &Error{Reason: fmt.Sprintf("negative start time %.2fs for track %q", src.scheduleStart, t.Name)}
			}
			scheduleFadeIn(src, T, play.Kind, play.Fade)
		}

		// Fade-out at the next transition, or the closing tail.
		if i+1 < len(tm.Plays) {
			next := tm.Plays[i+1]
			scheduleFadeOut(src, next.TransitionAt, next.Kind, next.Fade)
		} else {
			src.gain.add(rowEnd, 1.0)
			src.gain.add(rowEnd+w.TailFadeSeconds, silenceFloor)
		}

		g.sources = append(g.sources, src)
		if src.mixEnd > g.duration {
			g.duration = src.mixEnd
		}
	}

	return g, nil
}

// scheduleFadeIn lays the four-point exponential rise ending at the
// transition time, with the low-shelf choreography per kind.
func scheduleFadeIn(src *sourceNode, at float64, kind points.Kind, fade float64) {
	if kind == points.KindCut {
		src.gain.add(at-clickGuardSeconds, silenceFloor)
		src.gain.add(at, 1.0)
		return
	}
	start := at - fade
	src.gain.add(start, silenceFloor)
	for i := 1; i <= 3; i++ {
		frac := float64(i) / 3
		src.gain.add(start+fade*frac, silenceFloor*math.Pow(1.0/silenceFloor, frac))
	}

	dip := shelfDipCrossfade
	if kind == points.KindBeatmatch {
		dip = shelfDipBeatmatch
	}
	src.shelfDB.add(start, dip)
	src.shelfDB.add(at, 0)
}

// scheduleFadeOut mirrors the rise at the next transition time.
func scheduleFadeOut(src *sourceNode, at float64, kind points.Kind, fade float64) {
	if kind == points.KindCut {
		src.gain.add(at-clickGuardSeconds, 1.0)
		src.gain.add(at, silenceFloor)
		return
	}
	start := at - fade
	src.gain.add(start, 1.0)
	for i := 1; i <= 3; i++ {
		frac := float64(i) / 3
		src.gain.add(start+fade*frac, math.Pow(silenceFloor, frac))
	}

	dip := shelfDipCrossfade
	if kind == points.KindBeatmatch {
		dip = shelfDipBeatmatch
	}
	src.shelfDB.add(start, 0)
	src.shelfDB.add(at, dip)
}

// Duration returns the scheduled mix length in seconds.
func (g *Graph) Duration() float64 { return g.duration }

// Render renders the whole mix into one buffer.
func (g *Graph) Render() (*audio.Buffer, error) {
	frames := int(math.Ceil(g.duration * audio.SampleRate))
	out := audio.NewBuffer(frames)
	for _, src := range g.sources {
		renderSource(src, out, 0, frames)
	}
	return out, nil
}

// RenderRange renders frames [startFrame, startFrame+frames) of the
// mix. Sources are processed from their own start so filter state
// matches the whole-mix render exactly; pre-range output is discarded.
func (g *Graph) RenderRange(startFrame, frames int) *audio.Buffer {
	out := audio.NewBuffer(frames)
	for _, src := range g.sources {
		renderSource(src, out, startFrame, frames)
	}
	return out
}

// renderSource mixes one source into out, which covers mix frames
// [outBase, outBase+outFrames).
func renderSource(src *sourceNode, out *audio.Buffer, outBase, outFrames int) {
	first := int(math.Ceil(src.scheduleStart * audio.SampleRate))
	last := int(math.Ceil(src.mixEnd * audio.SampleRate))
	if last > outBase+outFrames {
		last = outBase + outFrames
	}
	if first >= last {
		return
	}

	peak := dsp.Peaking(audio.SampleRate, peakFreq, peakQ, 0)
	high := dsp.HighShelf(audio.SampleRate, highFreq, 0)
	shelfGain := 0.0
	if len(src.shelfDB.pts) > 0 {
		shelfGain = src.shelfDB.valueAt(src.scheduleStart)
	}
	shelf := dsp.LowShelf(audio.SampleRate, shelfFreq, shelfGain)

	var shelfState, peakState, highState [audio.Channels]dsp.BiquadState

	for f := first; f < last; f++ {
		mixT := float64(f) / audio.SampleRate

		if (f-first)%coeffChunk == 0 {
			if db := src.shelfDB.valueAt(mixT); len(src.shelfDB.pts) > 0 {
				shelf = dsp.LowShelf(audio.SampleRate, shelfFreq, db)
			}
		}

		srcPos := (src.audioStart + (mixT-src.scheduleStart)*src.rate) * float64(src.buf.Rate)
		si := int(srcPos)
		frac := float32(srcPos - float64(si))
		gain := float32(src.gain.valueAt(mixT) * src.outputGain)

		for c := 0; c < audio.Channels; c++ {
			s0 := src.buf.Sample(c, si)
			s1 := src.buf.Sample(c, si+1)
			v := float64(s0 + (s1-s0)*frac)

			v = shelfState[c].Process(&shelf, v)
			v = peakState[c].Process(&peak, v)
			v = highState[c].Process(&high, v)

			v *= float64(gain)

			if f >= outBase {
				out.Data[(f-outBase)*audio.Channels+c] += float32(v)
			}
		}
	}
}
