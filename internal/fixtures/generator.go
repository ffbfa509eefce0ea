// Package fixtures synthesises deterministic test audio: click tracks,
// phrase-structured tracks, and harmonically related sets, written as
// canonical 44.1 kHz stereo WAV files with a manifest.
package fixtures

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cartomix/havana/internal/audio"
)

// Config controls which fixtures are emitted.
type Config struct {
	OutputDir string
	Seed      int64
	BPMLadder []float64

	IncludePhrase      bool
	PhraseBPM          float64
	IncludeHarmonicSet bool
	HarmonicSetKeys    []string // Camelot codes, e.g. ["8A", "9A", "7A"]
	IncludeSilence     bool
	SilenceSeconds     float64
}

// Manifest describes generated fixtures for tests and consumers.
type Manifest struct {
	SampleRate int               `json:"sample_rate"`
	Seed       int64             `json:"seed"`
	Fixtures   []ManifestFixture `json:"fixtures"`
}

// ManifestFixture is one emitted file.
type ManifestFixture struct {
	File        string            `json:"file"`
	Type        string            `json:"type"`
	BPM         float64           `json:"bpm,omitempty"`
	Beats       int               `json:"beats,omitempty"`
	DurationSec float64           `json:"duration_sec"`
	Key         string            `json:"key,omitempty"`
	Sections    []ManifestSection `json:"sections,omitempty"`
	SetID       string            `json:"set_id,omitempty"`
}

// ManifestSection describes a section within a phrase track.
type ManifestSection struct {
	Type      string  `json:"type"`
	StartBeat int     `json:"start_beat"`
	EndBeat   int     `json:"end_beat"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Generate writes WAV fixtures and a manifest.json into OutputDir.
func Generate(cfg Config) (*Manifest, error) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./testdata/audio"
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir output: %w", err)
	}

	manifest := &Manifest{SampleRate: audio.SampleRate, Seed: cfg.Seed}

	for _, bpm := range cfg.BPMLadder {
		filename := fmt.Sprintf("click_%dbpm.wav", int(bpm))
		buf := ClickTrack(bpm, 128)
		if err := writeWAV(filepath.Join(cfg.OutputDir, filename), buf); err != nil {
			return nil, err
		}
		manifest.Fixtures = append(manifest.Fixtures, ManifestFixture{
			File:        filename,
			Type:        "click",
			BPM:         bpm,
			Beats:       128,
			DurationSec: buf.Duration(),
		})
	}

	if cfg.IncludePhrase {
		bpm := cfg.PhraseBPM
		if bpm == 0 {
			bpm = 128
		}
		filename := "phrase_track.wav"
		buf, sections := PhraseTrack(bpm, "8A")
		if err := writeWAV(filepath.Join(cfg.OutputDir, filename), buf); err != nil {
			return nil, err
		}
		manifest.Fixtures = append(manifest.Fixtures, ManifestFixture{
			File:        filename,
			Type:        "phrase_track",
			BPM:         bpm,
			Key:         "8A",
			DurationSec: buf.Duration(),
			Sections:    sections,
		})
	}

	if cfg.IncludeHarmonicSet {
		keys := cfg.HarmonicSetKeys
		if len(keys) == 0 {
			keys = []string{"8A", "9A", "7A", "8B"} // wheel neighbours
		}
		setID := fmt.Sprintf("harmonic_set_%d", cfg.Seed)
		bpms := []float64{126, 128, 130, 124}
		for i, key := range keys {
			filename := fmt.Sprintf("harmonic_set_%d_%s.wav", i+1, key)
			bpm := bpms[i%len(bpms)]
			buf, sections := HarmonicTrack(key, bpm)
			if err := writeWAV(filepath.Join(cfg.OutputDir, filename), buf); err != nil {
				return nil, err
			}
			manifest.Fixtures = append(manifest.Fixtures, ManifestFixture{
				File:        filename,
				Type:        "harmonic_set_track",
				BPM:         bpm,
				Key:         key,
				DurationSec: buf.Duration(),
				Sections:    sections,
				SetID:       setID,
			})
		}
	}

	if cfg.IncludeSilence {
		secs := cfg.SilenceSeconds
		if secs == 0 {
			secs = 10
		}
		filename := "silence.wav"
		buf := audio.NewBuffer(int(secs * audio.SampleRate))
		if err := writeWAV(filepath.Join(cfg.OutputDir, filename), buf); err != nil {
			return nil, err
		}
		manifest.Fixtures = append(manifest.Fixtures, ManifestFixture{
			File:        filename,
			Type:        "silence",
			DurationSec: buf.Duration(),
		})
	}

	manifestPath := filepath.Join(cfg.OutputDir, "manifest.json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return manifest, nil
}

// ClickTrack renders short decaying clicks per beat, accented on every
// fourth beat so the downbeat aligner has something to find.
func ClickTrack(bpm float64, beats int) *audio.Buffer {
	secondsPerBeat := 60.0 / bpm
	total := secondsPerBeat * float64(beats)
	buf := audio.NewBuffer(int(total * audio.SampleRate))

	clickLen := int(0.01 * audio.SampleRate)
	for i := 0; i < beats; i++ {
		offset := int(secondsPerBeat * float64(i) * audio.SampleRate)
		amp := 0.5
		if i%4 == 0 {
			amp = 0.95
		}
		for j := 0; j < clickLen; j++ {
			f := offset + j
			if f >= buf.Frames() {
				break
			}
			v := float32(amp * math.Exp(-4*float64(j)/float64(clickLen)))
			buf.Data[f*2] += v
			buf.Data[f*2+1] += v
		}
	}
	return buf
}

// sectionDef drives the synthetic arrangements.
type sectionDef struct {
	typ    string
	bars   int
	energy float64
}

// PhraseTrack renders a full arrangement: intro, verse, chorus, bridge,
// chorus, outro, with kicks on downbeats and pads carrying the key.
func PhraseTrack(bpm float64, key string) (*audio.Buffer, []ManifestSection) {
	defs := []sectionDef{
		{"intro", 16, 0.3},
		{"verse", 32, 0.5},
		{"chorus", 32, 1.0},
		{"bridge", 16, 0.4},
		{"chorus", 32, 1.0},
		{"outro", 16, 0.2},
	}
	return renderArrangement(bpm, key, defs)
}

// HarmonicTrack renders a shorter intro/verse/chorus/outro track for
// harmonic-set fixtures.
func HarmonicTrack(key string, bpm float64) (*audio.Buffer, []ManifestSection) {
	defs := []sectionDef{
		{"intro", 8, 0.3},
		{"verse", 16, 0.5},
		{"chorus", 16, 0.9},
		{"outro", 8, 0.25},
	}
	return renderArrangement(bpm, key, defs)
}

func renderArrangement(bpm float64, key string, defs []sectionDef) (*audio.Buffer, []ManifestSection) {
	secondsPerBeat := 60.0 / bpm
	beatsPerBar := 4

	totalBeats := 0
	var sections []ManifestSection
	for _, def := range defs {
		beats := def.bars * beatsPerBar
		sections = append(sections, ManifestSection{
			Type:      def.typ,
			StartBeat: totalBeats,
			EndBeat:   totalBeats + beats,
			StartTime: float64(totalBeats) * secondsPerBeat,
			EndTime:   float64(totalBeats+beats) * secondsPerBeat,
		})
		totalBeats += beats
	}

	total := float64(totalBeats) * secondsPerBeat
	buf := audio.NewBuffer(int(total * audio.SampleRate))
	frames := buf.Frames()

	freqs := camelotFrequencies(key)
	bassFreq := freqs[0] / 2

	for si, section := range sections {
		energy := defs[si].energy
		startFrame := int(section.StartTime * audio.SampleRate)
		endFrame := int(section.EndTime * audio.SampleRate)
		if endFrame > frames {
			endFrame = frames
		}

		for beat := section.StartBeat; beat < section.EndBeat; beat++ {
			beatFrame := int(float64(beat) * secondsPerBeat * audio.SampleRate)
			if beat%beatsPerBar != 0 && !(defs[si].typ == "chorus" && beat%2 == 0) {
				continue
			}
			kickLen := int(0.15 * audio.SampleRate)
			for j := 0; j < kickLen && beatFrame+j < frames; j++ {
				t := float64(j) / audio.SampleRate
				kickFreq := 60.0 * math.Exp(-15*t)
				v := float32(energy * 0.7 * math.Exp(-10*t) * math.Sin(2*math.Pi*kickFreq*t))
				buf.Data[(beatFrame+j)*2] += v
				buf.Data[(beatFrame+j)*2+1] += v
			}
		}

		for f := startFrame; f < endFrame; f++ {
			t := float64(f) / audio.SampleRate
			var v float64
			v += energy * 0.25 * math.Sin(2*math.Pi*bassFreq*t)
			for j, freq := range freqs {
				v += energy * 0.08 * (1 - float64(j)*0.2) * math.Sin(2*math.Pi*freq*t)
			}
			// Slight stereo detune keeps the channels distinct.
			buf.Data[f*2] += float32(v)
			buf.Data[f*2+1] += float32(v * 0.97)
		}
	}

	// Edge fades against clicks.
	fade := int(0.05 * audio.SampleRate)
	for i := 0; i < fade && i < frames; i++ {
		g := float32(i) / float32(fade)
		buf.Data[i*2] *= g
		buf.Data[i*2+1] *= g
		buf.Data[(frames-1-i)*2] *= g
		buf.Data[(frames-1-i)*2+1] *= g
	}

	return buf, sections
}

// camelotFrequencies returns a triad for a handful of Camelot codes,
// defaulting to A minor.
func camelotFrequencies(key string) []float64 {
	switch key {
	case "8A": // A minor
		return []float64{220.0, 261.63, 329.63}
	case "9A": // E minor
		return []float64{164.81, 196.0, 246.94}
	case "7A": // D minor
		return []float64{146.83, 174.61, 220.0}
	case "8B": // C major
		return []float64{261.63, 329.63, 392.0}
	case "9B": // G major
		return []float64{196.0, 246.94, 293.66}
	case "7B": // F major
		return []float64{174.61, 220.0, 261.63}
	default:
		return []float64{220.0, 261.63, 329.63}
	}
}

func writeWAV(path string, buf *audio.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return audio.EncodeWAV(f, buf)
}
