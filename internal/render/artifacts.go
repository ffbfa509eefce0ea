package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/track"
)

// Artifacts are the files written next to a rendered mix.
type Artifacts struct {
	WAVPath      string
	CuesCSVPath  string
	RouteJSONPath string
}

// WriteArtifacts writes the cue CSV and route JSON beside the WAV.
func WriteArtifacts(wavPath string, route *planner.Route, tm *TimeMap, arena *track.Arena) (*Artifacts, error) {
	base := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	out := &Artifacts{
		WAVPath:       wavPath,
		CuesCSVPath:   base + "-cues.csv",
		RouteJSONPath: base + "-route.json",
	}

	if err := writeCuesCSV(out.CuesCSVPath, tm, arena); err != nil {
		return nil, err
	}
	if err := writeRouteJSON(out.RouteJSONPath, route, tm, arena); err != nil {
		return nil, err
	}
	return out, nil
}

// writeCuesCSV lists every transition in the mix with its landing time.
func writeCuesCSV(path string, tm *TimeMap, arena *track.Arena) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"mix_time", "track", "kind", "rate", "fade_sec"}); err != nil {
		return err
	}
	for _, p := range tm.Plays[1:] {
		record := []string{
			fmt.Sprintf("%.3f", p.TransitionAt),
			arena.Get(p.Track).Name,
			string(p.Kind),
			fmt.Sprintf("%.3f", p.Rate),
			fmt.Sprintf("%.1f", p.Fade),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

type routeJSON struct {
	Tracks      []string        `json:"tracks"`
	TotalScore  float64         `json:"total_score"`
	Transitions []transitionRow `json:"transitions"`
	DurationSec float64         `json:"duration_sec"`
}

type transitionRow struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	Kind         string  `json:"kind"`
	Score        float64 `json:"score"`
	PointQuality float64 `json:"point_quality"`
	Structure    float64 `json:"structure"`
	Harmony      float64 `json:"harmony"`
	Energy       float64 `json:"energy"`
	Mood         float64 `json:"mood"`
	Variety      float64 `json:"variety"`
	SemanticHint float64 `json:"semantic_hint"`
	PlaybackRate float64 `json:"playback_rate"`
	FadeSec      float64 `json:"fade_sec"`
}

// writeRouteJSON records the scored route with its full breakdowns.
func writeRouteJSON(path string, route *planner.Route, tm *TimeMap, arena *track.Arena) error {
	doc := routeJSON{
		TotalScore:  route.Total,
		DurationSec: tm.Duration(arena),
	}
	for _, id := range route.Tracks() {
		doc.Tracks = append(doc.Tracks, arena.Get(id).Name)
	}
	for _, c := range route.Candidates {
		doc.Transitions = append(doc.Transitions, transitionRow{
			From:         arena.Get(c.From.Track).Name,
			To:           arena.Get(c.To.Track).Name,
			Kind:         string(c.From.Kind),
			Score:        c.Total,
			PointQuality: c.Breakdown.PointQuality,
			Structure:    c.Breakdown.Structure,
			Harmony:      c.Breakdown.Harmony,
			Energy:       c.Breakdown.Energy,
			Mood:         c.Breakdown.Mood,
			Variety:      c.Breakdown.Variety,
			SemanticHint: c.Breakdown.SemanticHint,
			PlaybackRate: c.PlaybackRate,
			FadeSec:      c.CrossfadeDuration,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
