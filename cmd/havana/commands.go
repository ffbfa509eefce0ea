package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/cartomix/havana/internal/ingest"
	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/track"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "analyse tracks and report tempo, key, and loudness",
		ArgsUsage: "<paths...>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return &usageError{msg: "analyze: at least one path required"}
			}
			eng, _, logger, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sources, err := ingest.Collect(ctx, logger, paths)
			if err != nil {
				return err
			}
			arena, _, err := eng.AnalyzeAll(ctx, sources)
			if err != nil {
				return err
			}

			for _, t := range arena.All() {
				a := t.Analysis
				timeline := "heuristic"
				if _, ok := t.Semantic.Timeline(); ok {
					timeline = "semantic"
				}
				fmt.Printf("%-40s %6.1f BPM  %-3s  %d/%d  %6.1f LUFS  %+5.1f dB  %4d beats  %s\n",
					t.Name, a.BPM, a.Key.Camelot(),
					a.Meter.Numerator, a.Meter.Denominator,
					a.IntegratedLUFS, a.ReplayGainDB, len(a.Beats), timeline)
			}
			return nil
		},
	}
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "plan a mix route over the given tracks",
		ArgsUsage: "<paths...>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "seed", Usage: "index of the track the mix starts from"},
			&cli.IntFlag{Name: "transitions", Usage: "override the number of transitions to plan"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return &usageError{msg: "plan: at least one path required"}
			}
			eng, cfg, logger, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sources, err := ingest.Collect(ctx, logger, paths)
			if err != nil {
				return err
			}
			arena, _, err := eng.AnalyzeAll(ctx, sources)
			if err != nil {
				return err
			}

			seed := int(cmd.Int("seed"))
			if seed < 0 || seed >= arena.Len() {
				return &usageError{msg: fmt.Sprintf("plan: seed %d out of range (have %d tracks)", seed, arena.Len())}
			}

			route, err := eng.PlanRoute(ctx, arena, track.ID(seed), int(cmd.Int("transitions")))
			if err != nil {
				return err
			}

			fmt.Println(planner.Describe(route, arena))
			for _, id := range route.Dropped {
				fmt.Printf("dropped: %s\n", arena.Get(id).Name)
			}
			return savePlan(cfg.DataDir, seed, route)
		},
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "plan and render the mix to a WAV file",
		ArgsUsage: "<paths...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Required: true, Usage: "output WAV path"},
			&cli.IntFlag{Name: "seed", Usage: "index of the track the mix starts from"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runMix(ctx, cmd, cmd.String("out"), int(cmd.Int("seed")))
		},
	}
}

func mixCommand() *cli.Command {
	return &cli.Command{
		Name:      "mix",
		Usage:     "analyse, plan, and render in one step",
		ArgsUsage: "<paths...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Required: true, Usage: "output WAV path"},
			&cli.IntFlag{Name: "seed", Usage: "index of the track the mix starts from"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runMix(ctx, cmd, cmd.String("out"), int(cmd.Int("seed")))
		},
	}
}

func runMix(ctx context.Context, cmd *cli.Command, out string, seed int) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return &usageError{msg: "at least one path required"}
	}
	if out == "" {
		return &usageError{msg: "--out is required"}
	}
	eng, _, logger, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	sources, err := ingest.Collect(ctx, logger, paths)
	if err != nil {
		return err
	}
	arena, _, err := eng.AnalyzeAll(ctx, sources)
	if err != nil {
		return err
	}
	if seed < 0 || seed >= arena.Len() {
		return &usageError{msg: fmt.Sprintf("seed %d out of range (have %d tracks)", seed, arena.Len())}
	}

	route, err := eng.PlanRoute(ctx, arena, track.ID(seed), 0)
	if err != nil {
		return err
	}

	artifacts, err := eng.RenderMix(ctx, arena, route, out)
	if err != nil {
		return err
	}
	fmt.Printf("mix written: %s\ncues: %s\nroute: %s\n",
		artifacts.WAVPath, artifacts.CuesCSVPath, artifacts.RouteJSONPath)
	return nil
}

// savePlan records the seed and route shape as plan.json in the data
// directory. The render and mix commands do not read it; they analyse
// and plan again from their own arguments.
func savePlan(dataDir string, seed int, route *planner.Route) error {
	type plannedEdge struct {
		FromTrack int     `json:"from_track"`
		ToTrack   int     `json:"to_track"`
		Score     float64 `json:"score"`
	}
	doc := struct {
		Seed  int           `json:"seed"`
		Total float64       `json:"total"`
		Edges []plannedEdge `json:"edges"`
	}{Seed: seed, Total: route.Total}
	for _, c := range route.Candidates {
		doc.Edges = append(doc.Edges, plannedEdge{
			FromTrack: int(c.From.Track),
			ToTrack:   int(c.To.Track),
			Score:     c.Total,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, "plan.json"), data, 0o644)
}
