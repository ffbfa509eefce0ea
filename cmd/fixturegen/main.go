// Command fixturegen writes synthesized WAV fixtures for tests and
// local experimentation.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cartomix/havana/internal/fixtures"
)

func main() {
	outputDir := flag.String("out", "./testdata/audio", "output directory")
	seed := flag.Int64("seed", 42, "deterministic seed recorded in the manifest")
	flag.Parse()

	manifest, err := fixtures.Generate(fixtures.Config{
		OutputDir:          *outputDir,
		Seed:               *seed,
		BPMLadder:          []float64{100, 120, 128, 140},
		IncludePhrase:      true,
		PhraseBPM:          128,
		IncludeHarmonicSet: true,
		IncludeSilence:     true,
	})
	if err != nil {
		slog.Error("fixture generation failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d fixtures to %s\n", len(manifest.Fixtures), *outputDir)
}
