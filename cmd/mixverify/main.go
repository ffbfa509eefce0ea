// Command mixverify re-decodes a rendered WAV mix and checks the
// round-trip invariants: canonical format, a non-empty data chunk, and
// finite samples within full scale. The duration is printed, not
// checked.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/cartomix/havana/internal/audio"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mixverify <mix.wav>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	buf, err := audio.DecodeWAV(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		os.Exit(1)
	}

	failures := 0
	check := func(ok bool, format string, args ...any) {
		status := "ok  "
		if !ok {
			status = "FAIL"
			failures++
		}
		fmt.Printf("%s %s\n", status, fmt.Sprintf(format, args...))
	}

	check(buf.Rate == audio.SampleRate, "sample rate %d", buf.Rate)
	check(buf.Channels == audio.Channels, "channels %d", buf.Channels)
	check(buf.Frames() > 0, "frames %d", buf.Frames())

	peak := float32(0)
	finite := true
	for _, s := range buf.Data {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			finite = false
			break
		}
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	check(finite, "all samples finite")
	check(peak <= 1.0, "peak %.4f within full scale", peak)
	fmt.Printf("     duration %.3fs\n", buf.Duration())

	if failures > 0 {
		os.Exit(1)
	}
}
