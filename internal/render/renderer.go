package render

import (
	"context"
	"log/slog"
	"math"
	"os"

	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/track"
)

// Renderer turns planned routes into PCM.
type Renderer struct {
	weights config.Weights
	logger  *slog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(weights config.Weights, logger *slog.Logger) *Renderer {
	return &Renderer{weights: weights, logger: logger}
}

// RenderMix renders the whole route into a single buffer.
func (r *Renderer) RenderMix(ctx context.Context, route *planner.Route, arena *track.Arena) (*audio.Buffer, *TimeMap, error) {
	tm, err := BuildTimeMap(route, arena, r.weights)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	graph, err := BuildGraph(tm, arena, r.weights)
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("rendering mix",
		"sources", len(tm.Plays),
		"beats", len(tm.Rows),
		"duration_sec", graph.Duration(),
	)

	buf, err := graph.Render()
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return buf, tm, nil
}

// Stream renders the route as 5-minute blocks with a sliding window:
// each block is rendered synchronously when Block or Next asks for it,
// and cached blocks are evicted once they fall outside ±1 block of the
// playhead. No block is rendered ahead of the one requested. The
// concatenated blocks are identical to the whole-mix render.
type Stream struct {
	graph       *Graph
	blockFrames int
	numBlocks   int

	cursor int
	served int
	cache  map[int]*audio.Buffer
	logger *slog.Logger
}

// Stream prepares block-wise rendering of the route.
func (r *Renderer) Stream(route *planner.Route, arena *track.Arena) (*Stream, error) {
	tm, err := BuildTimeMap(route, arena, r.weights)
	if err != nil {
		return nil, err
	}
	graph, err := BuildGraph(tm, arena, r.weights)
	if err != nil {
		return nil, err
	}

	blockFrames := int(r.weights.BlockSeconds * audio.SampleRate)
	totalFrames := int(math.Ceil(graph.Duration() * audio.SampleRate))
	numBlocks := (totalFrames + blockFrames - 1) / blockFrames

	return &Stream{
		graph:       graph,
		blockFrames: blockFrames,
		numBlocks:   numBlocks,
		cache:       make(map[int]*audio.Buffer),
		logger:      r.logger,
	}, nil
}

// NumBlocks returns how many blocks the stream produces.
func (s *Stream) NumBlocks() int { return s.numBlocks }

// Block returns block i, rendering it on demand and sliding the
// eviction window around it.
func (s *Stream) Block(i int) (*audio.Buffer, error) {
	if i < 0 || i >= s.numBlocks {
		return nil, &Error{Reason: "block index out of range"}
	}
	s.cursor = i

	if buf, ok := s.cache[i]; ok {
		return buf, nil
	}

	start := i * s.blockFrames
	frames := s.blockFrames
	total := int(math.Ceil(s.graph.Duration() * audio.SampleRate))
	if start+frames > total {
		frames = total - start
	}
	buf := s.graph.RenderRange(start, frames)
	s.cache[i] = buf
	s.evict()
	s.logger.Debug("block rendered", "block", i, "frames", frames)
	return buf, nil
}

// Next returns the following block in order, or nil once the stream is
// exhausted.
func (s *Stream) Next() (*audio.Buffer, error) {
	if s.served >= s.numBlocks {
		return nil, nil
	}
	buf, err := s.Block(s.served)
	if err != nil {
		return nil, err
	}
	s.served++
	return buf, nil
}

// evict drops blocks outside the ±1 block window (5 minutes behind and
// ahead).
func (s *Stream) evict() {
	for k := range s.cache {
		if k < s.cursor-1 || k > s.cursor+1 {
			delete(s.cache, k)
		}
	}
}

// WriteWAV writes the rendered buffer to disk as PCM16 RIFF.
func WriteWAV(path string, buf *audio.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := audio.EncodeWAV(f, buf); err != nil {
		return err
	}
	return f.Sync()
}
