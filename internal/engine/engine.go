// Package engine wires the pipeline together: ingest, parallel
// per-track analysis, the optional semantic pass, transition points,
// route planning, and rendering. Per-track failures never abort a
// batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cartomix/havana/internal/analysis"
	"github.com/cartomix/havana/internal/audio"
	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/decode"
	"github.com/cartomix/havana/internal/ingest"
	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/render"
	"github.com/cartomix/havana/internal/score"
	"github.com/cartomix/havana/internal/semantic"
	"github.com/cartomix/havana/internal/storage"
	"github.com/cartomix/havana/internal/track"
)

// analysisBatchSize bounds how many tracks decode and analyse in
// parallel.
const analysisBatchSize = 5

// Engine runs the mixing pipeline.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	analyzer analysis.Analyzer
	semantic semantic.Provider // nil when the collaborator is disabled
	cache    *storage.DB       // nil when caching is disabled
}

// New assembles an engine. Cache and semantic provider are optional.
func New(cfg *config.Config, logger *slog.Logger, analyzer analysis.Analyzer, provider semantic.Provider, cache *storage.DB) *Engine {
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		analyzer: analyzer,
		semantic: provider,
		cache:    cache,
	}
}

// AnalyzeAll decodes and analyses every source in parallel batches,
// returning the populated arena. Tracks that fail to decode are
// excluded with a warning; the returned errors carry one entry per
// excluded track.
func (e *Engine) AnalyzeAll(ctx context.Context, sources []*ingest.Source) (*track.Arena, []error, error) {
	arena := &track.Arena{}
	var trackErrs []error

	type result struct {
		src *ingest.Source
		buf *audio.Buffer
		an  *track.Analysis
		tl  *track.Timeline // from cache, may be nil
		err error
	}

	results := make([]result, len(sources))
	sem := make(chan struct{}, analysisBatchSize)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(i int, src *ingest.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			buf, an, tl, err := e.analyzeOne(ctx, src)
			results[i] = result{src: src, buf: buf, an: an, tl: tl, err: err}
		}(i, src)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	type added struct {
		t   *track.Track
		src *ingest.Source
		tl  *track.Timeline
	}
	var kept []added
	for _, r := range results {
		if r.err != nil {
			e.logger.Warn("track excluded from planning", "track", r.src.Name, "error", r.err)
			trackErrs = append(trackErrs, fmt.Errorf("%s: %w", r.src.Name, r.err))
			continue
		}
		t := &track.Track{
			Name:     r.src.Name,
			Duration: r.buf.Duration(),
			PCM:      r.buf,
			Analysis: r.an,
		}
		arena.Add(t)
		kept = append(kept, added{t: t, src: r.src, tl: r.tl})
	}

	// Semantic requests go out together so the batcher can coalesce
	// them into shared outbound calls.
	var tlWg sync.WaitGroup
	for _, k := range kept {
		tlWg.Add(1)
		go func(k added) {
			defer tlWg.Done()
			e.attachTimeline(ctx, k.t, k.src, k.tl)
		}(k)
	}
	tlWg.Wait()

	for _, k := range kept {
		e.cachePut(k.t, k.src)
	}

	if arena.Len() == 0 {
		return nil, trackErrs, &decode.Error{Reason: "no tracks decoded"}
	}
	return arena, trackErrs, nil
}

// analyzeOne decodes one source and analyses it, consulting the cache
// first. Cache reads are best-effort.
func (e *Engine) analyzeOne(ctx context.Context, src *ingest.Source) (*audio.Buffer, *track.Analysis, *track.Timeline, error) {
	buf, err := decode.Decode(ctx, e.logger, src.Data, src.MIME, decode.Options{
		NormalizeLoudness: e.cfg.NormalizeLoudness,
		TargetLUFS:        e.cfg.TargetLUFS,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	if e.cache != nil {
		key := storage.CacheKey(src.Name, src.Size, buf.Duration())
		if rec, err := e.cache.GetAnalysis(key); err != nil {
			e.logger.Warn("analysis cache read failed", "track", src.Name, "error", err)
		} else if rec != nil {
			e.logger.Debug("analysis cache hit", "track", src.Name, "key", key)
			return buf, rec.Analysis, rec.Timeline, nil
		}
	}

	an, err := e.analyzer.AnalyzeTrack(ctx, buf, src.Name)
	if err != nil {
		return nil, nil, nil, err
	}
	return buf, an, nil, nil
}

// attachTimeline runs the semantic pass for one track, degrading to an
// absent timeline on any failure. The absence reason is logged once per
// track.
func (e *Engine) attachTimeline(ctx context.Context, t *track.Track, src *ingest.Source, cached *track.Timeline) {
	if cached != nil {
		t.Semantic = track.PresentTimeline(cached)
		return
	}
	if e.semantic == nil {
		t.Semantic = track.AbsentTimeline("collaborator disabled")
		return
	}

	doc, err := e.semantic.Describe(ctx, semantic.Request{
		Name:     src.Name,
		Data:     src.Data,
		MIME:     src.MIME,
		Duration: t.Duration,
	})
	if err != nil {
		var timeout *semantic.Timeout
		reason := "collaborator failed"
		if errors.As(err, &timeout) {
			reason = "collaborator timed out"
		}
		e.logger.Warn("semantic timeline unavailable, using heuristics",
			"track", t.Name, "reason", reason, "error", err)
		t.Semantic = track.AbsentTimeline(reason)
		return
	}

	t.Semantic = track.PresentTimeline(semantic.Postprocess(doc, t.Analysis))
}

// cachePut stores a completed analysis; failures only log.
func (e *Engine) cachePut(t *track.Track, src *ingest.Source) {
	if e.cache == nil {
		return
	}
	key := storage.CacheKey(src.Name, src.Size, t.Duration)
	rec := &storage.CachedAnalysis{Analysis: t.Analysis}
	if tl, ok := t.Semantic.Timeline(); ok {
		rec.Timeline = tl
	}
	if err := e.cache.PutAnalysis(key, src.Name, src.Size, rec); err != nil {
		e.logger.Warn("analysis cache write failed", "track", t.Name, "error", err)
	}
}

// PlanRoute finds transition points for every track and runs the
// planner from the seed.
func (e *Engine) PlanRoute(ctx context.Context, arena *track.Arena, seed track.ID, transitions int) (*planner.Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scorer := score.NewScorer(arena, e.cfg.Weights)
	finder := points.NewFinder(e.cfg.Weights)

	pts := make(map[track.ID][]points.Point, arena.Len())
	used := points.NewUsedSegments()
	for _, t := range arena.All() {
		found, err := finder.Find(t, used)
		if err != nil {
			return nil, &planner.Error{Reason: err.Error()}
		}
		pts[t.ID] = found
		e.logger.Debug("transition points found", "track", t.Name, "count", len(found))
	}

	pl := planner.New(arena, e.cfg.Weights, scorer, pts, e.logger)
	return pl.Plan(planner.Options{Seed: seed, TargetTransitions: transitions})
}

// RenderMix renders a planned route to a WAV file with its artifacts,
// releasing every track's PCM when done.
func (e *Engine) RenderMix(ctx context.Context, arena *track.Arena, route *planner.Route, outPath string) (*render.Artifacts, error) {
	jobID := uuid.New().String()
	e.logger.Info("render job starting", "job_id", jobID, "out", outPath)

	defer func() {
		for _, t := range arena.All() {
			t.ReleasePCM()
		}
	}()

	r := render.NewRenderer(e.cfg.Weights, e.logger)
	buf, tm, err := r.RenderMix(ctx, route, arena)
	if err != nil {
		return nil, err
	}

	if err := render.WriteWAV(outPath, buf); err != nil {
		return nil, &render.Error{Reason: fmt.Sprintf("write wav: %v", err)}
	}
	artifacts, err := render.WriteArtifacts(outPath, route, tm, arena)
	if err != nil {
		return nil, &render.Error{Reason: fmt.Sprintf("write artifacts: %v", err)}
	}

	e.logger.Info("render job finished",
		"job_id", jobID,
		"duration_sec", buf.Duration(),
		"wav", artifacts.WAVPath,
	)
	return artifacts, nil
}

// Mix is the convenience pipeline: collect, analyse, plan from the
// first track, and render.
func (e *Engine) Mix(ctx context.Context, paths []string, outPath string) (*render.Artifacts, error) {
	sources, err := ingest.Collect(ctx, e.logger, paths)
	if err != nil {
		return nil, err
	}
	arena, _, err := e.AnalyzeAll(ctx, sources)
	if err != nil {
		return nil, err
	}
	route, err := e.PlanRoute(ctx, arena, 0, 0)
	if err != nil {
		return nil, err
	}
	return e.RenderMix(ctx, arena, route, outPath)
}
