// Package planner orders tracks into a mix route with a beam-pruned
// best-first search over (track, point) states. The heuristic biases
// the beam rather than guaranteeing optimality; the search keeps going
// past the first complete route until it has a few distinct ones to
// choose from.
package planner

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/points"
	"github.com/cartomix/havana/internal/score"
	"github.com/cartomix/havana/internal/track"
)

// Error reports that no feasible route exists.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "plan: " + e.Reason }

// Kind returns the stable error tag.
func (e *Error) Kind() string { return "plan" }

// Options selects the seed and the route length.
type Options struct {
	Seed track.ID
	// TargetTransitions overrides the number of edges to plan; zero
	// plans across every track once (len(tracks) - 1 edges).
	TargetTransitions int
}

// Route is an ordered list of scored transitions.
type Route struct {
	Candidates []score.Candidate
	Total      float64
	// Dropped lists tracks a partial route could not reach.
	Dropped []track.ID
}

// Tracks returns every track the route touches, in play order.
func (r *Route) Tracks() []track.ID {
	if len(r.Candidates) == 0 {
		return nil
	}
	out := []track.ID{r.Candidates[0].From.Track}
	for _, c := range r.Candidates {
		out = append(out, c.To.Track)
	}
	return out
}

// Planner owns the search plus the used-segment bookkeeping and the
// structural history ring. Search never mutates the bookkeeping; only
// finalisation does.
type Planner struct {
	arena   *track.Arena
	weights config.Weights
	scorer  *score.Scorer
	points  map[track.ID][]points.Point
	logger  *slog.Logger

	used    *points.UsedSegments
	history [][2]track.SectionType
}

// New creates a planner over pre-computed transition points.
func New(arena *track.Arena, weights config.Weights, scorer *score.Scorer, pts map[track.ID][]points.Point, logger *slog.Logger) *Planner {
	return &Planner{
		arena:   arena,
		weights: weights,
		scorer:  scorer,
		points:  pts,
		logger:  logger,
		used:    points.NewUsedSegments(),
	}
}

// UsedSegments exposes the bookkeeping for the point finder.
func (p *Planner) UsedSegments() *points.UsedSegments {
	return p.used
}

type node struct {
	tid      track.ID
	pointIdx int
	visited  []uint64
	depth    int // edges taken so far
	g        float64
	f        float64
	parent   *node
	edge     *score.Candidate
}

func visitedWith(v []uint64, id track.ID) []uint64 {
	out := append([]uint64(nil), v...)
	out[int(id)/64] |= 1 << (uint(id) % 64)
	return out
}

func isVisited(v []uint64, id track.ID) bool {
	return v[int(id)/64]&(1<<(uint(id)%64)) != 0
}

// frontier is a max-heap on f.
type frontier []*node

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].f > f[j].f }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)         { *f = append(*f, x.(*node)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// Plan searches for the best route from the seed. When no complete
// route exists the best partial route is returned with the unreached
// tracks listed in Dropped; only a totally empty search fails.
func (p *Planner) Plan(opts Options) (*Route, error) {
	w := p.weights
	n := p.arena.Len()
	if n == 0 {
		return nil, &Error{Reason: "no tracks"}
	}
	targetEdges := n - 1
	if opts.TargetTransitions > 0 {
		targetEdges = opts.TargetTransitions
	}
	if targetEdges == 0 {
		return nil, &Error{Reason: "nothing to plan with a single track"}
	}

	seedPoints := p.points[opts.Seed]
	if len(seedPoints) == 0 {
		return nil, &Error{Reason: "seed track has no transition points"}
	}

	words := (n + 63) / 64
	var fr frontier
	for i := range seedPoints {
		v := make([]uint64, words)
		st := &node{tid: opts.Seed, pointIdx: i, visited: visitedWith(v, opts.Seed)}
		st.f = st.g + p.heuristic(st.visited, targetEdges-st.depth)
		fr = append(fr, st)
	}
	heap.Init(&fr)

	var (
		bestGoal      *node
		signatures    = mapset.NewSet[string]()
		bestPartial   *node
		iterations    int
		postGoalIters int
	)

	for fr.Len() > 0 {
		iterations++
		if iterations > w.MaxIterations {
			break
		}
		if bestGoal != nil {
			postGoalIters++
			if postGoalIters > w.GoalIterations || signatures.Cardinality() >= w.DistinctRoutes {
				break
			}
		}

		cur := heap.Pop(&fr).(*node)

		if bestPartial == nil || cur.depth > bestPartial.depth ||
			(cur.depth == bestPartial.depth && cur.g > bestPartial.g) {
			bestPartial = cur
		}

		if cur.depth == targetEdges {
			if signatures.Add(signature(cur)) {
				if bestGoal == nil || cur.g > bestGoal.g {
					bestGoal = cur
				}
			}
			continue
		}

		p.expand(cur, &fr, targetEdges, bestGoal)

		// Absolute frontier cap, then the depth-decayed beam.
		if fr.Len() > w.MaxMemoryNodes {
			truncate(&fr, fr.Len()*8/10)
		}
		if beam := p.beamWidth(cur.depth); fr.Len() > beam*2 {
			truncate(&fr, beam)
		}
	}

	winner := bestGoal
	if winner == nil {
		if bestPartial == nil || bestPartial.depth == 0 {
			return nil, &Error{Reason: "no feasible route"}
		}
		winner = bestPartial
	}

	route := p.finalize(winner)
	if winner != bestGoal {
		for _, t := range p.arena.All() {
			if !isVisited(winner.visited, t.ID) {
				route.Dropped = append(route.Dropped, t.ID)
			}
		}
		p.logger.Warn("returning partial route",
			"edges", len(route.Candidates), "dropped", len(route.Dropped))
	}
	p.logger.Info("route planned",
		"edges", len(route.Candidates),
		"score", route.Total,
		"iterations", iterations,
		"distinct_routes", signatures.Cardinality(),
	)
	return route, nil
}

// expand pushes the scored successors of a state. Pair scores are
// recomputed on demand; memoising them would narrow exploration once
// the beam starts cutting.
func (p *Planner) expand(cur *node, fr *frontier, targetEdges int, bestGoal *node) {
	w := p.weights
	fromPoint := p.points[cur.tid][cur.pointIdx]

	// Prefer unvisited tracks; once every track is visited but edges
	// remain, any other track may repeat.
	candidates := p.successorTracks(cur)
	state := p.routeState(cur)

	for _, nt := range candidates {
		pts := p.points[nt.ID]
		limit := w.NeighborsPerSong
		if limit > len(pts) {
			limit = len(pts)
		}
		for i := 0; i < limit; i++ {
			cand := p.scorer.Score(fromPoint, pts[i], state)
			child := &node{
				tid:      nt.ID,
				pointIdx: i,
				visited:  visitedWith(cur.visited, nt.ID),
				depth:    cur.depth + 1,
				g:        cur.g + cand.Total,
				parent:   cur,
				edge:     &cand,
			}
			child.f = child.g + p.heuristic(child.visited, targetEdges-child.depth)

			if bestGoal != nil && child.f < w.PruneRatio*bestGoal.g {
				continue
			}
			heap.Push(fr, child)
		}
	}
}

func (p *Planner) successorTracks(cur *node) []*track.Track {
	var unvisited []*track.Track
	for _, t := range p.arena.All() {
		if !isVisited(cur.visited, t.ID) {
			unvisited = append(unvisited, t)
		}
	}
	if len(unvisited) > 0 {
		return unvisited
	}
	// Revisit mode: every other track is fair game, at a variety cost.
	var others []*track.Track
	for _, t := range p.arena.All() {
		if t.ID != cur.tid {
			others = append(others, t)
		}
	}
	return others
}

// routeState snapshots destination use counts along the path. The
// structural-history penalty stays disabled during expansion so scores
// do not depend on path order; it only bites at finalisation time.
func (p *Planner) routeState(cur *node) *score.RouteState {
	counts := make(map[track.ID]int)
	for n := cur; n != nil; n = n.parent {
		counts[n.tid]++
	}
	// The current visit should not count against the next destination.
	return &score.RouteState{UseCount: counts}
}

// heuristic estimates the value of the remaining edges from the best
// retained point scores of unvisited tracks.
func (p *Planner) heuristic(visited []uint64, remaining int) float64 {
	if remaining <= 0 {
		return 0
	}
	w := p.weights
	var sum float64
	var count int
	for _, t := range p.arena.All() {
		if isVisited(visited, t.ID) {
			continue
		}
		if pts := p.points[t.ID]; len(pts) > 0 {
			sum += pts[0].Score
			count++
		}
	}
	avgBest := 0.0
	if count > 0 {
		avgBest = sum / float64(count)
	}
	return avgBest*w.HeuristicScoreScale*float64(remaining) + w.HeuristicPerTrack*float64(remaining)
}

// beamWidth decays past the reduction depth, never below the floor.
func (p *Planner) beamWidth(depth int) int {
	w := p.weights
	width := float64(w.BeamWidth)
	if depth > w.BeamReductionDepth {
		steps := (depth - w.BeamReductionDepth) / 5
		width *= math.Pow(w.BeamDecay, float64(steps+1))
	}
	if width < float64(w.BeamFloor) {
		width = float64(w.BeamFloor)
	}
	return int(width)
}

// truncate keeps the best n nodes of the frontier.
func truncate(fr *frontier, n int) {
	if fr.Len() <= n || n <= 0 {
		return
	}
	old := *fr
	kept := make(frontier, 0, n)
	// Drain in f order; cheaper than sorting twice for our sizes.
	for len(kept) < n && old.Len() > 0 {
		kept = append(kept, heap.Pop(&old).(*node))
	}
	*fr = kept
	heap.Init(fr)
}

// signature identifies a route by its point-index path.
func signature(goal *node) string {
	var parts []string
	for n := goal; n != nil; n = n.parent {
		parts = append(parts, strconv.Itoa(int(n.tid))+":"+strconv.Itoa(n.pointIdx))
	}
	// Reverse into path order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ">")
}

// finalize walks the winning path, builds the route, and applies the
// used-segment and history bookkeeping once per edge.
func (p *Planner) finalize(goal *node) *Route {
	var chain []*node
	for n := goal; n != nil; n = n.parent {
		chain = append(chain, n)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	route := &Route{}
	for _, n := range chain {
		if n.edge == nil {
			continue
		}
		route.Candidates = append(route.Candidates, *n.edge)
		route.Total += n.edge.Total
		p.applyTransition(*n.edge)
	}
	return route
}

// applyTransition marks a window around the destination beat as used
// and appends the structural pair to the bounded history ring.
func (p *Planner) applyTransition(c score.Candidate) {
	w := p.weights
	half := w.UsedWindowSeconds / 2
	p.used.Mark(c.To.Track, c.To.Time-half, c.To.Time+half)

	p.history = append(p.history, [2]track.SectionType{c.From.Section, c.To.Section})
	if len(p.history) > w.HistorySize {
		p.history = p.history[len(p.history)-w.HistorySize:]
	}
}

// History exposes the structural ring for inspection and tests.
func (p *Planner) History() [][2]track.SectionType {
	return p.history
}

// Describe renders a route for logs and the CLI.
func Describe(r *Route, arena *track.Arena) string {
	if len(r.Candidates) == 0 {
		return "(empty route)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s", arena.Get(r.Candidates[0].From.Track).Name)
	for _, c := range r.Candidates {
		fmt.Fprintf(&b, " -[%s %.0f]-> %s", c.From.Kind, c.Total, arena.Get(c.To.Track).Name)
	}
	return b.String()
}
