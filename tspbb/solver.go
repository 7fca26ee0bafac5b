// Package tspbb implements the parallel branch-and-bound search engine:
// the worker loop, the spill policy that keeps the shared queue fed, and
// the global-best-cost protocol that every worker prunes against.
package tspbb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopherbb/tspbb/graph"
	"github.com/gopherbb/tspbb/path"
	"github.com/gopherbb/tspbb/queue"
	"github.com/gopherbb/tspbb/tourfile"
)

// DefaultSpillThreshold is the reference depth at which a worker stops
// spilling newly-opened subtrees to the shared queue and switches to
// local depth-first recursion instead.
const DefaultSpillThreshold = 8

// terminationPollInterval is the short sleep a worker takes between
// failed termination checks, to avoid busy-waiting on the queue and the
// active counter.
const terminationPollInterval = 50 * time.Microsecond

// Verbosity is a bit mask selecting which traces Solve emits.
type Verbosity int

const (
	VerboseGraph    Verbosity = 1 << 0
	VerboseShorter  Verbosity = 1 << 1
	VerboseBound    Verbosity = 1 << 2
	VerboseAnalyse  Verbosity = 1 << 3
	VerboseCounters Verbosity = 1 << 4
)

// ErrInvalidThreadCount is returned by Solve when NumWorkers is not
// positive.
var ErrInvalidThreadCount = errors.New("tspbb: thread count must be positive")

// Options configures one Solve call.
type Options struct {
	NumWorkers     int
	SpillThreshold int
	Verbosity      Verbosity
	// Trace, if non-nil, receives every verbose-gated trace line instead
	// of os.Stdout. Used by tests, and by the CLI only when -color is set.
	Trace func(string)
}

// DefaultOptions returns an Options with NumWorkers set to the host's
// CPU count and the reference spill threshold.
func DefaultOptions() Options {
	return Options{
		NumWorkers:     runtime.NumCPU(),
		SpillThreshold: DefaultSpillThreshold,
	}
}

// Counters holds optional search instrumentation. They never affect the
// result and are safe to read only after Solve returns, or to sample
// (racily) while it is running.
type Counters struct {
	Verified int64
	Found    int64
	Bound    []int64 // indexed by path length at the pruning point
}

// Result is the outcome of one Solve call.
type Result struct {
	Tour     []int
	Distance int64
	Counters Counters
}

// sharedState is the state every worker goroutine reads and CASes
// against: the monotonically non-increasing best-cost cell, the
// active-worker counter driving termination, and the optional counters.
type sharedState struct {
	graph *graph.Graph
	q     *queue.Queue
	arena *queue.Arena

	bestCost int64 // atomic; monotonically non-increasing
	active   int64 // atomic; workers currently holding or expanding a task

	verbosity Verbosity
	trace     func(string)

	countersEnabled bool
	verified        int64
	found           int64
	bound           []int64 // one counter per path length 0..N, atomic
}

func (s *sharedState) tracef(mask Verbosity, format string, args ...any) {
	if s.verbosity&mask == 0 {
		return
	}
	line := fmt.Sprintf(format, args...)
	if s.trace != nil {
		s.trace(line)
	} else {
		fmt.Println(line)
	}
}

// tightenBestCost attempts to lower best_cost to c: reload and retry
// until either the CAS succeeds or best_cost is no longer greater
// than c. Returns whether this call is the one that performed the
// tightening.
func (s *sharedState) tightenBestCost(c int64) bool {
	for {
		b := atomic.LoadInt64(&s.bestCost)
		if b <= c {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.bestCost, b, c) {
			return true
		}
	}
}

// loadBestCost reads the current best_cost. Callers may observe a stale
// value between reads; since best_cost only ever decreases, a stale read
// can only weaken pruning, never admit an incorrect result.
func (s *sharedState) loadBestCost() int64 {
	return atomic.LoadInt64(&s.bestCost)
}

func (s *sharedState) bumpBound(depth int) {
	if !s.countersEnabled {
		return
	}
	if depth < 0 || depth >= len(s.bound) {
		return
	}
	atomic.AddInt64(&s.bound[depth], 1)
}

// worker owns one goroutine's scratch state: a reusable current Path it
// extends and retracts in place while recursing, and the best leaf it
// has personally witnessed.
type worker struct {
	id        int
	shared    *sharedState
	current   *path.Path
	localBest *path.Path
	spill     int
}

// run drives one worker's main loop: dequeue a task, expand it to
// completion (spilling per the policy below), and repeat until the
// termination protocol below is satisfied.
func (w *worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		// active must be raised before attempting the dequeue, not after
		// it succeeds: a sibling's terminate() reads queue emptiness and
		// active in the other order, so bumping active only once a task
		// is already in hand leaves a window where the queue correctly
		// reports empty and active still reads 0 even though this worker
		// is about to expand — and possibly spill — more work.
		atomic.AddInt64(&w.shared.active, 1)
		task, ok := w.shared.q.TryDequeue()
		if !ok {
			atomic.AddInt64(&w.shared.active, -1)
			if w.terminate() {
				return
			}
			time.Sleep(terminationPollInterval)
			continue
		}
		w.current.Reset()
		_ = w.current.CopyFrom(task)
		w.expand()
		atomic.AddInt64(&w.shared.active, -1)
	}
}

// terminate reports whether this worker may exit: the queue must be
// empty AND no worker anywhere may currently be active. Checking queue
// emptiness alone is not enough — a worker that is mid-spill has
// already observed the queue empty and is about to publish more of it,
// so a sibling that only checks emptiness could exit right before that
// work appears. The active counter closes that window: a spilling
// worker is itself counted active for the entire span of its own expand
// call, including every Enqueue it performs, so active==0 can only hold
// once no worker can possibly still publish more work.
func (w *worker) terminate() bool {
	return w.shared.q.Empty() && atomic.LoadInt64(&w.shared.active) == 0
}

// expand implements the recursive search step: leaf rule, bound rule,
// then recurse over every unvisited city in ascending index order.
func (w *worker) expand() {
	n := w.current.Max()

	// Leaf rule: a full permutation closes back to city 0 and is
	// compared against best_cost.
	if w.current.Len() == n {
		closing := w.current.Clone()
		_ = closing.Add(0)
		cost := closing.IntDistance()
		if w.shared.countersEnabled {
			atomic.AddInt64(&w.shared.verified, 1)
		}
		// Gated on this worker's own local best, per the leaf rule: the
		// copy/trace/found bookkeeping below must happen whenever this
		// leaf beats localBest, independent of whether this call's own
		// attempt to tighten the global best_cost actually won the CAS.
		if cost < w.localBest.IntDistance() {
			w.shared.tightenBestCost(cost)
			_ = w.localBest.CopyFrom(closing)
			w.shared.tracef(VerboseShorter, "shorter: %s (%d)", closing.String(), cost)
			if w.shared.countersEnabled {
				atomic.AddInt64(&w.shared.found, 1)
			}
		}
		return
	}

	// Bound rule: a partial tour whose distance-so-far already meets or
	// exceeds best_cost can never be extended into a shorter tour, since
	// every remaining edge weight is non-negative.
	if w.current.Len() >= 2 {
		if w.current.IntDistance() >= w.shared.loadBestCost() {
			w.shared.bumpBound(w.current.Len())
			w.shared.tracef(VerboseBound, "bound %s", w.current.String())
			return
		}
	}

	w.shared.tracef(VerboseAnalyse, "analysing %s", w.current.String())

	depthRemaining := n - w.current.Len()
	spilling := depthRemaining > w.spill

	for city := 0; city < n; city++ {
		if w.current.Contains(city) {
			continue
		}
		if spilling {
			child := w.current.Clone()
			_ = child.Add(city)
			w.shared.q.Enqueue(child)
			continue
		}
		if err := w.current.Add(city); err != nil {
			continue
		}
		w.expand()
		_, _ = w.current.Pop()
	}
}

// Solve runs the parallel branch-and-bound search over g and returns
// the minimum-weight Hamiltonian cycle starting and ending at city 0.
func Solve(ctx context.Context, g *graph.Graph, opts Options) (Result, error) {
	if opts.NumWorkers <= 0 {
		return Result{}, ErrInvalidThreadCount
	}
	spillThreshold := opts.SpillThreshold
	if spillThreshold <= 0 {
		spillThreshold = DefaultSpillThreshold
	}

	if opts.Verbosity&VerboseGraph != 0 {
		line := g.String()
		if opts.Trace != nil {
			opts.Trace(line)
		} else {
			fmt.Print(line)
		}
	}

	arena := queue.NewArena()
	q := queue.New(arena)

	n := g.Size()
	shared := &sharedState{
		graph:           g,
		q:               q,
		arena:           arena,
		verbosity:       opts.Verbosity,
		trace:           opts.Trace,
		countersEnabled: opts.Verbosity&VerboseCounters != 0,
		bound:           make([]int64, n+1),
	}

	// Seed best_cost from the identity tour. Correctness does not require
	// this particular seed; it merely starts pruning sooner than
	// best_cost = +∞ would.
	identity := tourfile.IdentityTour(g)
	atomic.StoreInt64(&shared.bestCost, identity.IntDistance())

	// Seed the queue with the N-1 length-2 prefixes [0, i], i = 1..N-1.
	for i := 1; i < n; i++ {
		seed := path.New(g)
		if err := seed.Add(0); err != nil {
			return Result{}, err
		}
		if err := seed.Add(i); err != nil {
			return Result{}, err
		}
		q.Enqueue(seed)
	}

	workers := make([]*worker, opts.NumWorkers)
	var wg sync.WaitGroup
	for i := range workers {
		w := &worker{
			id:        i,
			shared:    shared,
			current:   path.New(g),
			localBest: identity.Clone(),
			spill:     spillThreshold,
		}
		workers[i] = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	return reduce(workers, shared)
}

// reduce selects any worker whose local best matches the final
// best_cost and copies its tour into the result. At least one such
// worker exists by construction — the thread that
// performed the last successful tightenBestCost CAS also copied
// current into its local best in the same leaf-rule step — unless no
// worker ever improved on the seeded identity tour, in which case every
// worker's localBest still equals that identity tour and any of them
// qualifies. Finding none is an internal invariant violation, not a
// reportable error: it means some worker's localBest/bestCost bookkeeping
// diverged, which the design never permits.
func reduce(workers []*worker, shared *sharedState) (Result, error) {
	best := atomic.LoadInt64(&shared.bestCost)
	for _, w := range workers {
		if w.localBest.IntDistance() == best {
			shared.tracef(VerboseShorter, "Shortest path found by thread %d", w.id)
			result := Result{
				Tour:     append([]int(nil), w.localBest.Cities()...),
				Distance: best,
			}
			if shared.countersEnabled {
				result.Counters = Counters{
					Verified: atomic.LoadInt64(&shared.verified),
					Found:    atomic.LoadInt64(&shared.found),
					Bound:    append([]int64(nil), shared.bound...),
				}
			}
			return result, nil
		}
	}
	panic(fmt.Sprintf("tspbb: no worker holds a tour matching best_cost %d", best))
}
