package opt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"drtdispatch/internal/metrics"
	"drtdispatch/internal/problem"
)

// Progress is one point of the best-cost history.
type Progress struct {
	Iteration  int
	BestCost   float64
	Unassigned int
	Elapsed    time.Duration
}

// UnassignedJob explains a job missing from the best solution.
type UnassignedJob struct {
	Job    int
	JobID  string
	Reason string
}

// Stats are summed over all workers.
type Stats struct {
	Iterations    int
	Improvements  int
	AcceptedWorse int
	RuinSelects   [3]int
	Rejections    map[string]int
}

// Result is the outcome of Solve.
type Result struct {
	Best    *Solution
	Initial *Solution
	// History has one entry per new best solution, the initial one first.
	History []Progress
	// BestCosts is the best cost after every completed iteration.
	BestCosts  []float64
	Unassigned []UnassignedJob
	Stop       StopReason
	Stats      Stats
	Duration   time.Duration
}

// Solve builds an initial solution with the configured construction and
// improves it with ruin-and-recreate on cfg.Workers goroutines until a
// termination criterion is met or ctx is done. Cancellation is not an
// error: the best solution found so far is returned.
func Solve(ctx context.Context, p *problem.Problem, cfg Config) (*Result, error) {
	if p == nil {
		return nil, errors.New("opt: nil problem")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	cm := NewConstraintManager(p, cfg.StretchFactor, cfg.FixedSlack)
	base := rand.New(rand.NewSource(cfg.Seed))

	all := make([]int, len(p.Jobs))
	for j := range all {
		all[j] = j
	}
	builder := newRecreator(p, cm, &cfg, deriveRNG(base, 0))
	initial := newSolution(p, cfg.UnassignedPenalty)
	builder.recreate(initial, insertable(p, all))
	cfg.logf("opt: initial construction=%s cost=%.2f routes=%d unassigned=%d took=%s",
		cfg.Construction, initial.Cost, len(initial.Routes), len(initial.Unassigned), time.Since(start))

	slot := newBestSlot(initial, &cfg, start)
	if len(customerJobs(initial)) == 0 {
		slot.halt(StopNoJobs)
	}

	workers := make([]*worker, cfg.Workers)
	for i := range workers {
		rng := deriveRNG(base, i+1)
		workers[i] = &worker{
			p:    p,
			slot: slot,
			rng:  rng,
			rc:   newRecreator(p, cm, &cfg, rng),
			ru:   &ruiner{p: p, cm: cm, cfg: &cfg, rng: rng},
			acc:  newAcceptor(&cfg, initial.RouteCost()),
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.run(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("opt: search: %w", err)
	}

	res := slot.result()
	res.Initial = initial
	res.Stats.Rejections = map[string]int{}
	names := cm.Names()
	for i, n := range names {
		res.Stats.Rejections[n] += builder.rejections[i]
	}
	for _, w := range workers {
		res.Stats.Iterations += w.stats.Iterations
		res.Stats.Improvements += w.stats.Improvements
		res.Stats.AcceptedWorse += w.stats.AcceptedWorse
		for s, c := range w.stats.RuinSelects {
			res.Stats.RuinSelects[s] += c
			metrics.RuinSelections.WithLabelValues(RuinStrategy(s).String()).Add(float64(c))
		}
		for i, n := range names {
			res.Stats.Rejections[n] += w.rc.rejections[i]
		}
	}
	for n, c := range res.Stats.Rejections {
		metrics.ConstraintRejections.WithLabelValues(n).Add(float64(c))
	}
	for _, j := range res.Best.Unassigned {
		res.Unassigned = append(res.Unassigned, UnassignedJob{Job: j, JobID: p.Jobs[j].ID, Reason: unassignedReason(p, j)})
	}
	res.Duration = time.Since(start)
	metrics.OptimizerRuns.WithLabelValues(string(res.Stop)).Inc()
	metrics.OptimizerDuration.Observe(res.Duration.Seconds())
	cfg.logf("opt: done stop=%s iterations=%d best=%.2f unassigned=%d took=%s",
		res.Stop, res.Stats.Iterations, res.Best.Cost, len(res.Best.Unassigned), res.Duration)
	return res, nil
}

func unassignedReason(p *problem.Problem, j int) string {
	if reason, bad := p.IsUnsolvable(j); bad {
		return reason
	}
	if p.Jobs[j].Kind == problem.Break {
		return "break does not fit the route schedule"
	}
	return "no feasible insertion"
}

type worker struct {
	p     *problem.Problem
	slot  *bestSlot
	rng   *rand.Rand
	rc    *recreator
	ru    *ruiner
	acc   *acceptor
	stats Stats
}

// run iterates ruin, recreate and acceptance on a private current solution.
// When another worker publishes a new best, the current solution is reset
// to it before the next iteration.
func (w *worker) run(ctx context.Context) error {
	current, seen := w.slot.snapshot()
	for {
		if ctx.Err() != nil {
			w.slot.halt(StopCancelled)
			return nil
		}
		iter, ok := w.slot.claim()
		if !ok {
			return nil
		}
		if w.slot.version() != seen {
			current, seen = w.slot.snapshot()
		}

		cand := current.Clone()
		s := w.ru.pick()
		w.stats.RuinSelects[s]++
		removed := w.ru.ruin(cand, s)
		w.rc.recreate(cand, insertable(w.p, append(removed, cand.Unassigned...)))

		if w.acc.accept(cand.Cost, current.Cost, iter, w.rng) {
			if cand.Cost > current.Cost {
				w.stats.AcceptedWorse++
			}
			current = cand
		}
		w.acc.step()
		if w.slot.complete(cand) {
			w.stats.Improvements++
		}
		w.stats.Iterations++
	}
}

// bestSlot is the state shared by the workers: the best solution, the
// iteration counters and the termination verdict. Only strictly better
// solutions are published.
type bestSlot struct {
	mu        sync.Mutex
	best      *Solution
	ver       int
	started   int
	completed int
	since     int
	costs     []float64
	history   []Progress
	stopped   bool
	reason    StopReason
	start     time.Time
	cfg       *Config
}

func newBestSlot(initial *Solution, cfg *Config, start time.Time) *bestSlot {
	b := &bestSlot{best: initial.Clone(), start: start, cfg: cfg}
	b.record(0)
	return b
}

// record appends a history point; callers hold mu.
func (b *bestSlot) record(iter int) {
	pr := Progress{Iteration: iter, BestCost: b.best.Cost, Unassigned: len(b.best.Unassigned), Elapsed: time.Since(b.start)}
	b.history = append(b.history, pr)
	if b.cfg.OnProgress != nil {
		b.cfg.OnProgress(pr)
	}
}

func (b *bestSlot) snapshot() (*Solution, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.best.Clone(), b.ver
}

func (b *bestSlot) version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ver
}

// claim reserves the next iteration number, or reports that the run is over.
func (b *bestSlot) claim() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0, false
	}
	if reason, done := b.cfg.Termination.exhausted(b.started, time.Since(b.start)); done {
		b.stopped, b.reason = true, reason
		return 0, false
	}
	b.started++
	return b.started, true
}

// complete records a finished iteration, publishes cand if it beats the
// best and evaluates the termination criteria. It reports whether cand was
// published.
func (b *bestSlot) complete(cand *Solution) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	metrics.OptimizerIterations.Inc()
	improved := better(cand, b.best)
	if improved {
		b.best = cand.Clone()
		b.ver++
		b.since = 0
		b.record(b.completed)
		metrics.OptimizerImprovements.Inc()
	} else {
		b.since++
	}
	b.costs = append(b.costs, b.best.Cost)
	if n := b.cfg.LogEvery; n > 0 && b.completed%n == 0 {
		b.cfg.logf("opt: iter=%d best=%.2f unassigned=%d routes=%d", b.completed, b.best.Cost, len(b.best.Unassigned), len(b.best.Routes))
	}
	if !b.stopped {
		pr := progress{completed: b.completed, sinceImprovement: b.since, bestCosts: b.costs, elapsed: time.Since(b.start)}
		if reason, done := b.cfg.Termination.met(pr); done {
			b.stopped, b.reason = true, reason
		}
	}
	return improved
}

func (b *bestSlot) halt(reason StopReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped, b.reason = true, reason
	}
}

func (b *bestSlot) result() *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Result{
		Best:      b.best,
		History:   append([]Progress(nil), b.history...),
		BestCosts: append([]float64(nil), b.costs...),
		Stop:      b.reason,
	}
}
