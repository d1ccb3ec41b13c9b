package opt

import (
	"math"
	"math/rand"
	"sort"

	"drtdispatch/internal/problem"
)

// insertion is the cheapest feasible placement of a job in one route.
type insertion struct {
	route *Route
	job   int
	pos   int
	dpos  int
	cost  float64
}

// recreator reinserts jobs into a solution. One per worker; not safe for
// concurrent use.
type recreator struct {
	p          *problem.Problem
	cm         *ConstraintManager
	cfg        *Config
	rng        *rand.Rand
	rejections []int
}

func newRecreator(p *problem.Problem, cm *ConstraintManager, cfg *Config, rng *rand.Rand) *recreator {
	return &recreator{p: p, cm: cm, cfg: cfg, rng: rng, rejections: make([]int, len(cm.constraints))}
}

// bestIn returns the cheapest feasible insertion of job j into r.
func (rc *recreator) bestIn(r *Route, j int) (insertion, bool) {
	job := &rc.p.Jobs[j]
	if job.Kind == problem.Break && job.Vehicle != r.Vehicle {
		return insertion{}, false
	}
	if !rc.p.Vehicles[r.Vehicle].Capacity.Fits(job.Demand) {
		return insertion{}, false
	}
	s := r.RideTimes()
	n := r.Len()
	best := insertion{route: r, job: j, cost: math.Inf(1)}
	m := move{cm: rc.cm, route: r, state: s, job: job}

	try := func(pos, dpos int) {
		m.pos, m.dpos, m.projected = pos, dpos, false
		if i := rc.cm.check(&m); i >= 0 {
			rc.rejections[i]++
			return
		}
		if c := m.cost(); c < best.cost {
			best.pos, best.dpos, best.cost = pos, dpos, c
		}
	}
	for pos := 0; pos <= n; pos++ {
		if job.Kind != problem.Shipment {
			try(pos, pos)
			continue
		}
		pre := &s.prefix[pos]
		if _, ok := job.Pickup.WindowFor(pre.dep + rc.p.Costs.Time(pre.loc, job.Pickup.Location)); !ok {
			continue
		}
		for dpos := pos; dpos <= n; dpos++ {
			try(pos, dpos)
		}
	}
	return best, !math.IsInf(best.cost, 1)
}

// candidates returns the routes a job may go to: every open route plus one
// empty route per vehicle that may still be opened.
func (rc *recreator) candidates(sol *Solution) []*Route {
	out := append([]*Route(nil), sol.Routes...)
	for v := range rc.p.Vehicles {
		if rc.p.Fleet == problem.Infinite || !sol.used(v) {
			out = append(out, sol.emptyRoute(v))
		}
	}
	return out
}

// apply performs ins, opening its route if needed. It returns a fresh empty
// route to add to the candidates when the fleet is infinite.
func (rc *recreator) apply(sol *Solution, ins insertion) *Route {
	r := ins.route
	opened := r.Empty()
	r.insert(ins.job, ins.pos, ins.dpos)
	if !opened {
		return nil
	}
	sol.open(r)
	if rc.p.Fleet == problem.Infinite {
		return sol.emptyRoute(r.Vehicle)
	}
	return nil
}

// recreate inserts jobs with the configured strategy, then schedules breaks
// on the used routes and prices the solution.
func (rc *recreator) recreate(sol *Solution, jobs []int) {
	switch rc.cfg.Construction {
	case BestInsertion:
		rc.cheapest(sol, jobs)
	default:
		rc.regret(sol, jobs)
	}
	rc.scheduleBreaks(sol)
	sol.settle()
}

// regret inserts, in each round, the job with the highest regret: the summed
// cost gap between its best route and its next k-1 alternatives. Missing
// alternatives count as the unassigned penalty. Ties go to the lower best
// cost, then the lower job index. With FastRegret the per-route insertion
// costs are cached and only the route touched by the last insertion is
// re-evaluated.
func (rc *recreator) regret(sol *Solution, jobs []int) {
	pending := append([]int(nil), jobs...)
	sort.Ints(pending)
	cands := rc.candidates(sol)
	k := rc.cfg.RegretK

	type cached struct {
		ins insertion
		ok  bool
	}
	var cache map[int]map[*Route]cached
	if rc.cfg.FastRegret {
		cache = make(map[int]map[*Route]cached, len(pending))
		for _, j := range pending {
			cache[j] = map[*Route]cached{}
		}
	}

	alternatives := func(j int) []insertion {
		var alts []insertion
		for _, r := range cands {
			var c cached
			hit := false
			if cache != nil {
				c, hit = cache[j][r]
			}
			if !hit {
				c.ins, c.ok = rc.bestIn(r, j)
				if cache != nil {
					cache[j][r] = c
				}
			}
			if c.ok {
				alts = append(alts, c.ins)
			}
		}
		sort.SliceStable(alts, func(a, b int) bool { return alts[a].cost < alts[b].cost })
		return alts
	}

	for len(pending) > 0 {
		bestIdx := -1
		var bestIns insertion
		bestScore := math.Inf(-1)
		live := pending[:0]
		for _, j := range pending {
			alts := alternatives(j)
			if len(alts) == 0 {
				continue
			}
			live = append(live, j)
			score := 0.0
			for i := 1; i < k; i++ {
				next := rc.cfg.UnassignedPenalty
				if i < len(alts) {
					next = alts[i].cost
				}
				score += next - alts[0].cost
			}
			if score > bestScore || (score == bestScore && alts[0].cost < bestIns.cost) {
				bestIdx, bestIns, bestScore = len(live)-1, alts[0], score
			}
		}
		pending = live
		if bestIdx < 0 {
			return
		}
		pending = append(pending[:bestIdx], pending[bestIdx+1:]...)
		if fresh := rc.apply(sol, bestIns); fresh != nil {
			cands = append(cands, fresh)
		}
		if cache != nil {
			delete(cache, bestIns.job)
			for _, j := range pending {
				delete(cache[j], bestIns.route)
			}
		}
	}
}

// cheapest inserts jobs in random order, each at its cheapest feasible
// position over all routes.
func (rc *recreator) cheapest(sol *Solution, jobs []int) {
	order := append([]int(nil), jobs...)
	rc.rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
	cands := rc.candidates(sol)
	for _, j := range order {
		var best insertion
		found := false
		for _, r := range cands {
			ins, ok := rc.bestIn(r, j)
			if ok && (!found || ins.cost < best.cost) {
				best, found = ins, true
			}
		}
		if !found {
			continue
		}
		if fresh := rc.apply(sol, best); fresh != nil {
			cands = append(cands, fresh)
		}
	}
}

// scheduleBreaks places the break of every used route that lacks one.
func (rc *recreator) scheduleBreaks(sol *Solution) {
	for _, r := range sol.Routes {
		brk := rc.p.Vehicles[r.Vehicle].Break
		if brk < 0 || r.Empty() || r.Has(brk) {
			continue
		}
		if ins, ok := rc.bestIn(r, brk); ok {
			r.insert(brk, ins.pos, ins.dpos)
		}
	}
}

// insertable returns the jobs a recreate may try: not served, not a break,
// and not known to be unsolvable.
func insertable(p *problem.Problem, jobs []int) []int {
	out := make([]int, 0, len(jobs))
	for _, j := range jobs {
		if p.Jobs[j].Kind == problem.Break {
			continue
		}
		if _, bad := p.IsUnsolvable(j); bad {
			continue
		}
		out = append(out, j)
	}
	return out
}
