package opt

import (
	"math"
	"math/rand"
	"sort"

	"github.com/yourbasic/bit"

	"drtdispatch/internal/problem"
)

// ruiner removes a share of the assigned jobs from a solution.
type ruiner struct {
	p   *problem.Problem
	cm  *ConstraintManager
	cfg *Config
	rng *rand.Rand
}

// pick draws a strategy by roulette over the configured weights.
func (ru *ruiner) pick() RuinStrategy {
	total := 0.0
	for _, w := range ru.cfg.RuinWeights {
		total += w
	}
	x := ru.rng.Float64() * total
	acc := 0.0
	for i, w := range ru.cfg.RuinWeights {
		acc += w
		if x < acc {
			return RuinStrategy(i)
		}
	}
	return RuinStrategy(len(ru.cfg.RuinWeights) - 1)
}

// count draws how many of n assigned jobs to remove: a share in
// [RuinMinShare, RuinMaxShare], at least one.
func (ru *ruiner) count(n int) int {
	share := ru.cfg.RuinMinShare + ru.rng.Float64()*(ru.cfg.RuinMaxShare-ru.cfg.RuinMinShare)
	k := int(math.Ceil(share * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// ruin removes jobs from sol with strategy s and returns them, including any
// passenger that had to come out to keep the touched routes feasible. Routes
// left without customers are closed so the recreate can reopen them.
func (ru *ruiner) ruin(sol *Solution, s RuinStrategy) []int {
	assigned := customerJobs(sol)
	if len(assigned) == 0 {
		return nil
	}
	k := ru.count(len(assigned))

	var victims []int
	switch s {
	case RadialRuin:
		victims = ru.radial(assigned, k)
	case WorstRuin:
		victims = ru.worst(sol, assigned, k)
	default:
		victims = ru.random(assigned, k)
	}

	removed := new(bit.Set)
	touched := map[*Route]bool{}
	for _, j := range victims {
		if r := sol.routeOf(j); r != nil {
			r.removeJob(j)
			touched[r] = true
			removed.Add(j)
		}
	}
	for _, r := range sol.Routes {
		if touched[r] {
			ru.repair(r, removed)
		}
	}
	sol.dropEmpty()
	out := make([]int, 0, removed.Size())
	removed.Visit(func(j int) bool {
		out = append(out, j)
		return false
	})
	return out
}

func (ru *ruiner) random(assigned []int, k int) []int {
	perm := ru.rng.Perm(len(assigned))
	out := make([]int, k)
	for i := range out {
		out[i] = assigned[perm[i]]
	}
	return out
}

// radial removes a random seed job and its k-1 nearest neighbours by travel
// time.
func (ru *ruiner) radial(assigned []int, k int) []int {
	seed := assigned[ru.rng.Intn(len(assigned))]
	type near struct {
		job int
		d   float64
	}
	ns := make([]near, 0, len(assigned))
	for _, j := range assigned {
		if j != seed {
			ns = append(ns, near{j, ru.relatedness(seed, j)})
		}
	}
	sort.SliceStable(ns, func(a, b int) bool { return ns[a].d < ns[b].d })
	out := []int{seed}
	for i := 0; i < len(ns) && len(out) < k; i++ {
		out = append(out, ns[i].job)
	}
	return out
}

// relatedness averages the travel times between the first stops and between
// the last stops of two jobs, taking the shorter direction each time.
func (ru *ruiner) relatedness(a, b int) float64 {
	fa, la := endpoints(&ru.p.Jobs[a])
	fb, lb := endpoints(&ru.p.Jobs[b])
	sym := func(x, y int) float64 {
		return math.Min(ru.p.Costs.Time(x, y), ru.p.Costs.Time(y, x))
	}
	return sym(fa, fb)/2 + sym(la, lb)/2
}

func endpoints(job *problem.Job) (first, last int) {
	if job.Kind == problem.Shipment {
		return job.Pickup.Location, job.Delivery.Location
	}
	return job.Stop.Location, job.Stop.Location
}

// worst removes the k jobs whose removal saves the most route cost, with
// the savings randomised by WorstNoise.
func (ru *ruiner) worst(sol *Solution, assigned []int, k int) []int {
	type saving struct {
		job int
		v   float64
	}
	ss := make([]saving, 0, len(assigned))
	for _, j := range assigned {
		r := sol.routeOf(j)
		without := r.clone()
		without.invalidate()
		without.removeJob(j)
		v := r.Cost() - without.Cost()
		v *= 1 + ru.cfg.WorstNoise*ru.rng.Float64()
		ss = append(ss, saving{j, v})
	}
	sort.SliceStable(ss, func(a, b int) bool { return ss[a].v > ss[b].v })
	out := make([]int, k)
	for i := range out {
		out[i] = ss[i].job
	}
	return out
}

// repair takes jobs out of r until its schedule is feasible again. Removing
// stops only moves times earlier, which keeps windows and loads intact but
// may open an unreachable leg or lengthen a ride that now waits longer.
// Breaks are dropped silently: they are rescheduled after the recreate.
func (ru *ruiner) repair(r *Route, removed *bit.Set) {
	for r.Len() > 0 {
		st := r.RideTimes()
		victim := -1
		if st.bad != nil {
			at := st.bad.At
			if at >= r.Len() {
				at = r.Len() - 1
			}
			victim = r.Activities[at].Job
		} else {
			for _, a := range r.Activities {
				if a.Kind != Delivery {
					continue
				}
				if ride, _ := st.Elapsed(a.Job); ride > ru.cm.Bound(a.Job)+rideEpsilon {
					victim = a.Job
					break
				}
			}
		}
		if victim < 0 {
			return
		}
		r.removeJob(victim)
		if ru.p.Jobs[victim].Kind != problem.Break {
			removed.Add(victim)
		}
	}
}

// customerJobs lists the served non-break jobs in route order.
func customerJobs(sol *Solution) []int {
	var out []int
	for _, r := range sol.Routes {
		for _, a := range r.Activities {
			if a.Kind == Pickup || a.Kind == ServiceStop {
				out = append(out, a.Job)
			}
		}
	}
	return out
}
