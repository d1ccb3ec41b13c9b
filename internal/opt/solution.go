package opt

import (
	"fmt"

	"github.com/yourbasic/bit"

	"drtdispatch/internal/problem"
)

// Solution is a set of routes plus the jobs left out. Cost is the summed
// route cost plus the unassigned penalty per left-out job.
type Solution struct {
	Routes     []*Route
	Unassigned []int
	Cost       float64

	p         *problem.Problem
	penalty   float64
	instances []int
}

func newSolution(p *problem.Problem, penalty float64) *Solution {
	return &Solution{p: p, penalty: penalty, instances: make([]int, len(p.Vehicles))}
}

// Clone copies the route sequences. Derived route state is shared: it is
// never mutated, only replaced.
func (s *Solution) Clone() *Solution {
	out := &Solution{
		Routes:     make([]*Route, len(s.Routes)),
		Unassigned: append([]int(nil), s.Unassigned...),
		Cost:       s.Cost,
		p:          s.p,
		penalty:    s.penalty,
		instances:  append([]int(nil), s.instances...),
	}
	for i, r := range s.Routes {
		out.Routes[i] = r.clone()
	}
	return out
}

// RouteCost is the cost without the unassigned penalty.
func (s *Solution) RouteCost() float64 {
	total := 0.0
	for _, r := range s.Routes {
		total += r.Cost()
	}
	return total
}

// used reports whether vehicle v drives a route.
func (s *Solution) used(v int) bool {
	for _, r := range s.Routes {
		if r.Vehicle == v {
			return true
		}
	}
	return false
}

// emptyRoute returns a fresh, not yet opened route for vehicle v.
func (s *Solution) emptyRoute(v int) *Route {
	return newRoute(s.p, v, s.p.Vehicles[v].ID)
}

// open adds r to the solution. Under an infinite fleet every route gets its
// own instance id.
func (s *Solution) open(r *Route) {
	if s.p.Fleet == problem.Infinite {
		s.instances[r.Vehicle]++
		r.VehicleID = fmt.Sprintf("%s#%d", s.p.Vehicles[r.Vehicle].ID, s.instances[r.Vehicle])
	}
	s.Routes = append(s.Routes, r)
}

// routeOf returns the route serving job j, or nil.
func (s *Solution) routeOf(j int) *Route {
	for _, r := range s.Routes {
		if r.Has(j) {
			return r
		}
	}
	return nil
}

// assigned returns the set of jobs served by some route.
func (s *Solution) assigned() *bit.Set {
	set := new(bit.Set)
	for _, r := range s.Routes {
		for _, a := range r.Activities {
			set.Add(a.Job)
		}
	}
	return set
}

// dropEmpty closes the routes that serve no customer, together with any
// break left on them.
func (s *Solution) dropEmpty() {
	kept := s.Routes[:0]
	for _, r := range s.Routes {
		if !r.Empty() {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(s.Routes); i++ {
		s.Routes[i] = nil
	}
	s.Routes = kept
}

// settle drops routes without customers, recomputes the unassigned list and
// prices the solution. A break counts as unassigned only when its vehicle
// drives a route without it.
func (s *Solution) settle() {
	s.dropEmpty()

	done := s.assigned()
	s.Unassigned = s.Unassigned[:0]
	for j := range s.p.Jobs {
		if done.Contains(j) {
			continue
		}
		job := &s.p.Jobs[j]
		if job.Kind == problem.Break && !s.used(job.Vehicle) {
			continue
		}
		s.Unassigned = append(s.Unassigned, j)
	}
	s.Cost = s.RouteCost() + s.penalty*float64(len(s.Unassigned))
}

// better reports whether a beats b: lower cost, then fewer unassigned jobs.
func better(a, b *Solution) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return len(a.Unassigned) < len(b.Unassigned)
}

// SelectBest returns the solution with the lowest cost, ties broken by fewer
// unassigned jobs and then by first occurrence. It returns nil for an empty
// input.
func SelectBest(solutions []*Solution) *Solution {
	var best *Solution
	for _, s := range solutions {
		if better(s, best) {
			best = s
		}
	}
	return best
}

// Verify checks the structural invariants of s: every job served at most
// once, pickups before their deliveries on the same route, feasible
// schedules, loads within capacity and ride times within their bounds.
func (s *Solution) Verify(cm *ConstraintManager) error {
	seen := new(bit.Set)
	for _, r := range s.Routes {
		veh := &s.p.Vehicles[r.Vehicle]
		st := r.RideTimes()
		if !st.Feasible() {
			return fmt.Errorf("route %s: %s violated at %d", r.VehicleID, st.bad.Kind, st.bad.At)
		}
		for k, a := range r.Activities {
			switch a.Kind {
			case Delivery:
				if r.indexOf(a.Job, Pickup) < 0 || r.indexOf(a.Job, Pickup) > k {
					return fmt.Errorf("route %s: delivery of %s without prior pickup", r.VehicleID, s.p.Jobs[a.Job].ID)
				}
				ride, _ := st.Elapsed(a.Job)
				if ride > cm.Bound(a.Job)+rideEpsilon {
					return fmt.Errorf("route %s: ride time %.2f of %s exceeds %.2f", r.VehicleID, ride, s.p.Jobs[a.Job].ID, cm.Bound(a.Job))
				}
				continue
			case Pickup:
				if r.indexOf(a.Job, Delivery) < 0 {
					return fmt.Errorf("route %s: pickup of %s without delivery", r.VehicleID, s.p.Jobs[a.Job].ID)
				}
			case BreakStop:
				if s.p.Jobs[a.Job].Vehicle != r.Vehicle {
					return fmt.Errorf("route %s: foreign break %s", r.VehicleID, s.p.Jobs[a.Job].ID)
				}
			}
			if seen.Contains(a.Job) {
				return fmt.Errorf("job %s served twice", s.p.Jobs[a.Job].ID)
			}
			seen.Add(a.Job)
		}
		for k := 0; k <= r.Len(); k++ {
			if !veh.Capacity.Fits(st.Load(k)) {
				return fmt.Errorf("route %s: load %v over capacity after %d stops", r.VehicleID, []int(st.Load(k)), k)
			}
		}
	}
	return nil
}
