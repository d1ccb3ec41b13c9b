package opt

import (
	"math"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/problem"
)

// OpenRide is a passenger on board at some point of a route.
type OpenRide struct {
	Job     int
	Boarded float64 // departure from the pickup
	Elapsed float64 // in-vehicle time so far
}

// prefixState is the vehicle state after serving the first k activities
// (k = 0 is the departure from the vehicle start).
type prefixState struct {
	loc       int
	dep       float64
	load      problem.Capacity
	distance  float64
	transport float64
	waiting   float64
	open      []OpenRide
}

// violation locates the first infeasibility of a schedule walk. At equals
// the route length for the leg into the vehicle end.
type violation struct {
	At   int
	Kind string
}

const (
	violationReach  = "reachability"
	violationWindow = "time-window"
	violationRide   = "ride-time"
	violationLoad   = "capacity"
)

// RideTimeState is derived from a route's activity sequence: the running
// schedule, loads, open pickups and closed ride times. It is rebuilt when the
// route changes and never mutated afterwards, so clones can share it.
type RideTimeState struct {
	prefix  []prefixState
	boarded map[int]float64
	ride    map[int]float64

	end       float64
	distance  float64
	transport float64
	waiting   float64
	cost      float64
	bad       *violation
}

// Elapsed returns the ride time of a delivered shipment: service begin at the
// delivery minus departure from the pickup.
func (s *RideTimeState) Elapsed(job int) (float64, bool) {
	v, ok := s.ride[job]
	return v, ok
}

// OpenAt returns the passengers on board when the vehicle leaves the pos-th
// prefix (pos 0 is the start, pos k follows the k-th activity).
func (s *RideTimeState) OpenAt(pos int) []OpenRide {
	pre := &s.prefix[pos]
	out := make([]OpenRide, len(pre.open))
	for i, o := range pre.open {
		o.Elapsed = pre.dep - o.Boarded
		out[i] = o
	}
	return out
}

// Load returns the load after the pos-th prefix.
func (s *RideTimeState) Load(pos int) problem.Capacity { return s.prefix[pos].load }

// Departure returns the departure time after the pos-th prefix.
func (s *RideTimeState) Departure(pos int) float64 { return s.prefix[pos].dep }

// Feasible reports whether every leg is reachable and every window is met.
func (s *RideTimeState) Feasible() bool { return s.bad == nil }

// Distance, TransportTime and WaitingTime are route totals.
func (s *RideTimeState) Distance() float64      { return s.distance }
func (s *RideTimeState) TransportTime() float64 { return s.transport }
func (s *RideTimeState) WaitingTime() float64   { return s.waiting }

func buildState(p *problem.Problem, r *Route) *RideTimeState {
	veh := &p.Vehicles[r.Vehicle]
	dims := len(veh.Capacity)
	s := &RideTimeState{
		prefix:  make([]prefixState, len(r.Activities)+1),
		boarded: map[int]float64{},
		ride:    map[int]float64{},
	}
	cur := prefixState{loc: veh.Start, dep: veh.Window.Start, load: make(problem.Capacity, dims)}
	s.prefix[0] = cur
	fail := func(at int, kind string) {
		if s.bad == nil {
			s.bad = &violation{At: at, Kind: kind}
		}
	}

	for k := range r.Activities {
		a := &r.Activities[k]
		loc := a.Location
		if loc == problem.NoLocation {
			loc = cur.loc
		}
		tt := p.Costs.Time(cur.loc, loc)
		dd := p.Costs.Distance(cur.loc, loc)
		if !matrix.Reachable(tt) || !matrix.Reachable(dd) {
			fail(k, violationReach)
		}
		st := stopOf(p, a)
		arr := cur.dep + tt
		w, ok := st.WindowFor(arr)
		if !ok {
			fail(k, violationWindow)
			w = problem.TimeWindow{Start: arr, End: arr}
		}
		begin := math.Max(arr, w.Start)

		next := prefixState{
			loc:       loc,
			dep:       begin + st.Duration,
			load:      append(problem.Capacity(nil), cur.load...),
			distance:  cur.distance + dd,
			transport: cur.transport + tt,
			waiting:   cur.waiting + (begin - arr),
			open:      cur.open,
		}
		if d, sign := loadDelta(p, a); sign != 0 {
			for i := range next.load {
				next.load[i] += sign * d.At(i)
			}
		}
		switch a.Kind {
		case Pickup:
			next.open = append(append([]OpenRide(nil), cur.open...), OpenRide{Job: a.Job, Boarded: next.dep})
			s.boarded[a.Job] = next.dep
		case Delivery:
			next.open = make([]OpenRide, 0, len(cur.open))
			for _, o := range cur.open {
				if o.Job == a.Job {
					s.ride[a.Job] = begin - o.Boarded
					continue
				}
				next.open = append(next.open, o)
			}
		}
		a.Arrival, a.Begin, a.Departure = arr, begin, next.dep
		s.prefix[k+1] = next
		cur = next
	}

	s.end = cur.dep
	s.distance, s.transport, s.waiting = cur.distance, cur.transport, cur.waiting
	if veh.ReturnToDepot && len(r.Activities) > 0 {
		tt := p.Costs.Time(cur.loc, veh.End)
		dd := p.Costs.Distance(cur.loc, veh.End)
		if !matrix.Reachable(tt) || !matrix.Reachable(dd) {
			fail(len(r.Activities), violationReach)
		}
		s.end = cur.dep + tt
		s.distance += dd
		s.transport += tt
	}
	if s.end > veh.Window.End {
		fail(len(r.Activities), violationWindow)
	}

	if !r.Empty() {
		c := veh.Costs
		s.cost = c.Fixed + c.PerDistance*s.distance + c.PerTime*s.transport + c.PerWaitingTime*s.waiting
	}
	return s
}
