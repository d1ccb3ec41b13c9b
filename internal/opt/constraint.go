package opt

import (
	"math"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/problem"
)

// Priority orders hard constraints. Critical ones are consulted before any
// other check of a candidate insertion.
type Priority int

const (
	Critical Priority = iota
	High
)

const rideEpsilon = 1e-9

// HardConstraint accepts or rejects one candidate insertion.
type HardConstraint interface {
	Name() string
	Priority() Priority
	Fulfilled(m *move) bool
}

// move is a candidate insertion of job at pos (and dpos for the delivery of
// a shipment), both relative to the route's current sequence. The schedule
// projection is computed at most once and shared by the constraints.
type move struct {
	cm    *ConstraintManager
	route *Route
	state *RideTimeState
	job   *problem.Job
	pos   int
	dpos  int

	projected bool
	proj      projection
}

type projection struct {
	bad                    string
	dDist, dTime, dWaiting float64
}

func (m *move) projection() *projection {
	if !m.projected {
		m.proj = m.cm.project(m)
		m.projected = true
	}
	return &m.proj
}

// cost is the marginal vehicle cost of the move. It reuses the projection.
func (m *move) cost() float64 {
	pr := m.projection()
	c := m.cm.p.Vehicles[m.route.Vehicle].Costs
	delta := c.PerDistance*pr.dDist + c.PerTime*pr.dTime + c.PerWaitingTime*pr.dWaiting
	if m.route.Empty() {
		// The route is priced from scratch once it serves a customer.
		s := m.state
		delta += c.Fixed + c.PerDistance*s.distance + c.PerTime*s.transport + c.PerWaitingTime*s.waiting
	}
	return delta
}

// ConstraintManager holds the hard constraints in priority order and the
// ride-time bound of every shipment. It is read-only once built and shared by
// all workers.
type ConstraintManager struct {
	p           *problem.Problem
	constraints []HardConstraint
	bounds      []float64
}

// NewConstraintManager builds the default constraint set: ride time
// (critical), then capacity, time windows and reachability.
func NewConstraintManager(p *problem.Problem, stretch, slack float64) *ConstraintManager {
	cm := &ConstraintManager{p: p, bounds: make([]float64, len(p.Jobs))}
	for j := range p.Jobs {
		cm.bounds[j] = math.Inf(1)
		if p.Jobs[j].Kind == problem.Shipment {
			cm.bounds[j] = RideTimeBound(&p.Jobs[j], p.DirectTime(j), stretch, slack)
		}
	}
	cm.Add(rideTimeConstraint{}).Add(capacityConstraint{}).Add(timeWindowConstraint{}).Add(reachabilityConstraint{})
	return cm
}

// Add registers c, keeping critical constraints ahead of high ones.
func (cm *ConstraintManager) Add(c HardConstraint) *ConstraintManager {
	i := len(cm.constraints)
	for i > 0 && cm.constraints[i-1].Priority() > c.Priority() {
		i--
	}
	cm.constraints = append(cm.constraints, nil)
	copy(cm.constraints[i+1:], cm.constraints[i:])
	cm.constraints[i] = c
	return cm
}

// Names lists the constraints in evaluation order.
func (cm *ConstraintManager) Names() []string {
	out := make([]string, len(cm.constraints))
	for i, c := range cm.constraints {
		out[i] = c.Name()
	}
	return out
}

// Bound returns the maximum ride time of job j (+Inf for non-shipments).
func (cm *ConstraintManager) Bound(j int) float64 { return cm.bounds[j] }

// RideTimeBound is max(direct*stretch, direct+slack), unless the shipment
// carries its own limit.
func RideTimeBound(job *problem.Job, direct, stretch, slack float64) float64 {
	if job.MaxRideTime > 0 {
		return job.MaxRideTime
	}
	return math.Max(direct*stretch, direct+slack)
}

// check evaluates m against every constraint in order and returns the index
// of the first rejecting one, or -1.
func (cm *ConstraintManager) check(m *move) int {
	for i, c := range cm.constraints {
		if !c.Fulfilled(m) {
			return i
		}
	}
	return -1
}

// project walks the schedule from the insertion point with the new
// activities in place. The walk resumes from the route's prefix state and
// stops early once the projected departure and location match the current
// ones and no passenger boarded during the walk left earlier than before. A
// break takes the location of the activity before it, so a matching
// departure alone does not settle the rest of the route.
func (cm *ConstraintManager) project(m *move) projection {
	p := cm.p
	veh := &p.Vehicles[m.route.Vehicle]
	acts := m.route.Activities
	s := m.state
	n := len(acts)

	pre := &s.prefix[m.pos]
	loc, t := pre.loc, pre.dep
	dist, trans, wait := pre.distance, pre.transport, pre.waiting

	type boarding struct {
		job     int
		dep     float64
		earlier bool
	}
	var walked []boarding
	earlier := 0

	visit := func(a *Activity, orig int) string {
		aLoc := a.Location
		if aLoc == problem.NoLocation {
			aLoc = loc
		}
		tt := p.Costs.Time(loc, aLoc)
		dd := p.Costs.Distance(loc, aLoc)
		if !matrix.Reachable(tt) || !matrix.Reachable(dd) {
			return violationReach
		}
		st := stopOf(p, a)
		arr := t + tt
		w, ok := st.WindowFor(arr)
		if !ok {
			return violationWindow
		}
		begin := math.Max(arr, w.Start)
		dep := begin + st.Duration
		dist += dd
		trans += tt
		wait += begin - arr

		switch a.Kind {
		case Pickup:
			b := boarding{job: a.Job, dep: dep}
			if orig >= 0 && dep < s.prefix[orig+1].dep {
				b.earlier = true
				earlier++
			}
			walked = append(walked, b)
		case Delivery:
			boarded, found := s.boarded[a.Job]
			for i := range walked {
				if walked[i].job == a.Job {
					boarded, found = walked[i].dep, true
					if walked[i].earlier {
						earlier--
					}
					walked = append(walked[:i], walked[i+1:]...)
					break
				}
			}
			if found && begin-boarded > cm.bounds[a.Job]+rideEpsilon {
				return violationRide
			}
		}
		loc, t = aLoc, dep
		return ""
	}

	first, second, two := activitiesFor(m.job)
	placed := !two
	for k := m.pos; ; k++ {
		if k == m.pos {
			if bad := visit(&first, -1); bad != "" {
				return projection{bad: bad}
			}
			if two && m.dpos == m.pos {
				if bad := visit(&second, -1); bad != "" {
					return projection{bad: bad}
				}
				placed = true
			}
		} else if two && k == m.dpos {
			if bad := visit(&second, -1); bad != "" {
				return projection{bad: bad}
			}
			placed = true
		}
		if k == n {
			break
		}
		if bad := visit(&acts[k], k); bad != "" {
			return projection{bad: bad}
		}
		if placed && earlier == 0 && t == s.prefix[k+1].dep && loc == s.prefix[k+1].loc {
			next := &s.prefix[k+1]
			return projection{
				dDist:    dist - next.distance,
				dTime:    trans - next.transport,
				dWaiting: wait - next.waiting,
			}
		}
	}

	end := t
	if veh.ReturnToDepot {
		tt := p.Costs.Time(loc, veh.End)
		dd := p.Costs.Distance(loc, veh.End)
		if !matrix.Reachable(tt) || !matrix.Reachable(dd) {
			return projection{bad: violationReach}
		}
		end += tt
		dist += dd
		trans += tt
	}
	if end > veh.Window.End {
		return projection{bad: violationWindow}
	}
	return projection{dDist: dist - s.distance, dTime: trans - s.transport, dWaiting: wait - s.waiting}
}

// rideTimeConstraint rejects insertions that push any passenger, the new
// one or one already on board, past its ride-time bound.
type rideTimeConstraint struct{}

func (rideTimeConstraint) Name() string       { return violationRide }
func (rideTimeConstraint) Priority() Priority { return Critical }
func (rideTimeConstraint) Fulfilled(m *move) bool {
	if m.job.Kind == problem.Shipment && m.pos == m.dpos {
		// Pickup and delivery back to back: the ride is at least the direct leg.
		if m.cm.p.DirectTime(m.job.Index) > m.cm.bounds[m.job.Index]+rideEpsilon {
			return false
		}
	}
	return m.projection().bad != violationRide
}

type capacityConstraint struct{}

func (capacityConstraint) Name() string       { return violationLoad }
func (capacityConstraint) Priority() Priority { return High }
func (capacityConstraint) Fulfilled(m *move) bool {
	demand := m.job.Demand
	if len(demand) == 0 || m.job.Kind == problem.Break {
		return true
	}
	limit := m.cm.p.Vehicles[m.route.Vehicle].Capacity
	if !limit.Fits(demand) {
		return false
	}
	to := len(m.route.Activities)
	if m.job.Kind == problem.Shipment {
		to = m.dpos
	}
	for k := m.pos; k <= to; k++ {
		load := m.state.prefix[k].load
		for d, v := range demand {
			if load.At(d)+v > limit.At(d) {
				return false
			}
		}
	}
	return true
}

type timeWindowConstraint struct{}

func (timeWindowConstraint) Name() string           { return violationWindow }
func (timeWindowConstraint) Priority() Priority     { return High }
func (timeWindowConstraint) Fulfilled(m *move) bool { return m.projection().bad != violationWindow }

type reachabilityConstraint struct{}

func (reachabilityConstraint) Name() string           { return violationReach }
func (reachabilityConstraint) Priority() Priority     { return High }
func (reachabilityConstraint) Fulfilled(m *move) bool { return m.projection().bad != violationReach }
