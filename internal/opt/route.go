package opt

import (
	"fmt"

	"drtdispatch/internal/problem"
)

// ActivityKind tags the stops of a route.
type ActivityKind int

const (
	Pickup ActivityKind = iota
	Delivery
	ServiceStop
	BreakStop
)

func (k ActivityKind) String() string {
	switch k {
	case Pickup:
		return "pickup"
	case Delivery:
		return "delivery"
	case ServiceStop:
		return "service"
	case BreakStop:
		return "break"
	}
	return "unknown"
}

// Activity is one stop of a route. The job is referenced by index; the
// pickup/delivery pair of a shipment is linked through it, never by pointer.
type Activity struct {
	Kind     ActivityKind
	Job      int
	Location int // problem.NoLocation for breaks

	// Computed by the schedule walk.
	Arrival   float64
	Begin     float64
	Departure float64
}

// Route is the ordered activity list of one vehicle. Vehicle start and end
// are implicit: they come from the vehicle definition.
type Route struct {
	Vehicle    int
	VehicleID  string
	Activities []Activity

	p     *problem.Problem
	state *RideTimeState
}

func newRoute(p *problem.Problem, vehicle int, id string) *Route {
	return &Route{Vehicle: vehicle, VehicleID: id, p: p}
}

func (r *Route) clone() *Route {
	out := *r
	out.Activities = append([]Activity(nil), r.Activities...)
	return &out
}

// Len returns the number of activities.
func (r *Route) Len() int { return len(r.Activities) }

// Empty reports whether the route serves no customer job.
func (r *Route) Empty() bool {
	for _, a := range r.Activities {
		if a.Kind != BreakStop {
			return false
		}
	}
	return true
}

// RideTimes returns the route's ride-time state, rebuilding it if the
// activity sequence changed since the last read.
func (r *Route) RideTimes() *RideTimeState {
	if r.state == nil {
		r.state = buildState(r.p, r)
	}
	return r.state
}

// Cost is the vehicle cost of the route; an empty route costs nothing.
func (r *Route) Cost() float64 { return r.RideTimes().cost }

// Schedule returns the activities with computed times.
func (r *Route) Schedule() []Activity {
	r.RideTimes()
	return r.Activities
}

// End returns the arrival time at the vehicle's end (or the last departure
// of an open route).
func (r *Route) End() float64 { return r.RideTimes().end }

// Start returns the departure time from the vehicle's start.
func (r *Route) Start() float64 { return r.RideTimes().prefix[0].dep }

func (r *Route) invalidate() { r.state = nil }

// indexOf returns the position of the activity of kind k for job j, or -1.
func (r *Route) indexOf(j int, k ActivityKind) int {
	for i, a := range r.Activities {
		if a.Job == j && a.Kind == k {
			return i
		}
	}
	return -1
}

// Has reports whether job j is served by the route.
func (r *Route) Has(j int) bool {
	for _, a := range r.Activities {
		if a.Job == j {
			return true
		}
	}
	return false
}

// Jobs returns the distinct jobs of the route in first-visit order.
func (r *Route) Jobs() []int {
	var out []int
	seen := map[int]bool{}
	for _, a := range r.Activities {
		if !seen[a.Job] {
			seen[a.Job] = true
			out = append(out, a.Job)
		}
	}
	return out
}

// insert places job j at pos (and its delivery at dpos for shipments, both
// positions referring to the sequence before the insert).
func (r *Route) insert(j, pos, dpos int) {
	job := &r.p.Jobs[j]
	first, second, two := activitiesFor(job)
	if !two {
		r.Activities = insertAt(r.Activities, pos, first)
		r.invalidate()
		return
	}
	if dpos < pos {
		panic(fmt.Sprintf("opt: delivery position %d before pickup position %d", dpos, pos))
	}
	r.Activities = insertAt(r.Activities, dpos, second)
	r.Activities = insertAt(r.Activities, pos, first)
	r.invalidate()
}

// removeJob drops every activity of job j and reports whether any existed.
func (r *Route) removeJob(j int) bool {
	out := r.Activities[:0]
	removed := false
	for _, a := range r.Activities {
		if a.Job == j {
			removed = true
			continue
		}
		out = append(out, a)
	}
	r.Activities = out
	if removed {
		r.invalidate()
	}
	return removed
}

func insertAt(acts []Activity, pos int, a Activity) []Activity {
	acts = append(acts, Activity{})
	copy(acts[pos+1:], acts[pos:])
	acts[pos] = a
	return acts
}

// activitiesFor returns the activities a job contributes to a route.
func activitiesFor(job *problem.Job) (first, second Activity, two bool) {
	switch job.Kind {
	case problem.Shipment:
		return Activity{Kind: Pickup, Job: job.Index, Location: job.Pickup.Location},
			Activity{Kind: Delivery, Job: job.Index, Location: job.Delivery.Location}, true
	case problem.Break:
		return Activity{Kind: BreakStop, Job: job.Index, Location: problem.NoLocation}, Activity{}, false
	default:
		return Activity{Kind: ServiceStop, Job: job.Index, Location: job.Stop.Location}, Activity{}, false
	}
}

// stopOf returns the problem stop an activity serves.
func stopOf(p *problem.Problem, a *Activity) *problem.Stop {
	job := &p.Jobs[a.Job]
	switch a.Kind {
	case Pickup:
		return &job.Pickup
	case Delivery:
		return &job.Delivery
	default:
		return &job.Stop
	}
}

// loadDelta is the load change caused by serving a.
func loadDelta(p *problem.Problem, a *Activity) (problem.Capacity, int) {
	switch a.Kind {
	case Pickup, ServiceStop:
		return p.Jobs[a.Job].Demand, 1
	case Delivery:
		return p.Jobs[a.Job].Demand, -1
	}
	return nil, 0
}
