// Package problem describes a dispatch problem: locations, jobs, vehicles and
// the fleet policy, validated against a cost matrix.
package problem

import (
	"math"

	"drtdispatch/internal/matrix"
)

// NoLocation is the location of a break: it happens wherever the vehicle is.
const NoLocation = -1

// Coordinate is only used by reports and plots, never by cost lookups.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Location is a registered index of the cost matrix.
type Location struct {
	Index int
	ID    string
	Coord *Coordinate
}

// TimeWindow is a closed interval on the run's time axis (seconds).
type TimeWindow struct {
	Start float64
	End   float64
}

// Open is the window used when a stop declares none.
var Open = TimeWindow{Start: 0, End: math.MaxFloat64}

// Stop is one place a vehicle has to visit for a job.
type Stop struct {
	Location int
	Windows  []TimeWindow
	Duration float64
}

// WindowFor returns the earliest window that can still be met when arriving
// at t, and false if every window has closed.
func (s Stop) WindowFor(t float64) (TimeWindow, bool) {
	if len(s.Windows) == 0 {
		return Open, true
	}
	for _, w := range s.Windows {
		if t <= w.End {
			return w, true
		}
	}
	return TimeWindow{}, false
}

func (s Stop) earliest() float64 {
	if len(s.Windows) == 0 {
		return 0
	}
	e := s.Windows[0].Start
	for _, w := range s.Windows[1:] {
		e = math.Min(e, w.Start)
	}
	return e
}

func (s Stop) latest() float64 {
	if len(s.Windows) == 0 {
		return math.MaxFloat64
	}
	l := s.Windows[0].End
	for _, w := range s.Windows[1:] {
		l = math.Max(l, w.End)
	}
	return l
}

// Capacity is a multi-dimensional load vector. Missing dimensions count as zero.
type Capacity []int

// At returns dimension d.
func (c Capacity) At(d int) int {
	if d < len(c) {
		return c[d]
	}
	return 0
}

// Fits reports whether demand fits into c in every dimension.
func (c Capacity) Fits(demand Capacity) bool {
	for d, v := range demand {
		if v > c.At(d) {
			return false
		}
	}
	return true
}

// JobKind tags the job variants.
type JobKind int

const (
	Service JobKind = iota
	Shipment
	Break
)

func (k JobKind) String() string {
	switch k {
	case Service:
		return "service"
	case Shipment:
		return "shipment"
	case Break:
		return "break"
	}
	return "unknown"
}

// Job is a customer request or a vehicle break.
//
// Service and Break use Stop; Shipment uses Pickup and Delivery. Index is the
// dense position in Problem.Jobs, assigned by Build.
type Job struct {
	ID     string
	Kind   JobKind
	Index  int
	Demand Capacity

	Stop     Stop
	Pickup   Stop
	Delivery Stop

	// MaxRideTime overrides the ride-time bound of a shipment when positive.
	MaxRideTime float64
	// Vehicle is the owning vehicle index of a break.
	Vehicle int
}

// Costs are the per-vehicle cost coefficients.
type Costs struct {
	Fixed          float64
	PerDistance    float64
	PerTime        float64
	PerWaitingTime float64
}

// DefaultCosts charges distance only.
var DefaultCosts = Costs{PerDistance: 1}

// Vehicle is one vehicle definition. Under an infinite fleet it is a type
// with unlimited copies.
type Vehicle struct {
	ID            string
	Index         int
	Start         int
	End           int
	ReturnToDepot bool
	Window        TimeWindow
	Capacity      Capacity
	Costs         Costs
	// Break is the index of the vehicle's break job, or -1.
	Break int
}

// FleetSize is the fleet policy.
type FleetSize int

const (
	Finite FleetSize = iota
	Infinite
)

func (f FleetSize) String() string {
	if f == Infinite {
		return "INFINITE"
	}
	return "FINITE"
}

// Unsolvable records a job that can never be assigned.
type Unsolvable struct {
	Job    int
	Reason string
}

// Problem is immutable after Build and shared read-only by all workers.
type Problem struct {
	Locations  []Location
	Jobs       []Job
	Vehicles   []Vehicle
	Fleet      FleetSize
	Costs      *matrix.Matrix
	Unsolvable []Unsolvable

	unsolvable map[int]string
	jobByID    map[string]int
}

// JobByID returns the index of the job with id.
func (p *Problem) JobByID(id string) (int, bool) {
	i, ok := p.jobByID[id]
	return i, ok
}

// IsUnsolvable reports whether job j can never be inserted, and why.
func (p *Problem) IsUnsolvable(j int) (string, bool) {
	r, ok := p.unsolvable[j]
	return r, ok
}

// DirectTime is the travel time from a shipment's pickup to its delivery.
func (p *Problem) DirectTime(j int) float64 {
	job := &p.Jobs[j]
	return p.Costs.Time(job.Pickup.Location, job.Delivery.Location)
}

// CustomerJobs returns the number of non-break jobs.
func (p *Problem) CustomerJobs() int {
	n := 0
	for i := range p.Jobs {
		if p.Jobs[i].Kind != Break {
			n++
		}
	}
	return n
}
