package problem

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"

	"drtdispatch/internal/matrix"
)

// ErrValidation wraps every input error found by Build.
var ErrValidation = errors.New("problem: invalid input")

// VehicleSpec is the builder input for a vehicle.
type VehicleSpec struct {
	ID    string
	Start int
	// End defaults to Start.
	End *int
	// Open routes end at their last activity instead of driving to End.
	Open     bool
	Window   *TimeWindow
	Capacity Capacity
	Costs    *Costs
	Break    *BreakSpec
}

// BreakSpec describes a vehicle break.
type BreakSpec struct {
	ID       string
	Windows  []TimeWindow
	Duration float64
}

// Builder accumulates locations, jobs and vehicles.
type Builder struct {
	locations []Location
	jobs      []Job
	vehicles  []VehicleSpec
	fleet     FleetSize
	costs     *matrix.Matrix
}

// NewBuilder returns an empty builder with a finite fleet.
func NewBuilder() *Builder { return &Builder{fleet: Finite} }

// AddLocation registers a matrix index.
func (b *Builder) AddLocation(l Location) *Builder {
	b.locations = append(b.locations, l)
	return b
}

// AddService adds a single-stop job.
func (b *Builder) AddService(id string, stop Stop, demand Capacity) *Builder {
	b.jobs = append(b.jobs, Job{ID: id, Kind: Service, Stop: stop, Demand: demand})
	return b
}

// AddShipment adds a linked pickup and delivery. maxRide <= 0 keeps the
// engine-wide ride-time bound.
func (b *Builder) AddShipment(id string, pickup, delivery Stop, demand Capacity, maxRide float64) *Builder {
	b.jobs = append(b.jobs, Job{ID: id, Kind: Shipment, Pickup: pickup, Delivery: delivery, Demand: demand, MaxRideTime: maxRide})
	return b
}

// AddVehicle adds a vehicle definition.
func (b *Builder) AddVehicle(v VehicleSpec) *Builder {
	b.vehicles = append(b.vehicles, v)
	return b
}

// SetFleetSize sets the fleet policy.
func (b *Builder) SetFleetSize(f FleetSize) *Builder {
	b.fleet = f
	return b
}

// SetRoutingCosts sets the cost matrix every lookup goes through.
func (b *Builder) SetRoutingCosts(m *matrix.Matrix) *Builder {
	b.costs = m
	return b
}

// Build validates the input and returns the immutable problem. All input
// errors are reported together, wrapped in ErrValidation.
func (b *Builder) Build() (*Problem, error) {
	if b.costs == nil {
		return nil, fmt.Errorf("build problem: routing costs not set: %w", ErrValidation)
	}
	v := &validator{size: b.costs.Size()}

	p := &Problem{
		Fleet:      b.fleet,
		Costs:      b.costs,
		unsolvable: map[int]string{},
		jobByID:    map[string]int{},
	}

	p.Locations = b.registerLocations(v)
	registered := make(map[int]bool, len(p.Locations))
	for _, l := range p.Locations {
		registered[l.Index] = true
	}
	v.registered = registered

	for _, in := range b.jobs {
		job := in
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if _, dup := p.jobByID[job.ID]; dup {
			v.fail("job %q: duplicate id", job.ID)
			continue
		}
		job.Index = len(p.Jobs)
		job.Vehicle = -1
		v.job(&job)
		p.jobByID[job.ID] = job.Index
		p.Jobs = append(p.Jobs, job)
	}

	vehicleIDs := map[string]bool{}
	for i, spec := range b.vehicles {
		veh := Vehicle{
			ID:            spec.ID,
			Index:         i,
			Start:         spec.Start,
			End:           spec.Start,
			ReturnToDepot: !spec.Open,
			Window:        Open,
			Capacity:      spec.Capacity,
			Costs:         DefaultCosts,
			Break:         -1,
		}
		if veh.ID == "" {
			veh.ID = uuid.New().String()
		}
		if vehicleIDs[veh.ID] {
			v.fail("vehicle %q: duplicate id", veh.ID)
		}
		vehicleIDs[veh.ID] = true
		if spec.End != nil {
			veh.End = *spec.End
		}
		if spec.Window != nil {
			veh.Window = *spec.Window
		}
		if spec.Costs != nil {
			veh.Costs = *spec.Costs
		}
		v.location("vehicle "+veh.ID+" start", veh.Start)
		v.location("vehicle "+veh.ID+" end", veh.End)
		v.window("vehicle "+veh.ID, veh.Window)
		v.demand("vehicle "+veh.ID+" capacity", veh.Capacity)
		if c := veh.Costs; c.Fixed < 0 || c.PerDistance < 0 || c.PerTime < 0 || c.PerWaitingTime < 0 {
			v.fail("vehicle %q: negative cost coefficient", veh.ID)
		}
		if spec.Break != nil {
			if b.fleet == Infinite {
				v.fail("vehicle %q: breaks need a finite fleet", veh.ID)
			}
			brk := Job{
				ID:      spec.Break.ID,
				Kind:    Break,
				Index:   len(p.Jobs),
				Vehicle: i,
				Stop:    Stop{Location: NoLocation, Windows: spec.Break.Windows, Duration: spec.Break.Duration},
			}
			if brk.ID == "" {
				brk.ID = veh.ID + "-break"
			}
			if _, dup := p.jobByID[brk.ID]; dup {
				v.fail("break %q: duplicate id", brk.ID)
			} else {
				v.job(&brk)
				p.jobByID[brk.ID] = brk.Index
				p.Jobs = append(p.Jobs, brk)
				veh.Break = brk.Index
			}
		}
		p.Vehicles = append(p.Vehicles, veh)
	}
	if len(p.Vehicles) == 0 {
		v.fail("no vehicles")
	}

	if err := v.err(); err != nil {
		return nil, fmt.Errorf("build problem: %w", err)
	}

	for j := range p.Jobs {
		job := &p.Jobs[j]
		if job.Kind == Break {
			continue
		}
		fits := false
		for k := range p.Vehicles {
			if p.Vehicles[k].Capacity.Fits(job.Demand) {
				fits = true
				break
			}
		}
		if !fits {
			reason := fmt.Sprintf("demand %v exceeds every vehicle capacity", []int(job.Demand))
			p.unsolvable[j] = reason
			p.Unsolvable = append(p.Unsolvable, Unsolvable{Job: j, Reason: reason})
		}
	}
	return p, nil
}

// registerLocations returns the explicit locations, or every matrix index
// when none were added.
func (b *Builder) registerLocations(v *validator) []Location {
	if len(b.locations) == 0 {
		out := make([]Location, v.size)
		for i := range out {
			out[i] = Location{Index: i}
		}
		return out
	}
	seen := map[int]bool{}
	out := make([]Location, 0, len(b.locations))
	for _, l := range b.locations {
		if l.Index < 0 || l.Index >= v.size {
			v.fail("location %d (%s): outside matrix of size %d", l.Index, l.ID, v.size)
			continue
		}
		if seen[l.Index] {
			continue
		}
		seen[l.Index] = true
		out = append(out, l)
	}
	return out
}

type validator struct {
	size       int
	registered map[int]bool
	errs       []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(v.errs...))
}

func (v *validator) location(what string, idx int) {
	if idx < 0 || idx >= v.size {
		v.fail("%s: location %d outside matrix of size %d: %w", what, idx, v.size, matrix.ErrOutOfRange)
		return
	}
	if !v.registered[idx] {
		v.fail("%s: location %d not registered", what, idx)
	}
}

func (v *validator) window(what string, w TimeWindow) {
	if math.IsNaN(w.Start) || math.IsNaN(w.End) || w.Start > w.End {
		v.fail("%s: bad time window [%v,%v]", what, w.Start, w.End)
	}
}

func (v *validator) demand(what string, c Capacity) {
	for d, x := range c {
		if x < 0 {
			v.fail("%s: negative value in dimension %d", what, d)
		}
	}
}

// stop validates s and orders its windows by start, the order WindowFor
// scans them in. The windows are copied so the caller's slice stays as given.
func (v *validator) stop(what string, s *Stop, needsLocation bool) {
	if needsLocation {
		v.location(what, s.Location)
	}
	if s.Duration < 0 || math.IsNaN(s.Duration) {
		v.fail("%s: negative duration", what)
	}
	for _, w := range s.Windows {
		v.window(what, w)
	}
	s.Windows = slices.Clone(s.Windows)
	slices.SortStableFunc(s.Windows, func(a, b TimeWindow) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.End, b.End)
	})
}

func (v *validator) job(j *Job) {
	what := fmt.Sprintf("%s %q", j.Kind, j.ID)
	v.demand(what+" demand", j.Demand)
	switch j.Kind {
	case Service:
		v.stop(what, &j.Stop, true)
	case Shipment:
		v.stop(what+" pickup", &j.Pickup, true)
		v.stop(what+" delivery", &j.Delivery, true)
		if j.Delivery.latest() < j.Pickup.earliest() {
			v.fail("%s: delivery windows close before pickup windows open", what)
		}
		if j.MaxRideTime < 0 {
			v.fail("%s: negative max ride time", what)
		}
	case Break:
		v.stop(what, &j.Stop, false)
	default:
		v.fail("%s: unknown job kind", what)
	}
}
