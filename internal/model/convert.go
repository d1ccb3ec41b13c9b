package model

import (
	"fmt"
	"strings"
	"time"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/opt"
	"drtdispatch/internal/problem"
)

// Records converts wire records into matrix records.
func Records(in []MatrixRecord) []matrix.Record {
	out := make([]matrix.Record, len(in))
	for i, r := range in {
		out[i] = matrix.Record{From: r.From, To: r.To, Time: r.Time, Distance: r.Distance}
	}
	return out
}

// FromRecords converts matrix records into wire records.
func FromRecords(in []matrix.Record) []MatrixRecord {
	out := make([]MatrixRecord, len(in))
	for i, r := range in {
		out[i] = MatrixRecord{From: r.From, To: r.To, Time: r.Time, Distance: r.Distance}
	}
	return out
}

// ParseFleetSize accepts FINITE and INFINITE in any case. Empty is FINITE.
func ParseFleetSize(s string) (problem.FleetSize, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FINITE":
		return problem.Finite, nil
	case "INFINITE":
		return problem.Infinite, nil
	}
	return problem.Finite, fmt.Errorf("fleet size %q: %w", s, problem.ErrValidation)
}

func windows(in []TimeWindow) []problem.TimeWindow {
	if len(in) == 0 {
		return nil
	}
	out := make([]problem.TimeWindow, len(in))
	for i, w := range in {
		out[i] = problem.TimeWindow{Start: w.Start, End: w.End}
	}
	return out
}

func stop(s StopIn) problem.Stop {
	return problem.Stop{Location: s.Location, Windows: windows(s.TimeWindows), Duration: s.DurationSec}
}

// Build validates in against m and returns the immutable problem.
func (in ProblemIn) Build(m *matrix.Matrix) (*problem.Problem, error) {
	fleet, err := ParseFleetSize(in.FleetSize)
	if err != nil {
		return nil, fmt.Errorf("build problem: %w", err)
	}
	b := problem.NewBuilder().SetRoutingCosts(m).SetFleetSize(fleet)
	for _, l := range in.Locations {
		loc := problem.Location{Index: l.Index, ID: l.ID}
		if l.Coord != nil {
			loc.Coord = &problem.Coordinate{X: l.Coord.X, Y: l.Coord.Y}
		}
		b.AddLocation(loc)
	}
	for _, s := range in.Services {
		b.AddService(s.ID, stop(s.Stop), problem.Capacity(s.Demand))
	}
	for _, s := range in.Shipments {
		b.AddShipment(s.ID, stop(s.Pickup), stop(s.Delivery), problem.Capacity(s.Demand), s.MaxRideTimeSec)
	}
	for _, v := range in.Vehicles {
		spec := problem.VehicleSpec{
			ID:       v.ID,
			Start:    v.StartLocation,
			End:      v.EndLocation,
			Capacity: problem.Capacity(v.Capacity),
		}
		if v.ReturnToDepot != nil {
			spec.Open = !*v.ReturnToDepot
		}
		if v.ShiftWindow != nil {
			spec.Window = &problem.TimeWindow{Start: v.ShiftWindow.Start, End: v.ShiftWindow.End}
		}
		if v.Costs != nil {
			spec.Costs = &problem.Costs{
				Fixed:          v.Costs.Fixed,
				PerDistance:    v.Costs.PerDistance,
				PerTime:        v.Costs.PerTime,
				PerWaitingTime: v.Costs.PerWaitingTime,
			}
		}
		if v.Break != nil {
			spec.Break = &problem.BreakSpec{ID: v.Break.ID, Windows: windows(v.Break.TimeWindows), Duration: v.Break.DurationSec}
		}
		b.AddVehicle(spec)
	}
	return b.Build()
}

// Apply overlays the non-zero params on base.
func (rp RunParams) Apply(base opt.Config) (opt.Config, error) {
	cfg := base
	if rp.MaxIterations > 0 {
		cfg.Termination.MaxIterations = rp.MaxIterations
	}
	if rp.Workers > 0 {
		cfg.Workers = rp.Workers
	}
	if rp.Seed != nil {
		cfg.Seed = *rp.Seed
	}
	if rp.Construction != "" {
		c, err := opt.ParseConstruction(rp.Construction)
		if err != nil {
			return cfg, err
		}
		cfg.Construction = c
	}
	if rp.FastRegret {
		cfg.FastRegret = true
	}
	if rp.Acceptance != "" {
		a, err := opt.ParseAcceptance(rp.Acceptance)
		if err != nil {
			return cfg, err
		}
		cfg.Acceptance = a
	}
	if rp.TimeBudgetMs > 0 {
		cfg.Termination.TimeBudget = time.Duration(rp.TimeBudgetMs) * time.Millisecond
	}
	if rp.NoImprovement > 0 {
		cfg.Termination.NoImprovement = rp.NoImprovement
	}
	if rp.VariationWindow > 0 {
		cfg.Termination.VariationWindow = rp.VariationWindow
		cfg.Termination.VariationThreshold = rp.VariationThreshold
	}
	if rp.StretchFactor > 0 {
		cfg.StretchFactor = rp.StretchFactor
	}
	if rp.FixedSlackSec > 0 {
		cfg.FixedSlack = rp.FixedSlackSec
	}
	if rp.UnassignedPenalty > 0 {
		cfg.UnassignedPenalty = rp.UnassignedPenalty
	}
	if rp.InitTemp > 0 {
		cfg.InitialTemp = rp.InitTemp
	}
	if rp.Cooling > 0 {
		cfg.Cooling = rp.Cooling
	}
	if len(rp.RuinWeights) > 0 {
		if len(rp.RuinWeights) != len(cfg.RuinWeights) {
			return cfg, fmt.Errorf("%w: want %d ruin weights, got %d", opt.ErrConfig, len(cfg.RuinWeights), len(rp.RuinWeights))
		}
		copy(cfg.RuinWeights[:], rp.RuinWeights)
	}
	return cfg, cfg.Validate()
}

// RouteFrom renders one route with its schedule, loads and ride times.
func RouteFrom(p *problem.Problem, r *opt.Route) RouteOut {
	st := r.RideTimes()
	out := RouteOut{
		VehicleID:     r.VehicleID,
		Start:         r.Start(),
		End:           r.End(),
		Cost:          r.Cost(),
		Distance:      st.Distance(),
		TransportTime: st.TransportTime(),
		WaitingTime:   st.WaitingTime(),
	}
	for k, a := range r.Schedule() {
		act := ActivityOut{
			Type:      a.Kind.String(),
			JobID:     p.Jobs[a.Job].ID,
			Arrival:   a.Arrival,
			Begin:     a.Begin,
			Departure: a.Departure,
			Load:      append([]int(nil), st.Load(k+1)...),
		}
		if a.Location != problem.NoLocation {
			loc := a.Location
			act.Location = &loc
		}
		if a.Kind == opt.Delivery {
			if ride, ok := st.Elapsed(a.Job); ok {
				act.RideTimeSec = &ride
			}
		}
		out.Activities = append(out.Activities, act)
	}
	return out
}

// SolutionFrom renders a solution. reasons explains the unassigned jobs.
func SolutionFrom(p *problem.Problem, s *opt.Solution, reasons []opt.UnassignedJob) SolutionOut {
	out := SolutionOut{
		Cost:       s.Cost,
		RouteCost:  s.RouteCost(),
		Routes:     make([]RouteOut, 0, len(s.Routes)),
		Unassigned: make([]UnassignedOut, 0, len(reasons)),
	}
	for _, r := range s.Routes {
		out.Routes = append(out.Routes, RouteFrom(p, r))
	}
	for _, u := range reasons {
		out.Unassigned = append(out.Unassigned, UnassignedOut{JobID: u.JobID, Reason: u.Reason})
	}
	return out
}

// ProgressFrom converts a history point.
func ProgressFrom(pr opt.Progress) ProgressOut {
	return ProgressOut{Iteration: pr.Iteration, BestCost: pr.BestCost, Unassigned: pr.Unassigned, ElapsedMs: pr.Elapsed.Milliseconds()}
}

// ResultFrom renders a finished run.
func ResultFrom(p *problem.Problem, res *opt.Result) *RunResult {
	out := &RunResult{
		Solution:    SolutionFrom(p, res.Best, res.Unassigned),
		InitialCost: res.Initial.Cost,
		Stop:        string(res.Stop),
		DurationMs:  res.Duration.Milliseconds(),
		Stats: RunStats{
			Iterations:    res.Stats.Iterations,
			Improvements:  res.Stats.Improvements,
			AcceptedWorse: res.Stats.AcceptedWorse,
			RuinSelects:   map[string]int{},
			Rejections:    res.Stats.Rejections,
		},
	}
	for s, c := range res.Stats.RuinSelects {
		out.Stats.RuinSelects[opt.RuinStrategy(s).String()] = c
	}
	for _, h := range res.History {
		out.History = append(out.History, ProgressFrom(h))
	}
	return out
}
