package model

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/opt"
	"drtdispatch/internal/problem"
)

const sampleProblem = `{
  "vehicles": [
    {"id": "bus", "startLocation": 0, "capacity": [2],
     "costs": {"perDistance": 1}, "break": {"durationSec": 5}}
  ],
  "shipments": [
    {"id": "a", "pickup": {"location": 0}, "delivery": {"location": 2}, "demand": [1]},
    {"id": "b", "pickup": {"location": 1}, "delivery": {"location": 3}, "demand": [1], "maxRideTimeSec": 100}
  ]
}`

func lineRecords(n int) []MatrixRecord {
	var out []MatrixRecord
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := float64(10 * (j - i))
			if d < 0 {
				d = -d
			}
			out = append(out, MatrixRecord{From: i, To: j, Time: d, Distance: d})
		}
	}
	return out
}

func buildSample(t *testing.T) *problem.Problem {
	t.Helper()
	var in ProblemIn
	require.NoError(t, json.Unmarshal([]byte(sampleProblem), &in))
	recs := Records(lineRecords(4))
	m, err := matrix.FromRecords(matrix.SizeOf(recs), recs)
	require.NoError(t, err)
	p, err := in.Build(m)
	require.NoError(t, err)
	return p
}

func TestProblemBuild(t *testing.T) {
	p := buildSample(t)
	require.Len(t, p.Vehicles, 1)
	assert.True(t, p.Vehicles[0].ReturnToDepot)
	assert.Equal(t, problem.Finite, p.Fleet)

	b, ok := p.JobByID("b")
	require.True(t, ok)
	assert.Equal(t, 100.0, p.Jobs[b].MaxRideTime)
	_, ok = p.JobByID("bus-break")
	assert.True(t, ok)
}

func TestProblemBuildRejectsBadInput(t *testing.T) {
	in := ProblemIn{
		FleetSize: "infinite",
		Vehicles:  []VehicleIn{{ID: "v", StartLocation: 7}},
	}
	recs := Records(lineRecords(2))
	m, err := matrix.FromRecords(2, recs)
	require.NoError(t, err)
	_, err = in.Build(m)
	assert.ErrorIs(t, err, problem.ErrValidation)

	_, err = ParseFleetSize("huge")
	assert.ErrorIs(t, err, problem.ErrValidation)
	f, err := ParseFleetSize("INFINITE")
	require.NoError(t, err)
	assert.Equal(t, problem.Infinite, f)
}

func TestRunParamsApply(t *testing.T) {
	seed := int64(9)
	cfg, err := RunParams{
		MaxIterations: 10,
		Workers:       2,
		Seed:          &seed,
		Construction:  "best_insertion",
		Acceptance:    "greedy",
		TimeBudgetMs:  1500,
		RuinWeights:   []float64{1, 0, 0},
	}.Apply(opt.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Termination.MaxIterations)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, opt.BestInsertion, cfg.Construction)
	assert.Equal(t, opt.Greedy, cfg.Acceptance)
	assert.Equal(t, 1500*time.Millisecond, cfg.Termination.TimeBudget)
	assert.Equal(t, [3]float64{1, 0, 0}, cfg.RuinWeights)

	_, err = RunParams{Construction: "nearest"}.Apply(opt.DefaultConfig())
	assert.ErrorIs(t, err, opt.ErrConfig)
	_, err = RunParams{RuinWeights: []float64{1}}.Apply(opt.DefaultConfig())
	assert.ErrorIs(t, err, opt.ErrConfig)
}

func TestResultFrom(t *testing.T) {
	p := buildSample(t)
	cfg := opt.DefaultConfig()
	cfg.Workers = 1
	cfg.Termination = opt.Termination{MaxIterations: 20}
	res, err := opt.Solve(context.Background(), p, cfg)
	require.NoError(t, err)

	out := ResultFrom(p, res)
	assert.Equal(t, res.Best.Cost, out.Solution.Cost)
	assert.Equal(t, "max-iterations", out.Stop)
	require.Len(t, out.Solution.Routes, 1)
	r := out.Solution.Routes[0]
	assert.Equal(t, "bus", r.VehicleID)

	var rides, breaks int
	for _, a := range r.Activities {
		switch a.Type {
		case "delivery":
			require.NotNil(t, a.RideTimeSec)
			rides++
		case "break":
			assert.Nil(t, a.Location)
			breaks++
		}
		assert.LessOrEqual(t, a.Arrival, a.Begin)
		assert.LessOrEqual(t, a.Begin, a.Departure)
	}
	assert.Equal(t, 2, rides)
	assert.Equal(t, 1, breaks)
	assert.Len(t, out.History, len(res.History))
	assert.Equal(t, res.Stats.Iterations, out.Stats.Iterations)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"vehicleId":"bus"`)
}
