package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drtdispatch/internal/problem"
)

func TestFastRegretMatchesExactRegret(t *testing.T) {
	for _, fleet := range []problem.FleetSize{problem.Finite, problem.Infinite} {
		p := randomProblem(t, 21, 12, fleet)

		exact := quietConfig()
		fast := quietConfig()
		fast.FastRegret = true

		a, _ := construct(t, p, exact)
		b, _ := construct(t, p, fast)
		assert.Equal(t, a.Cost, b.Cost, "fleet %s", fleet)
		require.Len(t, b.Routes, len(a.Routes))
		for i := range a.Routes {
			assert.Equal(t, a.Routes[i].Activities, b.Routes[i].Activities)
		}
	}
}

func TestBestInsertionBuildsFeasibleSolution(t *testing.T) {
	p := randomProblem(t, 8, 10, problem.Finite)
	cfg := quietConfig()
	cfg.Construction = BestInsertion
	sol, cm := construct(t, p, cfg)
	assert.NoError(t, sol.Verify(cm))
	assert.InDelta(t, sol.RouteCost()+cfg.UnassignedPenalty*float64(len(sol.Unassigned)), sol.Cost, 1e-9)
}

func TestRegretPrefersJobWithFewAlternatives(t *testing.T) {
	// "far" only fits the big vehicle; with one alternative its regret is
	// the unassigned penalty, so it is placed first.
	p, err := problem.NewBuilder().
		SetRoutingCosts(lineMatrix(t, 4)).
		AddService("near", problem.Stop{Location: 1}, problem.Capacity{1}).
		AddService("far", problem.Stop{Location: 3}, problem.Capacity{2}).
		AddVehicle(problem.VehicleSpec{ID: "small", Capacity: problem.Capacity{1}}).
		AddVehicle(problem.VehicleSpec{ID: "big", Capacity: problem.Capacity{3}}).
		Build()
	require.NoError(t, err)

	sol, cm := construct(t, p, quietConfig())
	require.NoError(t, sol.Verify(cm))
	assert.Empty(t, sol.Unassigned)
	far := sol.routeOf(1)
	require.NotNil(t, far)
	assert.Equal(t, "big", far.VehicleID)
}

func TestInfiniteFleetOpensInstances(t *testing.T) {
	p, err := problem.NewBuilder().
		SetRoutingCosts(lineMatrix(t, 3)).
		SetFleetSize(problem.Infinite).
		AddService("a", problem.Stop{Location: 1}, problem.Capacity{1}).
		AddService("b", problem.Stop{Location: 2}, problem.Capacity{1}).
		AddVehicle(problem.VehicleSpec{ID: "cab", Capacity: problem.Capacity{1}}).
		Build()
	require.NoError(t, err)

	sol, _ := construct(t, p, quietConfig())
	require.Len(t, sol.Routes, 2)
	ids := []string{sol.Routes[0].VehicleID, sol.Routes[1].VehicleID}
	assert.ElementsMatch(t, []string{"cab#1", "cab#2"}, ids)
	assert.Empty(t, sol.Unassigned)
}

func TestBreakScheduledOnUsedRoute(t *testing.T) {
	p, err := problem.NewBuilder().
		SetRoutingCosts(lineMatrix(t, 3)).
		AddService("a", problem.Stop{Location: 2}, nil).
		AddVehicle(problem.VehicleSpec{ID: "v", Break: &problem.BreakSpec{Windows: []problem.TimeWindow{{Start: 0, End: 1000}}, Duration: 30}}).
		AddVehicle(problem.VehicleSpec{ID: "idle", Start: 2, Break: &problem.BreakSpec{Duration: 30}}).
		Build()
	require.NoError(t, err)

	sol, cm := construct(t, p, quietConfig())
	require.NoError(t, sol.Verify(cm))
	require.Len(t, sol.Routes, 1)
	r := sol.Routes[0]
	assert.True(t, r.Has(p.Vehicles[r.Vehicle].Break))
	assert.Empty(t, sol.Unassigned)
}

func TestBreakThatCannotFitIsUnassigned(t *testing.T) {
	p, err := problem.NewBuilder().
		SetRoutingCosts(lineMatrix(t, 3)).
		AddService("a", problem.Stop{Location: 2}, nil).
		AddVehicle(problem.VehicleSpec{
			ID:     "v",
			Window: &problem.TimeWindow{Start: 0, End: 50},
			Break:  &problem.BreakSpec{Duration: 30},
		}).
		Build()
	require.NoError(t, err)

	cfg := quietConfig()
	cfg.Workers = 1
	cfg.Termination = Termination{MaxIterations: 5}
	res, err := Solve(context.Background(), p, cfg)
	require.NoError(t, err)

	require.Len(t, res.Best.Routes, 1)
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "v-break", res.Unassigned[0].JobID)
	assert.Equal(t, "break does not fit the route schedule", res.Unassigned[0].Reason)
}
