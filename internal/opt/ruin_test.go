package opt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drtdispatch/internal/problem"
)

func TestRuinCountBounds(t *testing.T) {
	cfg := quietConfig()
	ru := &ruiner{cfg: &cfg, rng: rand.New(rand.NewSource(1))}
	for i := 0; i < 200; i++ {
		k := ru.count(10)
		assert.GreaterOrEqual(t, k, 1)
		assert.LessOrEqual(t, k, 3)
	}
	assert.Equal(t, 1, ru.count(1))
}

func TestRuinStrategiesKeepRoutesFeasible(t *testing.T) {
	p := randomProblem(t, 13, 10, problem.Finite)
	cfg := quietConfig()
	cfg.StretchFactor = 1.3
	cfg.FixedSlack = 0
	base, cm := construct(t, p, cfg)
	before := len(customerJobs(base))
	require.Positive(t, before)

	for _, s := range []RuinStrategy{RandomRuin, RadialRuin, WorstRuin} {
		sol := base.Clone()
		ru := &ruiner{p: p, cm: cm, cfg: &cfg, rng: rand.New(rand.NewSource(3))}
		removed := ru.ruin(sol, s)
		assert.NotEmpty(t, removed, "strategy %s", s)
		sol.settle()
		assert.NoError(t, sol.Verify(cm), "strategy %s", s)
		assert.Equal(t, before-len(removed), len(customerJobs(sol)), "strategy %s", s)
		for _, j := range removed {
			assert.Nil(t, sol.routeOf(j))
		}
		// the clone left the source untouched
		assert.Equal(t, before, len(customerJobs(base)))
	}
}

func TestRadialRuinTakesNeighbours(t *testing.T) {
	p, err := problem.NewBuilder().
		SetRoutingCosts(lineMatrix(t, 10)).
		AddService("s1", problem.Stop{Location: 1}, nil).
		AddService("s2", problem.Stop{Location: 2}, nil).
		AddService("s8", problem.Stop{Location: 8}, nil).
		AddService("s9", problem.Stop{Location: 9}, nil).
		AddVehicle(problem.VehicleSpec{ID: "v"}).
		Build()
	require.NoError(t, err)

	cfg := quietConfig()
	ru := &ruiner{p: p, cfg: &cfg, rng: rand.New(rand.NewSource(5))}
	for i := 0; i < 20; i++ {
		got := ru.radial([]int{0, 1, 2, 3}, 2)
		require.Len(t, got, 2)
		pair := got[0] + got[1]
		// {s1,s2} or {s8,s9}
		assert.True(t, pair == 1 || pair == 5, "got %v", got)
	}
}

func TestPickFollowsWeights(t *testing.T) {
	cfg := quietConfig()
	cfg.RuinWeights = [3]float64{0, 1, 0}
	ru := &ruiner{cfg: &cfg, rng: rand.New(rand.NewSource(1))}
	for i := 0; i < 50; i++ {
		assert.Equal(t, RadialRuin, ru.pick())
	}
}

func TestRuinEmptiedRouteIsReopenedOnce(t *testing.T) {
	p, err := problem.NewBuilder().
		SetRoutingCosts(lineMatrix(t, 4)).
		AddShipment("a", problem.Stop{Location: 1}, problem.Stop{Location: 3}, problem.Capacity{1}, 0).
		AddVehicle(problem.VehicleSpec{ID: "v", Capacity: problem.Capacity{1}}).
		Build()
	require.NoError(t, err)
	cfg := quietConfig()
	base, cm := construct(t, p, cfg)
	require.Len(t, base.Routes, 1)
	require.Empty(t, base.Unassigned)

	for _, s := range []RuinStrategy{RandomRuin, RadialRuin, WorstRuin} {
		sol := base.Clone()
		ru := &ruiner{p: p, cm: cm, cfg: &cfg, rng: rand.New(rand.NewSource(7))}
		removed := ru.ruin(sol, s)
		require.Equal(t, []int{0}, removed, "strategy %s", s)
		assert.Empty(t, sol.Routes, "strategy %s", s)

		rc := newRecreator(p, cm, &cfg, rand.New(rand.NewSource(7)))
		rc.recreate(sol, removed)
		require.Len(t, sol.Routes, 1, "strategy %s", s)
		assert.NoError(t, sol.Verify(cm), "strategy %s", s)
		assert.InDelta(t, base.Cost, sol.Cost, 1e-9, "strategy %s", s)
	}
}
