package opt

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/problem"
)

// lineMatrix places n locations on a line, 10 units apart.
func lineMatrix(t *testing.T, n int) *matrix.Matrix {
	t.Helper()
	b, err := matrix.NewBuilder(n)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := math.Abs(float64(i-j)) * 10
			require.NoError(t, b.Add(i, j, d, d))
		}
	}
	return b.Build()
}

// symmetricMatrix builds a matrix from the upper triangle given as
// {i, j, value}; time and distance are equal.
func symmetricMatrix(t *testing.T, n int, cells [][3]float64) *matrix.Matrix {
	t.Helper()
	b, err := matrix.NewBuilder(n)
	require.NoError(t, err)
	for _, c := range cells {
		i, j := int(c[0]), int(c[1])
		require.NoError(t, b.Add(i, j, c[2], c[2]))
		require.NoError(t, b.Add(j, i, c[2], c[2]))
	}
	return b.Build()
}

// randomProblem scatters shipments on a 100x100 plane around a depot at
// location 0.
func randomProblem(t *testing.T, seed int64, shipments int, fleet problem.FleetSize) *problem.Problem {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	n := 2*shipments + 1
	pts := make([][2]float64, n)
	for i := range pts {
		pts[i] = [2]float64{rng.Float64() * 100, rng.Float64() * 100}
	}
	mb, err := matrix.NewBuilder(n)
	require.NoError(t, err)
	for i := range pts {
		for j := range pts {
			d := math.Round(math.Hypot(pts[i][0]-pts[j][0], pts[i][1]-pts[j][1]))
			require.NoError(t, mb.Add(i, j, d, d))
		}
	}

	b := problem.NewBuilder().SetRoutingCosts(mb.Build()).SetFleetSize(fleet)
	for s := 0; s < shipments; s++ {
		open := rng.Float64() * 300
		b.AddShipment(fmt.Sprintf("s%d", s),
			problem.Stop{Location: 1 + 2*s, Duration: 2, Windows: []problem.TimeWindow{{Start: open, End: open + 150}}},
			problem.Stop{Location: 2 + 2*s, Duration: 2},
			problem.Capacity{1}, 0)
	}
	costs := problem.Costs{Fixed: 100, PerDistance: 1, PerTime: 0.5, PerWaitingTime: 0.2}
	v1 := problem.VehicleSpec{ID: "v1", Capacity: problem.Capacity{3}, Costs: &costs}
	if fleet == problem.Finite {
		v1.Break = &problem.BreakSpec{Windows: []problem.TimeWindow{{Start: 100, End: 400}}, Duration: 15}
	}
	b.AddVehicle(v1)
	b.AddVehicle(problem.VehicleSpec{ID: "v2", Capacity: problem.Capacity{2}, Costs: &costs})
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func allJobs(p *problem.Problem) []int {
	out := make([]int, len(p.Jobs))
	for j := range out {
		out[j] = j
	}
	return out
}

// construct runs the configured construction alone.
func construct(t *testing.T, p *problem.Problem, cfg Config) (*Solution, *ConstraintManager) {
	t.Helper()
	cfg = cfg.withDefaults()
	require.NoError(t, cfg.Validate())
	cm := NewConstraintManager(p, cfg.StretchFactor, cfg.FixedSlack)
	rc := newRecreator(p, cm, &cfg, rand.New(rand.NewSource(cfg.Seed)))
	sol := newSolution(p, cfg.UnassignedPenalty)
	rc.recreate(sol, insertable(p, allJobs(p)))
	return sol, cm
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.LogEvery = 0
	return cfg
}
