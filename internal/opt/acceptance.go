package opt

import (
	"math"
	"math/rand"
)

// acceptor decides whether a worker moves to a candidate solution. Each
// worker owns one; the temperature is worker-local.
type acceptor struct {
	kind      Acceptance
	temp      float64
	cool      float64
	threshold float64
	alpha     float64
	horizon   int
}

func newAcceptor(cfg *Config, initialCost float64) *acceptor {
	a := &acceptor{
		kind:      cfg.Acceptance,
		temp:      cfg.InitialTemp,
		cool:      cfg.Cooling,
		threshold: cfg.InitialThreshold,
		alpha:     cfg.ThresholdAlpha,
		horizon:   cfg.Termination.MaxIterations,
	}
	base := math.Max(1, initialCost)
	if a.temp <= 0 {
		a.temp = 0.01 * base
	}
	if a.threshold <= 0 {
		a.threshold = 0.05 * base
	}
	if a.horizon <= 0 {
		a.horizon = 1000
	}
	return a
}

// accept compares the candidate cost with the worker's current cost at the
// given global iteration.
func (a *acceptor) accept(candidate, current float64, iter int, rng *rand.Rand) bool {
	delta := candidate - current
	switch a.kind {
	case Greedy:
		return delta < 0
	case Threshold:
		// Schrimpf: the threshold halves every alpha share of the horizon.
		t := a.threshold * math.Exp(-math.Ln2*float64(iter)/float64(a.horizon)/a.alpha)
		return delta < t
	default:
		return delta < 0 || rng.Float64() < math.Exp(-delta/(a.temp+1e-9))
	}
}

func (a *acceptor) step() { a.temp *= a.cool }
