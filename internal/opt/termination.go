package opt

import (
	"errors"
	"math"
	"time"
)

// StopReason says why a search ended.
type StopReason string

const (
	StopMaxIterations StopReason = "max-iterations"
	StopNoImprovement StopReason = "no-improvement"
	StopVariation     StopReason = "variation-coefficient"
	StopTimeBudget    StopReason = "time-budget"
	StopCancelled     StopReason = "cancelled"
	StopNoJobs        StopReason = "nothing-to-optimise"
)

// Termination combines the stop criteria; the first one met ends the run.
// Zero fields are disabled.
type Termination struct {
	MaxIterations int
	// NoImprovement stops after that many iterations without a new best.
	NoImprovement int
	// VariationWindow and VariationThreshold stop once the coefficient of
	// variation of the last VariationWindow best costs drops below the
	// threshold.
	VariationWindow    int
	VariationThreshold float64
	TimeBudget         time.Duration
}

func (t Termination) validate() error {
	if t.MaxIterations < 0 || t.NoImprovement < 0 || t.VariationWindow < 0 || t.TimeBudget < 0 {
		return errors.New("negative termination setting")
	}
	if t.VariationWindow == 1 {
		return errors.New("variation window needs at least 2 iterations")
	}
	if (t.VariationWindow > 0) != (t.VariationThreshold > 0) {
		return errors.New("variation window and threshold go together")
	}
	return nil
}

// progress is the shared view the criteria are evaluated on.
type progress struct {
	completed        int
	sinceImprovement int
	bestCosts        []float64
	elapsed          time.Duration
}

// exhausted reports whether no further iteration may start.
func (t Termination) exhausted(started int, elapsed time.Duration) (StopReason, bool) {
	if t.MaxIterations > 0 && started >= t.MaxIterations {
		return StopMaxIterations, true
	}
	if t.TimeBudget > 0 && elapsed >= t.TimeBudget {
		return StopTimeBudget, true
	}
	return "", false
}

// met evaluates the criteria after an iteration completed.
func (t Termination) met(pr progress) (StopReason, bool) {
	if t.MaxIterations > 0 && pr.completed >= t.MaxIterations {
		return StopMaxIterations, true
	}
	if t.NoImprovement > 0 && pr.sinceImprovement >= t.NoImprovement {
		return StopNoImprovement, true
	}
	if t.VariationWindow > 0 && len(pr.bestCosts) >= t.VariationWindow {
		if variation(pr.bestCosts[len(pr.bestCosts)-t.VariationWindow:]) < t.VariationThreshold {
			return StopVariation, true
		}
	}
	if t.TimeBudget > 0 && pr.elapsed >= t.TimeBudget {
		return StopTimeBudget, true
	}
	return "", false
}

// variation is the coefficient of variation (stddev/mean) of xs.
func variation(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean == 0 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss/float64(len(xs))) / math.Abs(mean)
}
