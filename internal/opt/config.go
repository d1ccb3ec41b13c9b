package opt

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

// ErrConfig wraps every invalid engine setting.
var ErrConfig = errors.New("opt: invalid config")

// Construction selects the recreate strategy.
type Construction int

const (
	RegretInsertion Construction = iota
	BestInsertion
)

func (c Construction) String() string {
	if c == BestInsertion {
		return "best_insertion"
	}
	return "regret_insertion"
}

// ParseConstruction accepts the names printed by String.
func ParseConstruction(s string) (Construction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "regret_insertion", "regret":
		return RegretInsertion, nil
	case "best_insertion", "best":
		return BestInsertion, nil
	}
	return 0, fmt.Errorf("%w: unknown construction %q", ErrConfig, s)
}

// Acceptance selects how a worker decides to keep a worse candidate.
type Acceptance int

const (
	Annealing Acceptance = iota
	Greedy
	Threshold
)

func (a Acceptance) String() string {
	switch a {
	case Greedy:
		return "greedy"
	case Threshold:
		return "threshold"
	}
	return "annealing"
}

// ParseAcceptance accepts the names printed by String.
func ParseAcceptance(s string) (Acceptance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "annealing", "sa":
		return Annealing, nil
	case "greedy":
		return Greedy, nil
	case "threshold", "schrimpf":
		return Threshold, nil
	}
	return 0, fmt.Errorf("%w: unknown acceptance %q", ErrConfig, s)
}

// RuinStrategy names a removal operator.
type RuinStrategy int

const (
	RandomRuin RuinStrategy = iota
	RadialRuin
	WorstRuin
)

var ruinNames = [...]string{"random", "radial", "worst"}

func (r RuinStrategy) String() string { return ruinNames[r] }

// Config tunes one optimisation run. The zero value of a field means
// "use the default" wherever that is meaningful.
type Config struct {
	Workers      int
	Seed         int64
	Construction Construction
	// FastRegret caches per-route insertion costs between regret rounds.
	FastRegret bool
	RegretK    int

	UnassignedPenalty float64

	StretchFactor float64
	FixedSlack    float64

	// RuinWeights are the selection weights of random, radial and worst
	// removal.
	RuinWeights  [3]float64
	RuinMinShare float64
	RuinMaxShare float64
	// WorstNoise randomises worst removal: savings are scaled by up to
	// 1+WorstNoise.
	WorstNoise float64

	Acceptance Acceptance
	// InitialTemp <= 0 derives the temperature from the initial route cost.
	InitialTemp      float64
	Cooling          float64
	InitialThreshold float64
	ThresholdAlpha   float64

	Termination Termination

	Logger     *log.Logger
	LogEvery   int
	OnProgress func(Progress)
}

// DefaultConfig returns the settings used by the CLI and the API when
// nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		Seed:              42,
		Construction:      RegretInsertion,
		RegretK:           2,
		UnassignedPenalty: 1e6,
		StretchFactor:     1.5,
		FixedSlack:        600,
		RuinWeights:       [3]float64{0.4, 0.4, 0.2},
		RuinMinShare:      0.1,
		RuinMaxShare:      0.3,
		WorstNoise:        0.1,
		Acceptance:        Annealing,
		Cooling:           0.995,
		ThresholdAlpha:    0.1,
		Termination:       Termination{MaxIterations: 2000},
		LogEvery:          100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.RegretK == 0 {
		c.RegretK = d.RegretK
	}
	if c.UnassignedPenalty == 0 {
		c.UnassignedPenalty = d.UnassignedPenalty
	}
	if c.StretchFactor == 0 {
		c.StretchFactor = d.StretchFactor
	}
	if c.RuinWeights == [3]float64{} {
		c.RuinWeights = d.RuinWeights
	}
	if c.RuinMinShare == 0 && c.RuinMaxShare == 0 {
		c.RuinMinShare, c.RuinMaxShare = d.RuinMinShare, d.RuinMaxShare
	}
	if c.Cooling == 0 {
		c.Cooling = d.Cooling
	}
	if c.ThresholdAlpha == 0 {
		c.ThresholdAlpha = d.ThresholdAlpha
	}
	if c.Termination == (Termination{}) {
		c.Termination = d.Termination
	}
	return c
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if c.Workers < 1 {
		bad("workers %d < 1", c.Workers)
	}
	if c.RegretK < 2 {
		bad("regret k %d < 2", c.RegretK)
	}
	if c.UnassignedPenalty < 0 {
		bad("negative unassigned penalty")
	}
	if c.StretchFactor < 1 {
		bad("stretch factor %v < 1", c.StretchFactor)
	}
	if c.FixedSlack < 0 {
		bad("negative fixed slack")
	}
	sum := 0.0
	for i, w := range c.RuinWeights {
		if w < 0 {
			bad("negative weight for %s ruin", RuinStrategy(i))
		}
		sum += w
	}
	if sum <= 0 {
		bad("ruin weights sum to zero")
	}
	if c.RuinMinShare <= 0 || c.RuinMaxShare > 1 || c.RuinMinShare > c.RuinMaxShare {
		bad("ruin share [%v,%v] outside (0,1]", c.RuinMinShare, c.RuinMaxShare)
	}
	if c.WorstNoise < 0 {
		bad("negative worst-removal noise")
	}
	if c.Cooling <= 0 || c.Cooling > 1 {
		bad("cooling %v outside (0,1]", c.Cooling)
	}
	if err := c.Termination.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}

func (c Config) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
