package opt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := quietConfig()

	cfg.Acceptance = Greedy
	g := newAcceptor(&cfg, 100)
	assert.True(t, g.accept(9, 10, 1, rng))
	assert.False(t, g.accept(10, 10, 1, rng))

	cfg.Acceptance = Annealing
	cfg.InitialTemp = 1e-12
	sa := newAcceptor(&cfg, 100)
	assert.True(t, sa.accept(9, 10, 1, rng))
	assert.False(t, sa.accept(20, 10, 1, rng))

	cfg.Acceptance = Threshold
	cfg.InitialThreshold = 10
	cfg.Termination = Termination{MaxIterations: 100}
	th := newAcceptor(&cfg, 100)
	assert.True(t, th.accept(15, 10, 0, rng))
	// after the whole horizon the threshold has halved ten times
	assert.False(t, th.accept(15, 10, 100, rng))
}
