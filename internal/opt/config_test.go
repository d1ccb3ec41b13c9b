package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.RegretK = 1
	cfg.RuinMinShare = 0.5
	cfg.RuinMaxShare = 0.2
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "regret k 1 < 2")
	assert.Contains(t, err.Error(), "ruin share")

	c, err := ParseConstruction("best_insertion")
	require.NoError(t, err)
	assert.Equal(t, BestInsertion, c)
	_, err = ParseConstruction("cheapest")
	assert.ErrorIs(t, err, ErrConfig)

	a, err := ParseAcceptance("schrimpf")
	require.NoError(t, err)
	assert.Equal(t, Threshold, a)
}
