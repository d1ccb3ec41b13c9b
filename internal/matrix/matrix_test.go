package matrix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuilderDefaults(t *testing.T) {
	b, err := NewBuilder(4)
	require.NoError(t, err)
	m := b.Build()

	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			c, err := m.Get(i, j)
			require.NoError(t, err)
			if i == j {
				assert.Equal(t, Cost{}, c, "diagonal (%d,%d)", i, j)
				continue
			}
			assert.Equal(t, Cost{Time: Unreachable, Distance: Unreachable}, c, "cell (%d,%d)", i, j)
			assert.False(t, Reachable(c.Time))
		}
	}
}

func TestNewBuilderBadSize(t *testing.T) {
	for _, size := range []int{0, -3, MaxSize + 1, 1 << 30} {
		_, err := NewBuilder(size)
		assert.ErrorIs(t, err, ErrBadSize, "size %d", size)
	}
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(50, 50))
	assert.ErrorIs(t, CheckSize(51, 50), ErrBadSize)
	assert.NoError(t, CheckSize(MaxSize, 0))
	assert.ErrorIs(t, CheckSize(MaxSize+1, 1<<30), ErrBadSize)

	recs := []Record{{From: 0, To: 4_000_000, Time: 1, Distance: 1}}
	_, err := FromRecords(SizeOf(recs), recs)
	assert.ErrorIs(t, err, ErrBadSize)
}

func TestAddLastWriteWins(t *testing.T) {
	b, err := NewBuilder(3)
	require.NoError(t, err)

	require.NoError(t, b.Add(0, 1, 5, 50))
	require.NoError(t, b.Add(0, 1, 5, 50))
	m := b.m
	c, _ := m.Get(0, 1)
	assert.Equal(t, Cost{Time: 5, Distance: 50}, c)

	require.NoError(t, b.Add(0, 1, 7, 70))
	c, _ = m.Get(0, 1)
	assert.Equal(t, Cost{Time: 7, Distance: 70}, c)

	// asymmetric: the reverse pair is untouched
	c, _ = m.Get(1, 0)
	assert.False(t, Reachable(c.Time))
}

func TestAddRejectsBadInput(t *testing.T) {
	b, err := NewBuilder(2)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Add(2, 0, 1, 1), ErrOutOfRange)
	assert.ErrorIs(t, b.Add(0, -1, 1, 1), ErrOutOfRange)
	assert.ErrorIs(t, b.Add(0, 1, -1, 1), ErrBadValue)
}

func TestGetOutOfRange(t *testing.T) {
	b, _ := NewBuilder(2)
	m := b.Build()
	_, err := m.Get(2, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Panics(t, func() { m.Time(0, 5) })
}

func TestReadCSVAndFromRecords(t *testing.T) {
	in := "from,to,time,distance\n0,1,10,100\n1,2,20,200\n\n0,1,12,120\n"
	recs, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 3, SizeOf(recs))

	m, err := FromRecords(SizeOf(recs), recs)
	require.NoError(t, err)
	assert.Equal(t, 12.0, m.Time(0, 1))
	assert.Equal(t, 200.0, m.Distance(1, 2))
	assert.Equal(t, 0.0, m.Time(2, 2))
	assert.False(t, Reachable(m.Time(2, 0)))
}

func TestReadCSVMalformed(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("0,1,10,100\n1,x,2,3\n"))
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("0,1,10\n"))
	assert.Error(t, err)
}
