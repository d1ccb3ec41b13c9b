// Package matrix holds the travel time/distance table the optimizer reads.
//
// A matrix is assembled from sparse pairwise records: every cell starts out
// Unreachable (except the diagonal) and records overwrite the cells they name.
// Pairs that were never measured therefore stay forbidden instead of free.
package matrix

import (
	"errors"
	"fmt"
	"math"
)

// Unreachable marks a cell no record has been loaded for.
const Unreachable = math.MaxFloat64

var (
	// ErrBadSize is returned for a size outside [1, limit].
	ErrBadSize = errors.New("matrix: size out of range")
	// ErrOutOfRange is returned for an index outside [0, size).
	ErrOutOfRange = errors.New("matrix: index out of range")
	// ErrBadValue is returned for negative or NaN times and distances.
	ErrBadValue = errors.New("matrix: value must be a non-negative number")
)

// Cost is one cell of the matrix.
type Cost struct {
	Time     float64
	Distance float64
}

// MaxSize is the largest N a dense table is built for, whatever limit a
// caller configures.
const MaxSize = 10000

// CheckSize reports whether size lies in [1, limit]. A limit that is not
// positive or exceeds MaxSize counts as MaxSize.
func CheckSize(size, limit int) error {
	if limit <= 0 || limit > MaxSize {
		limit = MaxSize
	}
	if size <= 0 || size > limit {
		return fmt.Errorf("size %d not in [1,%d]: %w", size, limit, ErrBadSize)
	}
	return nil
}

// Reachable reports whether v is a measured value rather than the sentinel.
func Reachable(v float64) bool { return v < Unreachable }

// Matrix is an immutable N×N table. It is safe for concurrent reads.
type Matrix struct {
	size  int
	times []float64
	dists []float64
}

// Size returns N.
func (m *Matrix) Size() int { return m.size }

// Get returns cell (i,j).
func (m *Matrix) Get(i, j int) (Cost, error) {
	if i < 0 || j < 0 || i >= m.size || j >= m.size {
		return Cost{}, fmt.Errorf("get (%d,%d) size=%d: %w", i, j, m.size, ErrOutOfRange)
	}
	k := i*m.size + j
	return Cost{Time: m.times[k], Distance: m.dists[k]}, nil
}

// Time returns the travel time from i to j. Indices are validated when the
// problem is built, so an out-of-range index here panics.
func (m *Matrix) Time(i, j int) float64 { return m.times[m.index(i, j)] }

// Distance returns the travel distance from i to j; see Time.
func (m *Matrix) Distance(i, j int) float64 { return m.dists[m.index(i, j)] }

func (m *Matrix) index(i, j int) int {
	if i < 0 || j < 0 || i >= m.size || j >= m.size {
		panic(fmt.Sprintf("matrix: index (%d,%d) out of range for size %d", i, j, m.size))
	}
	return i*m.size + j
}

// Builder fills a matrix cell by cell.
type Builder struct {
	m     *Matrix
	built bool
}

// NewBuilder returns a builder for a size×size matrix with every off-diagonal
// cell set to Unreachable and the diagonal set to zero. size is at most
// MaxSize.
func NewBuilder(size int) (*Builder, error) {
	if err := CheckSize(size, MaxSize); err != nil {
		return nil, fmt.Errorf("new builder: %w", err)
	}
	n := size * size
	m := &Matrix{size: size, times: make([]float64, n), dists: make([]float64, n)}
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if i == j {
				continue
			}
			m.times[i*size+j] = Unreachable
			m.dists[i*size+j] = Unreachable
		}
	}
	return &Builder{m: m}, nil
}

// Size returns the builder's N.
func (b *Builder) Size() int { return b.m.size }

// Add overwrites cell (i,j). Later calls for the same pair win.
func (b *Builder) Add(i, j int, time, distance float64) error {
	if b.built {
		return errors.New("matrix: builder already built")
	}
	if i < 0 || j < 0 || i >= b.m.size || j >= b.m.size {
		return fmt.Errorf("add (%d,%d) size=%d: %w", i, j, b.m.size, ErrOutOfRange)
	}
	if math.IsNaN(time) || math.IsNaN(distance) || time < 0 || distance < 0 {
		return fmt.Errorf("add (%d,%d) time=%v distance=%v: %w", i, j, time, distance, ErrBadValue)
	}
	k := i*b.m.size + j
	b.m.times[k] = time
	b.m.dists[k] = distance
	return nil
}

// AddRecord is Add for a Record.
func (b *Builder) AddRecord(r Record) error {
	return b.Add(r.From, r.To, r.Time, r.Distance)
}

// Build returns the finished matrix. The builder cannot be used afterwards.
func (b *Builder) Build() *Matrix {
	b.built = true
	return b.m
}

// FromRecords builds a size×size matrix applying records in order.
func FromRecords(size int, records []Record) (*Matrix, error) {
	b, err := NewBuilder(size)
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		if err := b.AddRecord(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return b.Build(), nil
}
