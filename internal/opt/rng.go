package opt

import "math/rand"

// deriveSeed mixes a parent seed and a stream id (SplitMix64 finalizer).
func deriveSeed(parent int64, stream uint64) int64 {
	x := uint64(parent) ^ (stream + 0x9e3779b97f4a7c15)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// deriveRNG returns an independent stream for worker w. It consumes one
// value of base, so derivations must happen in a fixed order.
// math/rand.Rand is not goroutine-safe: one stream per worker.
func deriveRNG(base *rand.Rand, w int) *rand.Rand {
	return rand.New(rand.NewSource(deriveSeed(base.Int63(), uint64(w))))
}
