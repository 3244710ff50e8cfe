package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Source returns the independent source for replication i of a calibration
	// seeded with seed. Identical (seed, i) always yields an identical stream.
	Source(seed uint64, replication int) rand.Source

	// Stream wraps Source in a *rand.Rand.
	Stream(seed uint64, replication int) *rand.Rand
}
