// Package rng hands out deterministic random streams. Stream (seed, i) is a
// PCG generator keyed by the scenario seed and the replication index, so no
// stream is ever shared and results do not depend on scheduling.
package rng

import (
	"math/rand/v2"

	"trialcheck/ports"
)

// PCGAdapter implements ports.RNGPort with math/rand/v2 PCG streams.
type PCGAdapter struct{}

var _ ports.RNGPort = PCGAdapter{}

// New returns the default stream factory.
func New() PCGAdapter { return PCGAdapter{} }

// Source returns the PCG source for replication i of seed.
func (PCGAdapter) Source(seed uint64, replication int) rand.Source {
	return rand.NewPCG(seed, splitmix(uint64(replication)))
}

// Stream returns a generator over Source(seed, replication).
func (a PCGAdapter) Stream(seed uint64, replication int) *rand.Rand {
	return rand.New(a.Source(seed, replication))
}

// splitmix spreads consecutive replication indices across the PCG stream space.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
