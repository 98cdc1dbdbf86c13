package rng

import (
	"math/rand"
	"strconv"
)

// Streams implements ports.RNGPort with deterministic, named seeding
type Streams struct{}

// NewStreams returns the stream factory
func NewStreams() *Streams {
	return &Streams{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (s *Streams) SeededStream(name string, seed int64) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(seed, name)))
}

// ChunkStream derives the stream for one chunk from (seed, chunk index, strategy)
func (s *Streams) ChunkStream(seed int64, chunkIndex int, strategy string) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(seed, strategy, "chunk", strconv.Itoa(chunkIndex))))
}

// DeriveSeed folds each key into the base seed and scrambles the result so
// that neighbouring chunk indexes land on unrelated sources.
func DeriveSeed(base int64, keys ...string) int64 {
	h := uint64(base)
	for _, k := range keys {
		h = mix(h ^ uint64(hashString(k)))
	}
	return int64(h)
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}

// mix is the splitmix64 finalizer
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
