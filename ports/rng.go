package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(name string, seed int64) *rand.Rand

	// ChunkStream creates the stream for one chunk of a batched run. The same
	// (seed, chunk index, strategy) always yields the same stream regardless of
	// how many chunks run concurrently.
	ChunkStream(seed int64, chunkIndex int, strategy string) *rand.Rand
}
