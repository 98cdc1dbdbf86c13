package ports

import (
	"context"

	"trialsynth/domain/vitals"
)

// ChunkSink receives generated chunks in chunk order as they complete
type ChunkSink interface {
	WriteChunk(ctx context.Context, index int, chunk vitals.Table) error
	Close() error
}
