package testkit

import (
	"context"
	"sync"

	"trialsynth/domain/vitals"
	"trialsynth/ports"
)

// MemoryReferenceSource serves a fixed reference table
type MemoryReferenceSource struct {
	Table vitals.Table
	Err   error
}

var _ ports.ReferenceSource = (*MemoryReferenceSource)(nil)

// NewMemoryReferenceSource wraps a table as a reference source
func NewMemoryReferenceSource(table vitals.Table) *MemoryReferenceSource {
	return &MemoryReferenceSource{Table: table}
}

// LoadReference returns a copy of the stored table
func (s *MemoryReferenceSource) LoadReference(ctx context.Context) (vitals.Table, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Table.Clone(), nil
}

// MemorySink records streamed chunks in arrival order
type MemorySink struct {
	mu      sync.Mutex
	Indexes []int
	Chunks  []vitals.Table
	Closed  bool
	// FailAt makes WriteChunk fail for that chunk index when non-negative
	FailAt int
	Err    error
}

var _ ports.ChunkSink = (*MemorySink)(nil)

// NewMemorySink creates an empty sink
func NewMemorySink() *MemorySink {
	return &MemorySink{FailAt: -1}
}

// WriteChunk stores the chunk
func (s *MemorySink) WriteChunk(ctx context.Context, index int, chunk vitals.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == s.FailAt {
		return s.Err
	}
	s.Indexes = append(s.Indexes, index)
	s.Chunks = append(s.Chunks, chunk.Clone())
	return nil
}

// Close marks the sink closed
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Rows concatenates every stored chunk
func (s *MemorySink) Rows() vitals.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out vitals.Table
	for _, c := range s.Chunks {
		out = append(out, c...)
	}
	return out
}

// ReferenceTable is a shortcut for generating the default reference fixture
func ReferenceTable(mutate func(*ReferenceGeneratorConfig)) vitals.Table {
	cfg := DefaultReferenceConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewReferenceGenerator(cfg).Generate()
}
