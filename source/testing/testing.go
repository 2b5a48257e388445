// Package testing provides an in-memory PartitionedSource reference
// driver, grounded on bytewax's TestingSource (original_source/examples
// basic.py, pytests/operators/test_stateful_map.py). It exists for
// FlowCore's own tests and for a caller's scenario tests (§8); it is not
// part of the stable core contract (§6).
package testing

import (
	"context"
	"sync"

	"github.com/flowcore-dev/flowcore/source"
)

// Source is a single-partition PartitionedSource that replays a fixed,
// in-memory list of items once, then reports no more data.
type Source struct {
	items     []any
	batchSize int
}

// New returns a Source that replays items, one item per batch by
// default. Use WithBatchSize to change the batch size.
func New(items []any) *Source {
	return &Source{items: items, batchSize: 1}
}

// WithBatchSize sets how many items NextBatch returns at a time.
func (s *Source) WithBatchSize(n int) *Source {
	s.batchSize = n
	return s
}

// ListParts implements source.PartitionedSource; a Source always has a
// single partition named "single".
func (s *Source) ListParts(context.Context) ([]string, error) {
	return []string{"single"}, nil
}

// BuildPart implements source.PartitionedSource. resume, when it is 8
// bytes long, is the little-endian item offset to resume from, as
// Partition.Snapshot encodes it; any other resume starts at offset 0.
func (s *Source) BuildPart(_ context.Context, _ string, resume []byte) (source.Partition, error) {
	offset := 0
	if len(resume) == 8 {
		offset = int(decodeUint64(resume))
	}
	return &Partition{items: s.items, batchSize: s.batchSize, offset: offset}, nil
}

// Partition is the source.Partition Source.BuildPart returns.
type Partition struct {
	mu        sync.Mutex
	items     []any
	batchSize int
	offset    int
}

// NextBatch implements source.Partition, returning up to batchSize items
// starting at the current offset, or an empty batch once exhausted.
func (p *Partition) NextBatch(context.Context) ([]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offset >= len(p.items) {
		return nil, nil
	}
	end := p.offset + p.batchSize
	if end > len(p.items) {
		end = len(p.items)
	}
	batch := p.items[p.offset:end]
	p.offset = end
	return batch, nil
}

// Snapshot implements source.Partition, returning the current offset.
func (p *Partition) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return encodeUint64(uint64(p.offset)), nil
}

// Close implements source.Partition; a Partition holds no resources.
func (p *Partition) Close(context.Context) error { return nil }

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
