// Package testing provides an in-memory DynamicSink reference driver,
// grounded on bytewax's TestingSink (original_source/pytests
// operators/test_stateful_map.py), used by §8's scenario tests.
package testing

import (
	"context"
	"sync"

	"github.com/flowcore-dev/flowcore/sink"
)

// Sink collects every written item, in write order, for later assertion.
// Safe for concurrent WriteBatch calls from multiple worker partitions.
type Sink struct {
	mu    sync.Mutex
	items []any
}

// New returns an empty Sink.
func New() *Sink { return &Sink{} }

// Build implements sink.DynamicSink; every worker shares the same
// underlying item slice, matching TestingSink's single global list.
func (s *Sink) Build(context.Context, int, int) (sink.SinkPartition, error) {
	return &Partition{sink: s}, nil
}

// Items returns every item written so far, in write order.
func (s *Sink) Items() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.items))
	copy(out, s.items)
	return out
}

// Partition is the sink.SinkPartition Sink.Build returns.
type Partition struct {
	sink *Sink
}

// WriteBatch implements sink.SinkPartition.
func (p *Partition) WriteBatch(_ context.Context, items []any) error {
	p.sink.mu.Lock()
	defer p.sink.mu.Unlock()
	p.sink.items = append(p.sink.items, items...)
	return nil
}

// Close implements sink.SinkPartition; a Partition holds no resources.
func (p *Partition) Close(context.Context) error { return nil }
