// Package sink defines the DynamicSink/StatelessSink contract external
// output connectors implement (§6).
package sink

import "context"

// DynamicSink constructs one SinkPartition per worker. A StatelessSink is
// simply a DynamicSink whose Build ignores workerIndex/workerCount and
// always returns an equivalent SinkPartition.
type DynamicSink interface {
	// Build constructs this worker's SinkPartition.
	Build(ctx context.Context, workerIndex, workerCount int) (SinkPartition, error)
}

// SinkPartition writes batches for one worker. WriteBatch must tolerate
// repeated delivery of the same items after a resume (§6: at-least-once).
type SinkPartition interface {
	WriteBatch(ctx context.Context, items []any) error
	// Close flushes any buffered writes before returning.
	Close(ctx context.Context) error
}
