// Package source defines the PartitionedSource contract external input
// connectors implement (§6). The engine (C6) calls ListParts once per
// input step before its workers start, assigns partitions across
// workers, and polls each owned Partition cooperatively.
package source

import "context"

// PartitionedSource enumerates and constructs partitions. A single
// PartitionedSource value is shared read-only across every worker;
// BuildPart is called once per partition key, on whichever worker is
// assigned that key.
type PartitionedSource interface {
	// ListParts enumerates every partition key. engine.Run calls it once
	// per input step, not once per worker, and splits the returned keys
	// across workers.
	ListParts(ctx context.Context) ([]string, error)
	// BuildPart constructs the Partition for key, restoring from resume
	// (the bytes last returned by that partition's Snapshot) when
	// resume is non-nil.
	BuildPart(ctx context.Context, key string, resume []byte) (Partition, error)
}

// Partition is a single input partition, owned exclusively by one
// worker at a time; reassignment only happens at epoch boundaries (§5).
type Partition interface {
	// NextBatch returns the next batch of items, or an empty batch when
	// no data is available yet — the engine moves on to the next
	// partition rather than blocking (§5 suspension point (a)).
	NextBatch(ctx context.Context) ([]any, error)
	// Snapshot returns an opaque cursor to resume from, or nil if this
	// partition has no resumable cursor concept.
	Snapshot() ([]byte, error)
	// Close releases any resources held by the partition.
	Close(ctx context.Context) error
}
