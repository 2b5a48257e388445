// Package recovery defines the snapshot store contract the epoch
// coordinator commits against (C8, §4.7): state-cell and source-cursor
// bytes keyed by epoch, plus a single write-then-publish committed-epoch
// pointer a resuming worker reads back.
package recovery

import "context"

// CellSnapshot is one (step_id, key) state cell captured at an epoch
// boundary, alongside the source cursors captured in the same Commit
// (§4.6 "Snapshot", §4.7).
type CellSnapshot struct {
	StepID string
	Key    string
	Bytes  []byte
}

// CursorSnapshot is one source partition's resume cursor captured at an
// epoch boundary.
type CursorSnapshot struct {
	SourceStepID string
	PartitionKey string
	Bytes        []byte
}

// Snapshot is everything committed for one epoch: every live state cell
// across every worker, plus every source partition's cursor.
type Snapshot struct {
	FlowID  string
	Epoch   int64
	Cells   []CellSnapshot
	Cursors []CursorSnapshot
}

// Store is the snapshot store contract (§4.7): write the epoch's
// payload, then publish it as the new committed-epoch pointer. A Commit
// that fails after writing the payload but before publishing the
// pointer leaves the prior epoch committed — at-least-once, never
// partially-once.
//
// Implementations must make Commit safe to call from the single
// coordinator goroutine only; concurrent Commits for the same FlowID are
// not a contract this interface makes safe.
type Store interface {
	// Commit durably writes snap, then publishes snap.Epoch as the new
	// committed-epoch pointer for snap.FlowID.
	Commit(ctx context.Context, snap Snapshot) error
	// CommittedEpoch returns the latest committed epoch for flowID, or
	// ok=false if nothing has ever been committed.
	CommittedEpoch(ctx context.Context, flowID string) (epoch int64, ok bool, err error)
	// Load returns the full snapshot committed at epoch for flowID. It
	// is an error to Load an epoch other than the one CommittedEpoch
	// reports; stores are not required to retain superseded epochs.
	Load(ctx context.Context, flowID string, epoch int64) (Snapshot, error)
}
