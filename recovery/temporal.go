package recovery

import "context"

// Snapshotter is implemented by a running engine deployment: it produces
// a consistent Snapshot for the given epoch once every worker has
// acknowledged the epoch's barrier (§4.7 "When all workers acknowledge a
// barrier"). recovery/temporal.Coordinator drives this via a Temporal
// activity.
type Snapshotter interface {
	// Snapshot returns the state cells and source cursors to commit for
	// epoch. Called only after every worker has acknowledged the
	// barrier.
	Snapshot(ctx context.Context, epoch int64) (Snapshot, error)
}
