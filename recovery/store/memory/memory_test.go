package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore-dev/flowcore/recovery"
	"github.com/flowcore-dev/flowcore/recovery/store/memory"
)

func TestStore_CommittedEpoch_NoneYet(t *testing.T) {
	s := memory.New()
	_, ok, err := s.CommittedEpoch(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CommitThenLoad_RoundTrips(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	snap := recovery.Snapshot{
		FlowID: "flow-1",
		Epoch:  3,
		Cells: []recovery.CellSnapshot{
			{StepID: "running_mean", Key: "ALL", Bytes: []byte("acc-bytes")},
		},
		Cursors: []recovery.CursorSnapshot{
			{SourceStepID: "inp", PartitionKey: "single", Bytes: []byte{0, 0, 0, 0, 0, 0, 0, 5}},
		},
	}
	require.NoError(t, s.Commit(ctx, snap))

	epoch, ok, err := s.CommittedEpoch(ctx, "flow-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), epoch)

	loaded, err := s.Load(ctx, "flow-1", epoch)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestStore_Commit_AdvancesPointerButKeepsPriorSnapshotLoadable(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, recovery.Snapshot{FlowID: "f", Epoch: 1}))
	require.NoError(t, s.Commit(ctx, recovery.Snapshot{FlowID: "f", Epoch: 2}))

	epoch, ok, err := s.CommittedEpoch(ctx, "f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), epoch)

	_, err = s.Load(ctx, "f", 1)
	assert.NoError(t, err)
}

func TestStore_Load_UnknownEpochErrors(t *testing.T) {
	s := memory.New()
	_, err := s.Load(context.Background(), "flow-1", 99)
	assert.Error(t, err)
}
