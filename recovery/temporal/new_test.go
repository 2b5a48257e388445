package temporal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowcore-dev/flowcore/recovery"
	"github.com/flowcore-dev/flowcore/recovery/store/memory"
	flowtemporal "github.com/flowcore-dev/flowcore/recovery/temporal"
)

func TestNew_RequiresClient(t *testing.T) {
	_, err := flowtemporal.New(flowtemporal.Options{TaskQueue: "q", Store: memory.New(), Snapshotter: nopSnapshotter{}})
	assert.Error(t, err)
}

func TestNew_RequiresTaskQueue(t *testing.T) {
	_, err := flowtemporal.New(flowtemporal.Options{Store: memory.New(), Snapshotter: nopSnapshotter{}})
	assert.Error(t, err)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := flowtemporal.New(flowtemporal.Options{TaskQueue: "q", Snapshotter: nopSnapshotter{}})
	assert.Error(t, err)
}

func TestNew_RequiresSnapshotter(t *testing.T) {
	_, err := flowtemporal.New(flowtemporal.Options{TaskQueue: "q", Store: memory.New()})
	assert.Error(t, err)
}

type nopSnapshotter struct{}

func (nopSnapshotter) Snapshot(context.Context, int64) (recovery.Snapshot, error) {
	return recovery.Snapshot{}, nil
}
