package temporal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	flowtemporal "github.com/flowcore-dev/flowcore/recovery/temporal"
)

type epochWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestEpochWorkflowSuite(t *testing.T) {
	suite.Run(t, new(epochWorkflowSuite))
}

// TestEpochWorkflow_CommitsOncePerEpoch verifies §4.7: one barrier
// acknowledgment activity per worker, then exactly one commit, per
// epoch tick.
func (s *epochWorkflowSuite) TestEpochWorkflow_CommitsOncePerEpoch() {
	env := s.NewTestWorkflowEnvironment()

	var barrierAcks, commits int
	env.RegisterActivityWithOptions(
		func(context.Context, struct {
			FlowID      string
			Epoch       int64
			WorkerIndex int
		}) error {
			barrierAcks++
			return nil
		},
		activity.RegisterOptions{Name: "flowcore.BarrierActivity"},
	)
	env.RegisterActivityWithOptions(
		func(context.Context, struct {
			FlowID string
			Epoch  int64
		}) error {
			commits++
			return nil
		},
		activity.RegisterOptions{Name: "flowcore.CommitActivity"},
	)

	input := flowtemporal.EpochWorkflowInput{
		FlowID:        "basic",
		WorkerCount:   3,
		EpochInterval: time.Second,
		MaxEpochs:     2,
	}
	env.ExecuteWorkflow(flowtemporal.EpochWorkflow, input)

	require.True(s.T(), env.IsWorkflowCompleted())
	require.NoError(s.T(), env.GetWorkflowError())
	require.Equal(s.T(), 6, barrierAcks) // 3 workers * 2 epochs
	require.Equal(s.T(), 2, commits)
}

// TestEpochWorkflow_PropagatesBarrierFailure verifies that a failed
// barrier acknowledgment fails the epoch without committing.
func (s *epochWorkflowSuite) TestEpochWorkflow_PropagatesBarrierFailure() {
	env := s.NewTestWorkflowEnvironment()

	var commits int
	env.RegisterActivityWithOptions(
		func(context.Context, struct {
			FlowID      string
			Epoch       int64
			WorkerIndex int
		}) error {
			return assertionError{"worker unreachable"}
		},
		activity.RegisterOptions{Name: "flowcore.BarrierActivity"},
	)
	env.RegisterActivityWithOptions(
		func(context.Context, struct {
			FlowID string
			Epoch  int64
		}) error {
			commits++
			return nil
		},
		activity.RegisterOptions{Name: "flowcore.CommitActivity"},
	)

	input := flowtemporal.EpochWorkflowInput{
		FlowID:        "basic",
		WorkerCount:   1,
		EpochInterval: time.Second,
		MaxEpochs:     1,
	}
	env.ExecuteWorkflow(flowtemporal.EpochWorkflow, input)

	require.True(s.T(), env.IsWorkflowCompleted())
	require.Error(s.T(), env.GetWorkflowError())
	require.Equal(s.T(), 0, commits)
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }
