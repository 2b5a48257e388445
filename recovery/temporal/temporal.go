// Package temporal drives the epoch coordinator as a Temporal workflow
// (C8, §4.7 expansion), adapted from the teacher's
// runtime/agent/engine/temporal workflow/activity registration pattern
// (workerBundle.registerWorkflow/registerActivity) — narrowed to the one
// workflow and two activities the epoch coordinator needs, rather than
// the teacher's generic pluggable multi-queue engine abstraction.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/flowcore-dev/flowcore/recovery"
)

const (
	// EpochWorkflowName is the Temporal workflow type name registered
	// for EpochWorkflow.
	EpochWorkflowName   = "flowcore.EpochWorkflow"
	barrierActivityName = "flowcore.BarrierActivity"
	commitActivityName  = "flowcore.CommitActivity"
)

// EpochWorkflowInput parameterizes one EpochWorkflow run. A single run
// drives the entire recovery lifecycle of one Dataflow execution.
type EpochWorkflowInput struct {
	FlowID        string
	WorkerCount   int
	EpochInterval time.Duration
	// MaxEpochs bounds how many epochs this run commits before
	// returning; zero means unbounded (run until cancelled).
	MaxEpochs int64
}

type barrierActivityInput struct {
	FlowID      string
	Epoch       int64
	WorkerIndex int
}

type commitActivityInput struct {
	FlowID string
	Epoch  int64
}

// EpochWorkflow injects a barrier every EpochInterval, awaits one
// acknowledgment activity per worker, then commits the resulting
// snapshot (§4.7: "coordinator injects epoch barriers... when all
// workers acknowledge a barrier, the coordinator commits the snapshot
// atomically").
func EpochWorkflow(ctx workflow.Context, input EpochWorkflowInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
	})

	var epoch int64
	for input.MaxEpochs == 0 || epoch < input.MaxEpochs {
		if err := workflow.NewTimer(ctx, input.EpochInterval).Get(ctx, nil); err != nil {
			return err
		}
		epoch++

		futures := make([]workflow.Future, input.WorkerCount)
		for w := 0; w < input.WorkerCount; w++ {
			futures[w] = workflow.ExecuteActivity(ctx, barrierActivityName, barrierActivityInput{
				FlowID: input.FlowID, Epoch: epoch, WorkerIndex: w,
			})
		}
		for _, f := range futures {
			if err := f.Get(ctx, nil); err != nil {
				return fmt.Errorf("barrier ack failed at epoch %d: %w", epoch, err)
			}
		}

		if err := workflow.ExecuteActivity(ctx, commitActivityName, commitActivityInput{
			FlowID: input.FlowID, Epoch: epoch,
		}).Get(ctx, nil); err != nil {
			return fmt.Errorf("commit failed at epoch %d: %w", epoch, err)
		}
	}
	return nil
}

// BarrierAcker injects a barrier into one worker's input stream and
// blocks until that worker has passed it through every primitive it
// hosts (§9 "Epoch barriers as in-band markers").
type BarrierAcker interface {
	AwaitBarrier(ctx context.Context, flowID string, epoch int64, workerIndex int) error
}

// Options configures a Coordinator.
type Options struct {
	// Client is the Temporal client used to start workflow executions.
	Client client.Client
	// TaskQueue is the Temporal task queue the coordinator's worker
	// polls. Required.
	TaskQueue string
	// WorkerOptions configures the underlying Temporal worker.
	WorkerOptions worker.Options
	// Store is the snapshot store the commit activity writes to.
	// Required.
	Store recovery.Store
	// BarrierAcks injects and awaits barriers against the running
	// engine deployment. A nil BarrierAcks makes every barrier a no-op,
	// useful only for workflow-shape tests.
	BarrierAcks BarrierAcker
	// Snapshotter produces the epoch's Snapshot once every worker has
	// acknowledged. Required.
	Snapshotter recovery.Snapshotter
}

// Coordinator registers EpochWorkflow and its two activities with a
// Temporal worker and exposes Start to launch new workflow executions.
type Coordinator struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
}

// New constructs a Coordinator and registers EpochWorkflow, the barrier
// activity, and the commit activity on a worker for opts.TaskQueue.
func New(opts Options) (*Coordinator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("temporal coordinator: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal coordinator: task queue is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("temporal coordinator: store is required")
	}
	if opts.Snapshotter == nil {
		return nil, fmt.Errorf("temporal coordinator: snapshotter is required")
	}

	w := worker.New(opts.Client, opts.TaskQueue, opts.WorkerOptions)
	w.RegisterWorkflowWithOptions(EpochWorkflow, workflow.RegisterOptions{Name: EpochWorkflowName})

	acks := opts.BarrierAcks
	snaps := opts.Snapshotter
	store := opts.Store

	barrierFn := func(ctx context.Context, in barrierActivityInput) error {
		if acks == nil {
			return nil
		}
		return acks.AwaitBarrier(ctx, in.FlowID, in.Epoch, in.WorkerIndex)
	}
	w.RegisterActivityWithOptions(barrierFn, activity.RegisterOptions{Name: barrierActivityName})

	commitFn := func(ctx context.Context, in commitActivityInput) error {
		snap, err := snaps.Snapshot(ctx, in.Epoch)
		if err != nil {
			return fmt.Errorf("collect snapshot: %w", err)
		}
		snap.FlowID = in.FlowID
		snap.Epoch = in.Epoch
		return store.Commit(ctx, snap)
	}
	w.RegisterActivityWithOptions(commitFn, activity.RegisterOptions{Name: commitActivityName})

	return &Coordinator{client: opts.Client, worker: w, taskQueue: opts.TaskQueue}, nil
}

// Run starts the underlying Temporal worker, blocking until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	interrupt := make(chan any)
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()
	return c.worker.Run(interrupt)
}

// Start launches a new EpochWorkflow execution.
func (c *Coordinator) Start(ctx context.Context, input EpochWorkflowInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("flowcore-epoch-%s", input.FlowID),
		TaskQueue: c.taskQueue,
	}
	return c.client.ExecuteWorkflow(ctx, opts, EpochWorkflowName, input)
}
