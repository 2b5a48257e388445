// Package engine implements the per-worker cooperative scheduler that
// drives a flattened plan.Plan to completion (C6, §4.5): polling owned
// source partitions, pushing items depth-first through the primitive
// subgraph, routing keyed items across exchange channels, firing
// per-key timers, and draining through sinks.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowcore-dev/flowcore/plan"
	"github.com/flowcore-dev/flowcore/primitive"
	"github.com/flowcore-dev/flowcore/sink"
	"github.com/flowcore-dev/flowcore/source"
	"github.com/flowcore-dev/flowcore/telemetry"
)

// Options configures a Run. Logger, Metrics, and Tracer default to their
// no-op implementations when nil, matching telemetry.Noop* (the teacher's
// runtime/agent/telemetry bootstrap convention).
type Options struct {
	WorkerCount        int
	ExchangeBufferSize int
	// PollRate and PollBurst bound how often a worker polls any single
	// owned source partition per second (§4.5 "Source poll budget").
	PollRate  rate.Limit
	PollBurst int
	Clock     Clock

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Clock supplies the engine's notion of "now" in milliseconds, the unit
// window.Clock timestamps and window lengths are expressed in.
type Clock func() int64

// SystemClock returns the wall-clock time in milliseconds.
func SystemClock() Clock { return func() int64 { return time.Now().UnixMilli() } }

func (o *Options) withDefaults() Options {
	out := *o
	if out.WorkerCount <= 0 {
		out.WorkerCount = 1
	}
	if out.ExchangeBufferSize <= 0 {
		out.ExchangeBufferSize = 64
	}
	if out.PollRate <= 0 {
		out.PollRate = rate.Inf
	}
	if out.PollBurst <= 0 {
		out.PollBurst = 1
	}
	if out.Clock == nil {
		out.Clock = SystemClock()
	}
	if out.Logger == nil {
		out.Logger = telemetry.NoopLogger{}
	}
	if out.Metrics == nil {
		out.Metrics = telemetry.NoopMetrics{}
	}
	if out.Tracer == nil {
		out.Tracer = telemetry.NoopTracer{}
	}
	return out
}

// Run drives p to completion across Options.WorkerCount cooperative
// workers, returning once every source partition is exhausted, every
// in-flight exchange message has been delivered, and every live
// UnaryLogic cell has observed OnEOF (§5 "Cancellation" describes
// graceful shutdown; Run implements the natural-completion path a
// bounded source reaches on its own).
func Run(ctx context.Context, p *plan.Plan, opts Options) error {
	o := opts.withDefaults()
	bus := newExchangeBus(o.ExchangeBufferSize)
	q := &quiescence{exhausted: make([]bool, o.WorkerCount)}

	fanout := buildFanout(p)

	inputSteps, outputSteps := splitIO(p)
	assignments, err := assignInputs(ctx, inputSteps, o.WorkerCount, o.PollRate, o.PollBurst)
	if err != nil {
		return err
	}

	sinkParts := make([]map[string]sink.SinkPartition, o.WorkerCount)
	for w := 0; w < o.WorkerCount; w++ {
		parts := map[string]sink.SinkPartition{}
		for _, out := range outputSteps {
			ds, ok := out.Logic.(sink.DynamicSink)
			if !ok {
				return fmt.Errorf("engine: step %q logic does not implement sink.DynamicSink", out.StepID)
			}
			sp, err := ds.Build(ctx, w, o.WorkerCount)
			if err != nil {
				return fmt.Errorf("engine: building sink for step %q: %w", out.StepID, err)
			}
			parts[out.StepID] = sp
		}
		sinkParts[w] = parts
	}

	var wg sync.WaitGroup
	errs := make([]error, o.WorkerCount)
	for i := 0; i < o.WorkerCount; i++ {
		w := newWorker(i, o.WorkerCount, p, fanout, bus, q, o, assignments[i], sinkParts[i])
		wg.Add(1)
		go func(idx int, wk *worker) {
			defer wg.Done()
			errs[idx] = wk.run(ctx)
		}(i, w)
	}
	wg.Wait()

	for w := 0; w < o.WorkerCount; w++ {
		for _, sp := range sinkParts[w] {
			if err := sp.Close(ctx); err != nil && errs[w] == nil {
				errs[w] = err
			}
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// quiescence tracks, across every worker, whether the job has reached
// natural completion: every worker idle on its last tick and no message
// in flight on any exchange channel.
type quiescence struct {
	mu        sync.Mutex
	exhausted []bool
	inFlight  int64
}

func (q *quiescence) setExhausted(i int, v bool) {
	q.mu.Lock()
	q.exhausted[i] = v
	q.mu.Unlock()
}

func (q *quiescence) allExhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.exhausted {
		if !e {
			return false
		}
	}
	return true
}

func (q *quiescence) done() bool {
	return atomic.LoadInt64(&q.inFlight) == 0 && q.allExhausted()
}

// fanout maps an output port ID to every plan.Step consuming it.
type fanout map[string][]*plan.Step

func buildFanout(p *plan.Plan) fanout {
	f := fanout{}
	for _, s := range p.Steps {
		for _, up := range s.Upstreams {
			f[up] = append(f[up], s)
		}
	}
	return f
}

func splitIO(p *plan.Plan) (inputs, outputs []*plan.Step) {
	for _, s := range p.Steps {
		switch s.OpType {
		case primitive.OpInput:
			inputs = append(inputs, s)
		case primitive.OpOutput:
			outputs = append(outputs, s)
		}
	}
	return inputs, outputs
}

type ownedPartition struct {
	stepID    string
	outPortID string
	partition source.Partition
	limiter   *rate.Limiter
}

// assignInputs lists partitions for every input step and assigns each
// key to a worker via hashPartition, so the same key is always owned by
// the same worker (§5 "Shared resources"). Each partition gets its own
// rate.Limiter governing poll frequency (§4.5 expansion).
func assignInputs(ctx context.Context, inputSteps []*plan.Step, workerCount int, pollRate rate.Limit, pollBurst int) ([][]ownedPartition, error) {
	out := make([][]ownedPartition, workerCount)
	for _, step := range inputSteps {
		src, ok := step.Logic.(source.PartitionedSource)
		if !ok {
			return nil, fmt.Errorf("engine: step %q logic does not implement source.PartitionedSource", step.StepID)
		}
		keys, err := src.ListParts(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: listing partitions for step %q: %w", step.StepID, err)
		}
		byWorker := assignPartitions(keys, workerCount)
		for w, keys := range byWorker {
			for _, key := range keys {
				part, err := src.BuildPart(ctx, key, nil)
				if err != nil {
					return nil, fmt.Errorf("engine: building partition %q for step %q: %w", key, step.StepID, err)
				}
				out[w] = append(out[w], ownedPartition{
					stepID:    step.StepID,
					outPortID: step.OutPortID,
					partition: part,
					limiter:   rate.NewLimiter(pollRate, pollBurst),
				})
			}
		}
	}
	return out, nil
}
