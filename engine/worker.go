package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flowcore-dev/flowcore/flowerr"
	"github.com/flowcore-dev/flowcore/plan"
	"github.com/flowcore-dev/flowcore/primitive"
	"github.com/flowcore-dev/flowcore/sink"
	"github.com/flowcore-dev/flowcore/state"
)

// worker is the per-worker cooperative scheduler (§4.5, §5): a single
// goroutine owning a disjoint set of source partitions and state cells,
// with no locking needed for its own state table beyond what
// state.Manager already provides for concurrent snapshot reads.
type worker struct {
	id, count int
	p         *plan.Plan
	fanout    fanout
	bus       *exchangeBus
	q         *quiescence
	opts      Options

	owned     []ownedPartition
	sinkParts map[string]sink.SinkPartition

	state  *state.Manager
	timers *timers

	exchangeSteps []*plan.Step
}

func newWorker(id, count int, p *plan.Plan, f fanout, bus *exchangeBus, q *quiescence, opts Options, owned []ownedPartition, sinkParts map[string]sink.SinkPartition) *worker {
	var exchangeSteps []*plan.Step
	for _, s := range p.Steps {
		if s.OpType == primitive.OpExchange {
			exchangeSteps = append(exchangeSteps, s)
		}
	}
	return &worker{
		id: id, count: count, p: p, fanout: f, bus: bus, q: q, opts: opts,
		owned: owned, sinkParts: sinkParts,
		state: state.NewManager(), timers: newTimers(),
		exchangeSteps: exchangeSteps,
	}
}

// run drives this worker's tick loop until the job reaches natural
// completion (Run's quiescence detection), then flushes OnEOF and closes
// owned partitions.
func (w *worker) run(ctx context.Context) error {
	ctx, span := w.opts.Tracer.Start(ctx, "engine.worker.run")
	defer span.End()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		progressed, err := w.tick(ctx)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !progressed {
			w.q.setExhausted(w.id, true)
			if w.q.done() {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}
		w.q.setExhausted(w.id, false)
	}

	return w.flush(ctx)
}

// tick polls every owned partition once, drains any inbound exchange
// traffic, and fires due timers, reporting whether anything happened.
func (w *worker) tick(ctx context.Context) (bool, error) {
	progressed := false

	for _, op := range w.owned {
		if !op.limiter.Allow() {
			continue
		}
		batch, err := op.partition.NextBatch(ctx)
		if err != nil {
			return false, &flowerr.TransientIOError{StepID: op.stepID, Attempts: 1, Err: err}
		}
		if len(batch) == 0 {
			continue
		}
		progressed = true
		w.opts.Metrics.IncCounter("flowcore.engine.items_polled", float64(len(batch)), "step_id", op.stepID)
		for _, item := range batch {
			if err := w.push(ctx, op.outPortID, item); err != nil {
				return false, err
			}
		}
	}

	for _, ex := range w.exchangeSteps {
		for src := 0; src < w.count; src++ {
			if src == w.id {
				continue
			}
			ch := w.bus.channel(ex.StepID, src, w.id)
			select {
			case msg := <-ch:
				atomic.AddInt64(&w.q.inFlight, -1)
				progressed = true
				if err := w.push(ctx, msg.outPortID, msg.value); err != nil {
					return false, err
				}
			default:
			}
		}
	}

	now := w.opts.Clock()
	for _, due := range w.timers.due(now) {
		logic := w.state.Logic(due.stepID, due.key)
		if logic == nil {
			continue
		}
		progressed = true
		emit, err := logic.OnNotify(ctx, now)
		if err != nil {
			return false, &flowerr.UserCodeError{StepID: due.stepID, Key: due.key, Err: err}
		}
		outPortID := w.p.StepByID(due.stepID).OutPortID
		for _, o := range emit {
			if err := w.push(ctx, outPortID, o); err != nil {
				return false, err
			}
		}
		if at, ok := logic.NotifyAt(); ok {
			w.timers.schedule(due.stepID, due.key, at)
		}
	}

	return progressed, nil
}

// push delivers value to every consumer of outPortID, in fanout order.
func (w *worker) push(ctx context.Context, outPortID string, value any) error {
	for _, step := range w.fanout[outPortID] {
		if err := w.deliver(ctx, step, value); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) deliver(ctx context.Context, step *plan.Step, value any) error {
	switch step.OpType {
	case primitive.OpFlatMap:
		fn, ok := step.Logic.(primitive.FlatMapFunc)
		if !ok {
			return fmt.Errorf("engine: step %q logic is not a FlatMapFunc", step.StepID)
		}
		for _, out := range fn(value) {
			if err := w.push(ctx, step.OutPortID, out); err != nil {
				return err
			}
		}
		return nil

	case primitive.OpInspect:
		fn, ok := step.Logic.(primitive.InspectFunc)
		if !ok {
			return fmt.Errorf("engine: step %q logic is not an InspectFunc", step.StepID)
		}
		fn(value)
		return w.push(ctx, step.OutPortID, value)

	case primitive.OpKeyAssert:
		if _, ok := value.(primitive.KeyedItem); !ok {
			return &flowerr.RuntimeTypeError{StepID: step.StepID, Shape: fmt.Sprintf("%T", value), Want: "primitive.KeyedItem"}
		}
		return w.push(ctx, step.OutPortID, value)

	case primitive.OpNoop:
		return w.push(ctx, step.OutPortID, value)

	case primitive.OpExchange:
		return w.deliverExchange(ctx, step, value)

	case primitive.OpUnary:
		return w.deliverUnary(ctx, step, value)

	case primitive.OpOutput:
		sp, ok := w.sinkParts[step.StepID]
		if !ok {
			return fmt.Errorf("engine: no sink partition for step %q", step.StepID)
		}
		return sp.WriteBatch(ctx, []any{value})

	default:
		return fmt.Errorf("engine: unknown primitive op_type %q at step %q", step.OpType, step.StepID)
	}
}

func (w *worker) deliverExchange(ctx context.Context, step *plan.Step, value any) error {
	ki, ok := value.(primitive.KeyedItem)
	if !ok {
		return &flowerr.RuntimeTypeError{StepID: step.StepID, Shape: fmt.Sprintf("%T", value), Want: "primitive.KeyedItem"}
	}
	part, _ := step.Logic.(primitive.Partitioner)
	if part == nil {
		part = hashPartition
	}
	dest := part(ki.Key, w.count)
	if dest == w.id {
		return w.push(ctx, step.OutPortID, value)
	}
	ch := w.bus.channel(step.StepID, w.id, dest)
	atomic.AddInt64(&w.q.inFlight, 1)
	select {
	case ch <- exchangeMsg{outPortID: step.OutPortID, value: value}:
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&w.q.inFlight, -1)
		return ctx.Err()
	}
}

func (w *worker) deliverUnary(ctx context.Context, step *plan.Step, value any) error {
	ki, ok := value.(primitive.KeyedItem)
	if !ok {
		return &flowerr.RuntimeTypeError{StepID: step.StepID, Shape: fmt.Sprintf("%T", value), Want: "primitive.KeyedItem"}
	}
	build, ok := step.Logic.(primitive.LogicBuilder)
	if !ok {
		return fmt.Errorf("engine: step %q logic is not a LogicBuilder", step.StepID)
	}
	logic := w.state.GetOrCreate(step.StepID, ki.Key, build)
	now := w.opts.Clock()
	outs, fate, err := logic.OnItem(ctx, now, ki.Value)
	if err != nil {
		return &flowerr.UserCodeError{StepID: step.StepID, Key: ki.Key, Err: err}
	}
	for _, o := range outs {
		if err := w.push(ctx, step.OutPortID, o); err != nil {
			return err
		}
	}
	if fate == primitive.Discard {
		w.state.Discard(step.StepID, ki.Key)
		w.timers.cancel(step.StepID, ki.Key)
		return nil
	}
	if at, ok := logic.NotifyAt(); ok {
		w.timers.schedule(step.StepID, ki.Key, at)
	}
	return nil
}

// flush calls OnEOF on every live UnaryLogic cell this worker owns, then
// closes owned partitions (§5 "Cancellation": tear down partitions by
// calling their close after draining).
func (w *worker) flush(ctx context.Context) error {
	for _, step := range w.p.Steps {
		if step.OpType != primitive.OpUnary {
			continue
		}
		for _, key := range w.state.Keys(step.StepID) {
			logic := w.state.Logic(step.StepID, key)
			if logic == nil {
				continue
			}
			emit, err := logic.OnEOF(ctx)
			if err != nil {
				return &flowerr.UserCodeError{StepID: step.StepID, Key: key, Err: err}
			}
			for _, o := range emit {
				if err := w.push(ctx, step.OutPortID, o); err != nil {
					return err
				}
			}
		}
	}
	for _, op := range w.owned {
		if err := op.partition.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}
