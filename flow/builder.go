// Package flow provides the high-level combinator API (§4.2, C3) that
// instantiates flow/ir nodes and wires ports, enforcing unique step names
// within a scope and ancestor/descendant-only cross-scope wiring (§4.2
// wiring rules). It mirrors the teacher's DSL scope-stack idea
// (eval.Current()) with an explicit stack of ir.NodeID held by the
// Builder itself, since FlowCore's builder returns live Stream handles to
// caller code rather than running inside a global multi-pass evaluator
// (see DESIGN.md for why goa.design/goa/v3/eval was not reused here).
package flow

import (
	"fmt"

	"github.com/flowcore-dev/flowcore/flow/ir"
	"github.com/flowcore-dev/flowcore/flowerr"
	"github.com/flowcore-dev/flowcore/primitive"
)

// Builder constructs a Dataflow by appending steps to the current scope.
// A Builder is not safe for concurrent use; build a Dataflow on a single
// goroutine before handing it to the planner.
type Builder struct {
	df     *ir.Dataflow
	scopes []ir.NodeID
	names  map[ir.NodeID]map[string]bool
}

// New creates a Builder for a new Dataflow named flowID. flowID must be
// non-empty; an empty flow_id is a ConstructionError (§7).
func New(flowID string) (*Builder, error) {
	if flowID == "" {
		return nil, &flowerr.ConstructionError{Reason: "flow_id must be non-empty"}
	}
	df := ir.NewDataflow(flowID)
	return &Builder{
		df:     df,
		scopes: []ir.NodeID{ir.RootID},
		names:  map[ir.NodeID]map[string]bool{ir.RootID: {}},
	}, nil
}

// Dataflow returns the ir.Dataflow under construction. Safe to call at
// any point; the returned value is a live view, not a snapshot.
func (b *Builder) Dataflow() *ir.Dataflow { return b.df }

func (b *Builder) current() ir.NodeID { return b.scopes[len(b.scopes)-1] }

// newStep allocates a step named name with the given op type in the
// current scope, rejecting a duplicate sibling name.
func (b *Builder) newStep(name, opType string) (*ir.Step, error) {
	scope := b.current()
	if b.names[scope] == nil {
		b.names[scope] = map[string]bool{}
	}
	if b.names[scope][name] {
		return nil, &flowerr.DuplicateStepNameError{ParentPath: b.df.Arena.Step(scope).StepID, StepName: name}
	}
	id := b.df.Arena.NewStep(scope, name, opType)
	b.names[scope][name] = true
	b.names[id] = map[string]bool{}
	return b.df.Arena.Step(id), nil
}

func (b *Builder) pushScope(id ir.NodeID) { b.scopes = append(b.scopes, id) }
func (b *Builder) popScope()              { b.scopes = b.scopes[:len(b.scopes)-1] }

// scopeChain returns the set made of id itself and every scope enclosing
// it, up to and including the root.
func (b *Builder) scopeChain(id ir.NodeID) map[ir.NodeID]bool {
	chain := map[ir.NodeID]bool{}
	cur := id
	for {
		chain[cur] = true
		if cur == ir.RootID {
			return chain
		}
		cur = b.df.Arena.Step(cur).Parent
	}
}

// checkScoping enforces the §4.2 wiring rule: a port may only be wired to
// a producer whose owning scope is an ancestor of (or equal to) the scope
// the consuming step is being built in. A Stream handle can only exist
// because its producing step was already built, so the only illegal case
// is a handle leaking from an unrelated, already-closed sibling scope
// into a nested one it never enclosed.
func (b *Builder) checkScoping(producerStepID ir.NodeID, consumerScope ir.NodeID, fromPortID, toPortID string) error {
	producerScope := b.df.Arena.Step(producerStepID).Parent
	if producerStepID == ir.RootID {
		producerScope = ir.RootID
	}
	ancestors := b.scopeChain(consumerScope)
	if !ancestors[producerScope] {
		return &flowerr.ScopingError{FromPortID: fromPortID, ToPortID: toPortID}
	}
	return nil
}

// connect wires upstream into the input port named portName on step,
// validating scoping. It is the sole primitive used to feed any input
// port (single-producer primitives call it once; merge_all calls it once
// per upstream).
func (b *Builder) connect(step *ir.Step, portName string, upstream Stream) error {
	in := step.Port(portName, ir.Input)
	producer := b.df.Arena.StepOf(upstream.portID)
	if producer == nil {
		return &flowerr.ConstructionError{ParentPath: step.StepID, Reason: fmt.Sprintf("unknown upstream port %q", upstream.portID)}
	}
	if err := b.checkScoping(producer.ID, step.Parent, upstream.portID, in.PortID); err != nil {
		return err
	}
	in.FromPortIDs = append(in.FromPortIDs, upstream.portID)
	return nil
}

// --- Primitives (§4.1) ---

// Input binds an external partitioned source, emitting one output stream.
// source is stored opaquely on the step (see ir.Step.Logic) and consulted
// by the planner/engine, never by the renderer.
func (b *Builder) Input(name string, source any) (Stream, error) {
	step, err := b.newStep(name, primitive.OpInput)
	if err != nil {
		return Stream{}, err
	}
	step.Logic = source
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// Output binds an external sink to the given stream.
func (b *Builder) Output(name string, up Stream, sink any) error {
	step, err := b.newStep(name, primitive.OpOutput)
	if err != nil {
		return err
	}
	step.Logic = sink
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	return b.connect(step, "up", up)
}

// FlatMap applies fn to each input item, emitting every returned value in
// order. fn must be side-effect-free with respect to ordering.
func (b *Builder) FlatMap(name string, up Stream, fn primitive.FlatMapFunc) (Stream, error) {
	step, err := b.newStep(name, primitive.OpFlatMap)
	if err != nil {
		return Stream{}, err
	}
	step.Logic = fn
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", up); err != nil {
		return Stream{}, err
	}
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// Inspect calls fn for its side effect only; the item passes through
// unchanged.
func (b *Builder) Inspect(name string, up Stream, fn primitive.InspectFunc) (Stream, error) {
	step, err := b.newStep(name, primitive.OpInspect)
	if err != nil {
		return Stream{}, err
	}
	step.Logic = fn
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", up); err != nil {
		return Stream{}, err
	}
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// KeyAssert is a runtime check that every item is a primitive.KeyedItem;
// the step fails fast with a RuntimeTypeError at run time otherwise. It
// is a pass-through at construction time.
func (b *Builder) KeyAssert(name string, up Stream) (Stream, error) {
	step, err := b.newStep(name, primitive.OpKeyAssert)
	if err != nil {
		return Stream{}, err
	}
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", up); err != nil {
		return Stream{}, err
	}
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// Noop is an identity primitive that exists to give the planner a stable
// attachment point (used internally by Merge/MergeAll).
func (b *Builder) Noop(name string, up Stream) (Stream, error) {
	step, err := b.newStep(name, primitive.OpNoop)
	if err != nil {
		return Stream{}, err
	}
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", up); err != nil {
		return Stream{}, err
	}
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// Unary is the sole stateful primitive: up must be a keyed stream. build
// lazily constructs a primitive.UnaryLogic per (step_id, key).
func (b *Builder) Unary(name string, up Stream, build primitive.LogicBuilder) (Stream, error) {
	step, err := b.newStep(name, primitive.OpUnary)
	if err != nil {
		return Stream{}, err
	}
	step.Logic = build
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", up); err != nil {
		return Stream{}, err
	}
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// Exchange routes keyed items across workers by hash(key) mod
// worker_count. part overrides the default partitioner when non-nil
// (tests pin keys to specific workers this way).
func (b *Builder) Exchange(name string, up Stream, part primitive.Partitioner) (Stream, error) {
	step, err := b.newStep(name, primitive.OpExchange)
	if err != nil {
		return Stream{}, err
	}
	step.Logic = part
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", up); err != nil {
		return Stream{}, err
	}
	out := b.df.Arena.AddPort(step.ID, "down", ir.Output)
	return Stream{portID: out.PortID}, nil
}

// --- Compound step scaffolding shared by flow/compounds.go ---

// openCompound allocates a compound step named name, wires its own "up"
// input port to upstream, and pushes it as the current scope so the
// caller can build substeps against it. The caller exposes the
// compound's output port(s) with exposeOutput and pops the scope with
// closeCompound.
func (b *Builder) openCompound(name, opType string, upstream Stream) (*ir.Step, error) {
	step, err := b.newStep(name, opType)
	if err != nil {
		return nil, err
	}
	b.df.Arena.AddPort(step.ID, "up", ir.Input)
	if err := b.connect(step, "up", upstream); err != nil {
		return nil, err
	}
	b.pushScope(step.ID)
	return step, nil
}

// innerUp returns a Stream referencing the compound step's own "up" port,
// for substeps inside the scope to consume as their upstream.
func innerUp(step *ir.Step) Stream {
	return Stream{portID: step.Port("up", ir.Input).PortID}
}

// exposeOutput adds an output port named portName on step (the compound
// being closed), re-exposing inner's stream. It does not pop the scope;
// closeCompound does.
func (b *Builder) exposeOutput(step *ir.Step, portName string, inner Stream) Stream {
	out := b.df.Arena.AddPort(step.ID, portName, ir.Output)
	out.FromPortIDs = append(out.FromPortIDs, inner.portID)
	return Stream{portID: out.PortID}
}

func (b *Builder) closeCompound() { b.popScope() }
