// Package plan lowers a Dataflow's arena into a flat execution plan
// containing only primitives (C5, §4.4). The Builder (package flow)
// already expands every compound operator into its primitive subgraph at
// construction time — the way bytewax's own op.map is itself defined in
// terms of op.flat_map — so the rendered tree (package flow/render)
// already shows, e.g., a `map` step containing a `flat_map` substep
// (§8 scenario 7). What remains for the planner is standing up the
// *execution*-facing view the engine actually drives:
//
//  1. Collect every primitive step (no substeps) in deterministic,
//     construction order, discarding the compound wrapper steps (the
//     wrappers exist only for the renderer).
//  2. Resolve each primitive's upstream producer(s) via the same
//     transitive from_port_ids resolution the renderer uses, and fail
//     planning on a dangling stream.
//  3. Insert an exchange primitive immediately upstream of every unary
//     primitive whose input is keyed and not already exchange-tagged
//     (§4.4 item 3) — a purely execution-plan concern that does not
//     mutate the renderable IR.
package plan

import (
	"fmt"

	"github.com/flowcore-dev/flowcore/flow/ir"
	"github.com/flowcore-dev/flowcore/flowerr"
	"github.com/flowcore-dev/flowcore/primitive"
)

// Step is one primitive in the flattened execution plan.
type Step struct {
	// StepID is the dotted path from the original ir.Step (or, for a
	// synthesized exchange, StepID+".auto_exchange").
	StepID string
	// OpType is one of the primitive.Op* constants.
	OpType string
	// Logic is the opaque callable/driver attached at construction time
	// (see ir.Step.Logic), or the default partitioner for a synthesized
	// exchange (nil — the engine falls back to hash(key) mod worker_count).
	Logic any
	// OutPortID is this step's own output port ID ("" for output
	// primitives, which have none).
	OutPortID string
	// Upstreams holds the output port IDs feeding this step's input port,
	// in order (more than one only for a merge_all's underlying _noop).
	Upstreams []string
}

// IsKeyedPrimitive reports whether op's items are required to be
// primitive.KeyedItem values (§3).
func IsKeyedPrimitive(op string) bool {
	return op == primitive.OpUnary || op == primitive.OpKeyAssert || op == primitive.OpExchange
}

// Plan is the flattened, primitives-only execution plan the engine
// drives (C6).
type Plan struct {
	FlowID string
	// Steps is in deterministic order: a primitive never precedes a
	// synthesized exchange inserted directly upstream of it, and
	// otherwise matches construction (arena allocation) order.
	Steps []*Step

	byStepID  map[string]*Step
	byOutPort map[string]*Step
}

// StepByID looks up a plan step by its StepID.
func (p *Plan) StepByID(stepID string) *Step { return p.byStepID[stepID] }

// Build lowers df into a Plan. It is deterministic: the same Dataflow
// construction sequence always yields the same Plan.Steps order and the
// same synthesized exchange StepIDs.
func Build(df *ir.Dataflow) (*Plan, error) {
	p := &Plan{FlowID: df.FlowID, byStepID: map[string]*Step{}, byOutPort: map[string]*Step{}}

	var primitives []*ir.Step
	var walk func(id ir.NodeID)
	walk = func(id ir.NodeID) {
		s := df.Arena.Step(id)
		if id != ir.RootID && s.IsPrimitive() {
			primitives = append(primitives, s)
		}
		for _, c := range s.Substeps {
			walk(c)
		}
	}
	walk(ir.RootID)

	for _, s := range primitives {
		if _, dup := p.byStepID[s.StepID]; dup {
			return nil, &flowerr.PlanningError{StepID: s.StepID, Reason: "duplicate step_id assigned during planning"}
		}
		var outID string
		if len(s.OutPorts) > 0 {
			outID = s.OutPorts[0].PortID
		}
		step := &Step{StepID: s.StepID, OpType: s.OpType, Logic: s.Logic, OutPortID: outID}
		p.Steps = append(p.Steps, step)
		p.byStepID[s.StepID] = step
		if outID != "" {
			p.byOutPort[outID] = step
		}
	}

	for i, s := range primitives {
		step := p.Steps[i]
		for _, in := range s.InPorts {
			resolved := df.Arena.ResolveStreamIDs(in.PortID)
			if len(resolved) == 0 {
				return nil, &flowerr.PlanningError{StepID: s.StepID, Reason: fmt.Sprintf("dangling stream: input port %q has no resolvable producer", in.PortID)}
			}
			step.Upstreams = append(step.Upstreams, resolved...)
		}
	}

	if err := insertExchanges(p); err != nil {
		return nil, err
	}

	return p, nil
}

// insertExchanges synthesizes an exchange step immediately upstream of
// every unary step not already fed by one, rewiring Upstreams to point at
// the synthesized exchange's output instead of the original producer.
func insertExchanges(p *Plan) error {
	var withExchange []*Step
	for _, step := range p.Steps {
		if step.OpType != primitive.OpUnary {
			withExchange = append(withExchange, step)
			continue
		}
		if len(step.Upstreams) != 1 {
			return &flowerr.PlanningError{StepID: step.StepID, Reason: "unary primitive must have exactly one upstream producer"}
		}
		producerPortID := step.Upstreams[0]
		producer := p.byOutPort[producerPortID]
		if producer != nil && producer.OpType == primitive.OpExchange {
			withExchange = append(withExchange, step)
			continue
		}
		ex := &Step{
			StepID:    step.StepID + ".auto_exchange",
			OpType:    primitive.OpExchange,
			OutPortID: step.StepID + ".auto_exchange.down",
			Upstreams: []string{producerPortID},
		}
		p.byStepID[ex.StepID] = ex
		p.byOutPort[ex.OutPortID] = ex
		step.Upstreams = []string{ex.OutPortID}
		withExchange = append(withExchange, ex, step)
	}
	p.Steps = withExchange
	return nil
}
