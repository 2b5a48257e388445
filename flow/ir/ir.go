// Package ir defines the dataflow intermediate representation: a
// hierarchical DAG of steps with typed input/output ports and named
// streams (§3, §4.2 of the specification). The graph is stored as an
// arena of nodes addressed by integer IDs with explicit parent/child
// links and port tables, rather than a pointer graph — this keeps
// construction cycle-free by structure and makes the renderer (§4.3) a
// straightforward walk rather than a graph traversal with visited-set
// bookkeeping.
package ir

import "fmt"

// NodeID addresses a Step within a Dataflow's arena. The zero value is
// RootID, reserved for the flow's synthetic root scope.
type NodeID int

// RootID is the NodeID of the Dataflow's root scope, a synthetic Step
// whose StepName equals the flow_id and whose Substeps are the
// top-level steps a caller appends via the Builder.
const RootID NodeID = 0

// Direction distinguishes input ports from output ports.
type Direction int

const (
	// Input marks a port that consumes a stream.
	Input Direction = iota
	// Output marks a port that produces a stream.
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Port is a named connection point on a Step.
type Port struct {
	// PortName is unique on its owning step.
	PortName string
	// PortID is "<step_id>.<port_name>".
	PortID string
	// Direction is Input or Output.
	Direction Direction
	// FromPortIDs holds, for input ports, the output ports that feed this
	// port (more than one only for a multi-producer port such as
	// merge_all); for output ports, the descendant output ports whose
	// streams this port re-exposes (empty for primitive output ports,
	// which are streams in their own right).
	FromPortIDs []string
}

// Step is an instance of an operator: either a primitive the engine
// executes natively, or a compound operator that the planner (§4.4)
// will later expand into a subgraph of primitives.
type Step struct {
	// ID is this step's arena address.
	ID NodeID
	// Parent is the enclosing scope's NodeID, or -1 for the root.
	Parent NodeID
	// StepName is unique among siblings within its parent scope.
	StepName string
	// StepID is the dotted path from the flow root, globally unique.
	StepID string
	// OpType is the symbolic name of the operator, e.g. "flat_map" or
	// "map" (pre-lowering) or "unary" (post-lowering).
	OpType string
	// InPorts and OutPorts are ordered lists; order is insertion order
	// and is preserved verbatim into the rendered form.
	InPorts  []*Port
	OutPorts []*Port
	// Substeps is the ordered list of child steps; empty for primitives.
	Substeps []NodeID
	// Logic is the opaque user-supplied callable or driver attached to a
	// primitive step at construction time (a flat_map function, a unary
	// UnaryLogic builder, a source, a sink, a partitioner). It is never
	// part of the rendered projection (§4.3) — only the planner and
	// engine consult it, via a type switch on the step's OpType.
	Logic any
}

// IsPrimitive reports whether s has no substeps, i.e. it is natively
// executed by the engine rather than expanded by the planner.
func (s *Step) IsPrimitive() bool { return len(s.Substeps) == 0 }

// Port looks up a port by name and direction on s, returning nil if absent.
func (s *Step) Port(name string, dir Direction) *Port {
	list := s.OutPorts
	if dir == Input {
		list = s.InPorts
	}
	for _, p := range list {
		if p.PortName == name {
			return p
		}
	}
	return nil
}

// Dataflow is a named root scope containing an ordered tree of steps,
// stored in an Arena. FlowID is the non-empty, process-unique identity
// from §3.
type Dataflow struct {
	FlowID string
	Arena  *Arena
}

// Arena owns every Step in a Dataflow, addressed by NodeID. NodeID 0 is
// always the synthetic root scope created by NewDataflow.
type Arena struct {
	nodes []*Step
}

// NewDataflow creates an empty Dataflow with the given flow_id. flowID
// must be non-empty; callers are expected to have validated this already
// (the Builder does, returning a ConstructionError otherwise).
func NewDataflow(flowID string) *Dataflow {
	a := &Arena{}
	root := &Step{ID: RootID, Parent: -1, StepName: flowID, StepID: flowID, OpType: "_root"}
	a.nodes = append(a.nodes, root)
	return &Dataflow{FlowID: flowID, Arena: a}
}

// Step returns the step with the given ID. It panics if id is out of
// range, which only happens for a NodeID FlowCore did not itself mint.
func (a *Arena) Step(id NodeID) *Step {
	return a.nodes[id]
}

// NewStep allocates a new Step under parent with the given name and
// op type, appending it to parent's Substeps, and returns its NodeID.
// Callers are responsible for the sibling-uniqueness check (see
// flow.Builder.newStep) before calling this.
func (a *Arena) NewStep(parent NodeID, stepName, opType string) NodeID {
	id := NodeID(len(a.nodes))
	parentStep := a.nodes[parent]
	stepID := stepName
	if parentStep.StepID != "" {
		stepID = parentStep.StepID + "." + stepName
	}
	step := &Step{ID: id, Parent: parent, StepName: stepName, StepID: stepID, OpType: opType}
	a.nodes = append(a.nodes, step)
	parentStep.Substeps = append(parentStep.Substeps, id)
	return id
}

// AddPort appends a new port named portName in the given direction to
// step, returning it. The caller supplies FromPortIDs afterward (the
// flow Builder does so in connect and exposeOutput).
func (a *Arena) AddPort(step NodeID, portName string, dir Direction) *Port {
	s := a.nodes[step]
	p := &Port{PortName: portName, PortID: fmt.Sprintf("%s.%s", s.StepID, portName), Direction: dir}
	if dir == Input {
		s.InPorts = append(s.InPorts, p)
	} else {
		s.OutPorts = append(s.OutPorts, p)
	}
	return p
}

// FindPort resolves a fully-qualified port_id to its Port, searching
// every step in the arena. Returns nil if not found.
func (a *Arena) FindPort(portID string) *Port {
	for _, s := range a.nodes {
		for _, p := range s.InPorts {
			if p.PortID == portID {
				return p
			}
		}
		for _, p := range s.OutPorts {
			if p.PortID == portID {
				return p
			}
		}
	}
	return nil
}

// StepOf returns the step owning the given port_id, or nil.
func (a *Arena) StepOf(portID string) *Step {
	for _, s := range a.nodes {
		for _, p := range s.InPorts {
			if p.PortID == portID {
				return s
			}
		}
		for _, p := range s.OutPorts {
			if p.PortID == portID {
				return s
			}
		}
	}
	return nil
}

// Steps returns every step in the arena in allocation order (root first).
func (a *Arena) Steps() []*Step { return a.nodes }

// ResolveStreamIDs computes, for the given port, the transitive closure of
// FromPortIDs resolved down to primitive output ports (§3's from_stream_ids
// invariant). It is deterministic and preserves discovery order,
// deduplicating repeated producers (e.g. a merge_all fed twice by the same
// upstream through different paths).
func (a *Arena) ResolveStreamIDs(portID string) []string {
	seen := make(map[string]bool)
	var out []string
	var visit func(id string, visiting map[string]bool)
	visit = func(id string, visiting map[string]bool) {
		if visiting[id] {
			return // defensive: construction prevents true cycles at stream level
		}
		visiting[id] = true
		p := a.FindPort(id)
		if p == nil {
			return
		}
		step := a.StepOf(id)
		if p.Direction == Output && step != nil && step.IsPrimitive() {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
			return
		}
		for _, from := range p.FromPortIDs {
			visit(from, visiting)
		}
	}
	visit(portID, map[string]bool{})
	return out
}
