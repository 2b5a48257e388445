// Package render produces the stable, structural projection of a
// Dataflow (§4.3, C4) used for inspection, debugging, and snapshot
// compatibility checks. Given the same construction sequence, the
// rendered form is byte-identical: insertion order is preserved
// verbatim and nothing is implicitly sorted (§8 "Rendered determinism").
package render

import (
	"encoding/json"

	"github.com/flowcore-dev/flowcore/flow/ir"
)

// RenderedDataflow is the root of the rendered projection.
type RenderedDataflow struct {
	FlowID   string              `json:"flow_id"`
	Substeps []*RenderedOperator `json:"substeps"`
}

// RenderedOperator is the structural projection of one ir.Step.
type RenderedOperator struct {
	OpType   string              `json:"op_type"`
	StepName string              `json:"step_name"`
	StepID   string              `json:"step_id"`
	InPorts  []*RenderedPort     `json:"inp_ports"`
	OutPorts []*RenderedPort     `json:"out_ports"`
	Substeps []*RenderedOperator `json:"substeps"`
}

// RenderedPort is the structural projection of one ir.Port.
type RenderedPort struct {
	PortName      string   `json:"port_name"`
	PortID        string   `json:"port_id"`
	FromPortIDs   []string `json:"from_port_ids"`
	FromStreamIDs []string `json:"from_stream_ids"`
}

// Render walks df depth-first, preserving insertion order, and computes
// every port's from_stream_ids via the transitive resolution through
// compound boundaries described in §4.3.
func Render(df *ir.Dataflow) *RenderedDataflow {
	root := df.Arena.Step(ir.RootID)
	out := &RenderedDataflow{FlowID: df.FlowID, Substeps: make([]*RenderedOperator, 0, len(root.Substeps))}
	for _, childID := range root.Substeps {
		out.Substeps = append(out.Substeps, renderStep(df, childID))
	}
	return out
}

func renderStep(df *ir.Dataflow, id ir.NodeID) *RenderedOperator {
	s := df.Arena.Step(id)
	op := &RenderedOperator{
		OpType:   s.OpType,
		StepName: s.StepName,
		StepID:   s.StepID,
		InPorts:  renderPorts(df, s.InPorts),
		OutPorts: renderPorts(df, s.OutPorts),
		Substeps: make([]*RenderedOperator, 0, len(s.Substeps)),
	}
	for _, childID := range s.Substeps {
		op.Substeps = append(op.Substeps, renderStep(df, childID))
	}
	return op
}

func renderPorts(df *ir.Dataflow, ports []*ir.Port) []*RenderedPort {
	out := make([]*RenderedPort, 0, len(ports))
	for _, p := range ports {
		from := p.FromPortIDs
		if from == nil {
			from = []string{}
		}
		streamIDs := df.Arena.ResolveStreamIDs(p.PortID)
		if streamIDs == nil {
			streamIDs = []string{}
		}
		out = append(out, &RenderedPort{
			PortName:      p.PortName,
			PortID:        p.PortID,
			FromPortIDs:   from,
			FromStreamIDs: streamIDs,
		})
	}
	return out
}

// MarshalJSON renders df to its stable JSON projection (§6 "Rendered
// dataflow JSON").
func MarshalJSON(df *ir.Dataflow) ([]byte, error) {
	return json.Marshal(Render(df))
}
