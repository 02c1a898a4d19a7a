package convert

import (
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/segment"
	"k8s.io/klog/v2"
)

// InputEdgeValidator decides whether an edge into a candidate segment can
// become an engine input binding.
type InputEdgeValidator struct {
	Props graphdef.GraphProperties
}

// Accept reports whether the edge may cross into the segment. Control edges
// always pass; data edges must carry a convertible type and a usable shape.
func (v InputEdgeValidator) Accept(edge *segment.Edge) bool {
	if edge.Control {
		return true
	}
	shape, dtype := graphdef.OutputProperties(v.Props, edge.Src, edge.SrcPort)
	if _, err := ValidateInputProperties(shape, dtype); err != nil {
		klog.V(1).Infof("--> need to remove input node %s: %v", edge.Dst.Name, err)
		return false
	}
	// A one dimensional tensor has nothing left once the batch dimension is
	// made implicit; only constants survive at that rank.
	if edge.Src.Op != "Const" && shape.Rank() < 2 {
		klog.V(1).Infof(
			"--> need to remove input node %s which has an input at port %d with rank < 2 and is not a const: %s",
			edge.Dst.Name, edge.DstPort, shape)
		return false
	}
	return true
}

// OutputEdgeValidator decides whether an edge out of a candidate segment can
// become an engine output binding.
type OutputEdgeValidator struct{}

// Accept reports whether the edge may cross out of the segment. Constants
// never become engine outputs; the host keeps them.
func (OutputEdgeValidator) Accept(edge *segment.Edge) bool {
	if edge.Control {
		return true
	}
	if edge.Src.Op == "Const" {
		klog.V(1).Infof("--> need to remove output node %s which is a Const", edge.Src.Name)
		return false
	}
	return true
}
