package graphdef

import (
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// TensorProperties is the shape/dtype verdict of the host's property
// inference pass for one tensor.
type TensorProperties struct {
	DType dtypes.DType
	Shape PartialShape
}

// GraphProperties is the host graph's shape/dtype oracle, keyed by node name
// and port. Implemented by the host runtime's property-inference pass; a
// static map implementation suffices for tests.
type GraphProperties interface {
	// HasProperties reports whether inference produced anything for node.
	HasProperties(node string) bool
	// OutputProperties returns per-output-port properties for node.
	OutputProperties(node string) []TensorProperties
	// InputProperties returns per-input-port properties for node.
	InputProperties(node string) []TensorProperties
}

// OutputProperties resolves the shape and dtype of node's output port,
// falling back to the node's statically declared dtype (and unknown shape)
// when the oracle has nothing.
func OutputProperties(props GraphProperties, node *NodeDef, port int) (PartialShape, dtypes.DType) {
	if props != nil && props.HasProperties(node.Name) {
		if out := props.OutputProperties(node.Name); port < len(out) {
			return out[port].Shape, out[port].DType
		}
	}
	klog.V(1).Infof("no inferred output shape for %s:%d, falling back to declared dtype", node.Name, port)
	return UnknownShape(), node.OutputType()
}

// InputProperties resolves the shape and dtype of node's input port, with
// the same fallback as OutputProperties.
func InputProperties(props GraphProperties, node *NodeDef, port int) (PartialShape, dtypes.DType) {
	if props != nil && props.HasProperties(node.Name) {
		if in := props.InputProperties(node.Name); port < len(in) {
			return in[port].Shape, in[port].DType
		}
	}
	return UnknownShape(), node.OutputType()
}

// StaticProperties is a map-backed GraphProperties for tests and for hosts
// that precompute inference results.
type StaticProperties struct {
	Outputs map[string][]TensorProperties
	Inputs  map[string][]TensorProperties
}

// HasProperties implements GraphProperties.
func (s *StaticProperties) HasProperties(node string) bool {
	_, foundOut := s.Outputs[node]
	_, foundIn := s.Inputs[node]
	return foundOut || foundIn
}

// OutputProperties implements GraphProperties.
func (s *StaticProperties) OutputProperties(node string) []TensorProperties {
	return s.Outputs[node]
}

// InputProperties implements GraphProperties.
func (s *StaticProperties) InputProperties(node string) []TensorProperties {
	return s.Inputs[node]
}
