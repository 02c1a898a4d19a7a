package convert

import (
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/gopjrt/dtypes"
)

// nodeAttrs is a typed accessor over a node's attribute map. Converters use
// it to fetch operator parameters with kind-checked extraction; a missing
// required attribute or a kind mismatch is an InvalidArgument on the node.
type nodeAttrs struct {
	node *graphdef.NodeDef
}

func attrsOf(node *graphdef.NodeDef) nodeAttrs {
	return nodeAttrs{node: node}
}

func (a nodeAttrs) get(name string, kind graphdef.AttrKind) (*graphdef.AttrValue, error) {
	attr := a.node.Attr(name)
	if attr == nil {
		return nil, status.InvalidArgumentf("node %s (%s) is missing required attribute %q",
			a.node.Name, a.node.Op, name)
	}
	if attr.Kind != kind {
		return nil, status.InvalidArgumentf("node %s (%s) attribute %q is %s, expected %s",
			a.node.Name, a.node.Op, name, attr.Kind, kind)
	}
	return attr, nil
}

// Keys returns all attribute names, in map order.
func (a nodeAttrs) Keys() []string {
	keys := make([]string, 0, len(a.node.Attrs))
	for key := range a.node.Attrs {
		keys = append(keys, key)
	}
	return keys
}

// Has reports whether the attribute is present.
func (a nodeAttrs) Has(name string) bool {
	return a.node.Attr(name) != nil
}

// String fetches a required string attribute.
func (a nodeAttrs) String(name string) (string, error) {
	attr, err := a.get(name, graphdef.AttrString)
	if err != nil {
		return "", err
	}
	return attr.S, nil
}

// Float fetches a required float attribute.
func (a nodeAttrs) Float(name string) (float32, error) {
	attr, err := a.get(name, graphdef.AttrFloat)
	if err != nil {
		return 0, err
	}
	return attr.F, nil
}

// Bool fetches a required bool attribute.
func (a nodeAttrs) Bool(name string) (bool, error) {
	attr, err := a.get(name, graphdef.AttrBool)
	if err != nil {
		return false, err
	}
	return attr.B, nil
}

// Type fetches a required element-type attribute.
func (a nodeAttrs) Type(name string) (dtypes.DType, error) {
	attr, err := a.get(name, graphdef.AttrType)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	return attr.Type, nil
}

// Ints fetches a required int-list attribute as ints.
func (a nodeAttrs) Ints(name string) ([]int, error) {
	attr, err := a.get(name, graphdef.AttrIntList)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(attr.Ints))
	for i, v := range attr.Ints {
		out[i] = int(v)
	}
	return out, nil
}

// Floats fetches an optional float-list attribute; nil when absent. A single
// float attribute is accepted as a one-element list, the lenient reading
// used when forwarding attributes to plugins.
func (a nodeAttrs) Floats(name string) ([]float32, error) {
	attr := a.node.Attr(name)
	if attr == nil {
		return nil, nil
	}
	switch attr.Kind {
	case graphdef.AttrFloatList:
		return attr.Floats, nil
	case graphdef.AttrFloat:
		return []float32{attr.F}, nil
	default:
		return nil, status.InvalidArgumentf("node %s (%s) attribute %q is %s, expected floats",
			a.node.Name, a.node.Op, name, attr.Kind)
	}
}

// Tensor fetches a required tensor-constant attribute.
func (a nodeAttrs) Tensor(name string) (*graphdef.TensorDef, error) {
	attr, err := a.get(name, graphdef.AttrTensor)
	if err != nil {
		return nil, err
	}
	if attr.Tensor == nil {
		return nil, status.Internalf("node %s (%s) attribute %q has a nil tensor",
			a.node.Name, a.node.Op, name)
	}
	return attr.Tensor, nil
}

// StringOr fetches a string attribute or returns defaultValue when absent.
func (a nodeAttrs) StringOr(name, defaultValue string) string {
	if attr := a.node.Attr(name); attr != nil && attr.Kind == graphdef.AttrString {
		return attr.S
	}
	return defaultValue
}

// BoolOr fetches a bool attribute or returns defaultValue when absent.
func (a nodeAttrs) BoolOr(name string, defaultValue bool) bool {
	if attr := a.node.Attr(name); attr != nil && attr.Kind == graphdef.AttrBool {
		return attr.B
	}
	return defaultValue
}
