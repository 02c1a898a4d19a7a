// Package graphdef models the host framework's computation graph as consumed
// by the conversion pipeline: nodes with an operator name, positional string
// inputs and a typed attribute map. The host runtime owns the real graph;
// this package is the read-only in-memory projection of it.
package graphdef

import (
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// ControlMarker prefixes an input name that is a control dependency rather
// than a data edge.
const ControlMarker = "^"

// ControlSlot is the pseudo port number of control edges.
const ControlSlot = -1

// NodeDef is one operation node of the host graph.
type NodeDef struct {
	Name string
	Op   string

	// Input holds the producer of each input slot as "node", "node:i", or
	// "^node" for a control dependency.
	Input []string

	Attrs map[string]*AttrValue
}

// Attr returns the named attribute or nil.
func (n *NodeDef) Attr(name string) *AttrValue {
	if n.Attrs == nil {
		return nil
	}
	return n.Attrs[name]
}

// Clone returns a copy of the node whose Input slice can be rewritten
// without touching the original. Attribute values are shared; they are
// immutable by convention.
func (n *NodeDef) Clone() *NodeDef {
	clone := &NodeDef{Name: n.Name, Op: n.Op, Input: append([]string(nil), n.Input...)}
	if n.Attrs != nil {
		clone.Attrs = make(map[string]*AttrValue, len(n.Attrs))
		for key, value := range n.Attrs {
			clone.Attrs[key] = value
		}
	}
	return clone
}

// OutputType returns the node's statically declared output element type,
// used as a fallback when shape inference has no information for the node.
// It consults the conventional "dtype" then "T" attributes; InvalidDType if
// neither is present.
func (n *NodeDef) OutputType() dtypes.DType {
	for _, key := range []string{"dtype", "T"} {
		if attr := n.Attr(key); attr != nil && attr.Kind == AttrType {
			return attr.Type
		}
	}
	return dtypes.InvalidDType
}

// GraphDef is an ordered list of nodes. For graphs fed to the engine
// orchestrator the order is the conversion order: producers must appear
// before consumers.
type GraphDef struct {
	Nodes []*NodeDef
}

// AddNode appends node and returns it, for builder-style construction.
func (g *GraphDef) AddNode(node *NodeDef) *NodeDef {
	g.Nodes = append(g.Nodes, node)
	return node
}

// Node returns the node at index id, mirroring the host graph's id-based
// lookup. Nil if out of range.
func (g *GraphDef) Node(id int) *NodeDef {
	if id < 0 || id >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[id]
}

// NodeByName returns the first node with the given name, or nil.
func (g *GraphDef) NodeByName(name string) *NodeDef {
	for _, node := range g.Nodes {
		if node.Name == name {
			return node
		}
	}
	return nil
}

// IsControlInput reports whether the input reference is a control dependency.
func IsControlInput(input string) bool {
	return strings.HasPrefix(input, ControlMarker)
}

// ParseTensorName splits an input reference into producer node name and
// output port. "node" is port 0, "node:i" is port i, "^node" is the control
// pseudo-port.
func ParseTensorName(input string) (node string, port int) {
	if IsControlInput(input) {
		return input[len(ControlMarker):], ControlSlot
	}
	last := strings.LastIndexByte(input, ':')
	if last < 0 {
		return input, 0
	}
	port, err := strconv.Atoi(input[last+1:])
	if err != nil || port < 0 {
		// Not a port suffix; the whole string names the node.
		return input, 0
	}
	return input[:last], port
}

// TensorName builds the canonical reference for the given producer output:
// the bare node name for port 0, "node:i" otherwise.
func TensorName(node string, port int) string {
	if port == 0 {
		return node
	}
	return node + ":" + strconv.Itoa(port)
}
