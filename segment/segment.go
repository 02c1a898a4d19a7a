// Package segment rewires an accelerator-bound subgraph of the host graph
// into a self-contained graph fragment: every edge crossing the segment
// boundary becomes a numbered placeholder (inputs) or identity (outputs)
// node, so the fragment can be converted and compiled on its own.
package segment

import (
	"fmt"
	"strings"

	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	types "github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// Placeholder name prefixes of the rewired fragment. The slot number of the
// engine binding is appended.
const (
	InputPHPrefix  = "AnvilInputPH_"
	OutputPHPrefix = "AnvilOutputPH_"
)

// InputPHName returns the input placeholder name for a binding slot.
func InputPHName(slot int) string { return fmt.Sprintf("%s%d", InputPHPrefix, slot) }

// OutputPHName returns the output identity name for a binding slot.
func OutputPHName(slot int) string { return fmt.Sprintf("%s%d", OutputPHPrefix, slot) }

// Edge is one edge of the host graph, viewed from the segment boundary.
type Edge struct {
	Src     *graphdef.NodeDef
	SrcID   int
	SrcPort int
	Dst     *graphdef.NodeDef
	DstID   int
	DstPort int
	Control bool
}

// EngineConnection describes one edge crossing the segment boundary. It is
// filled in two stages: the segmenter records the topology, ExtractSubgraph
// resolves the element type and shapes from graph properties.
type EngineConnection struct {
	OutsideNodeName string
	OutsideID       int
	OutsidePort     int

	InsideNodeName string
	InsideID       int
	InsidePort     int

	// ControlEdge connections carry no data and get no placeholder.
	ControlEdge bool

	// IsInputEdge is true for data flowing into the segment.
	IsInputEdge bool

	// PortNumber is the engine binding slot.
	PortNumber int

	DType        dtypes.DType
	OutsideShape graphdef.PartialShape
	InsideShape  graphdef.PartialShape
}

// getCommonNameScope returns the longest common name-scope prefix of two
// node names, cut at a '/' boundary.
func getCommonNameScope(opName, name string) string {
	size := 0
	limit := len(opName)
	if len(name) < limit {
		limit = len(name)
	}
	for i := 0; i < limit; i++ {
		if opName[i] != name[i] {
			break
		}
		if opName[i] == '/' {
			size = i + 1
		}
	}
	return opName[:size]
}

// ExtractSubgraph builds the self-contained fragment for one segment.
//
// nodeNames and nodeIDs identify the segment's nodes in graph, with nodeIDs
// in topological order. connections lists every boundary edge; their DType
// and shape fields are resolved here as a side effect. The returned graph
// holds the boundary placeholders followed by copies of the internal nodes
// with their boundary inputs rewired; the returned string is the segment's
// common name scope.
func ExtractSubgraph(graph *graphdef.GraphDef, props graphdef.GraphProperties,
	nodeNames types.Set[string], nodeIDs []int,
	connections []*EngineConnection) (*graphdef.GraphDef, string, error) {
	segmentDef := &graphdef.GraphDef{}
	markerNodes := types.Make[string]()

	// Resolve boundary properties and add one placeholder per distinct
	// binding slot. Multiple edges may share a slot; the first one wins.
	for _, connection := range connections {
		if connection.ControlEdge {
			continue
		}
		outsideNode := graph.Node(connection.OutsideID)
		if outsideNode == nil {
			return nil, "", status.NotFoundf(
				"cannot find node with id %d in the graph", connection.OutsideID)
		}

		var shape graphdef.PartialShape
		var dtype dtypes.DType
		if connection.IsInputEdge {
			shape, dtype = graphdef.OutputProperties(props, outsideNode, connection.OutsidePort)
			connection.OutsideShape = shape
		} else {
			shape, dtype = graphdef.InputProperties(props, outsideNode, connection.OutsidePort)
			connection.InsideShape = shape
		}
		connection.DType = dtype

		if connection.IsInputEdge {
			nodeName := InputPHName(connection.PortNumber)
			if markerNodes.Has(nodeName) {
				klog.V(1).Infof("reusing input %s for the edge %s:%d -> %s:%d",
					nodeName, connection.OutsideNodeName, connection.OutsidePort,
					connection.InsideNodeName, connection.InsidePort)
				continue
			}
			markerNodes.Insert(nodeName)
			segmentDef.AddNode(&graphdef.NodeDef{
				Name: nodeName,
				Op:   "Placeholder",
				Attrs: map[string]*graphdef.AttrValue{
					"shape": graphdef.ShapeAttr(shape),
					"dtype": graphdef.TypeAttr(dtype),
				},
			})
			klog.V(1).Infof("constructing input %s for the edge %s:%d -> %s:%d",
				nodeName, connection.OutsideNodeName, connection.OutsidePort,
				connection.InsideNodeName, connection.InsidePort)
		} else {
			nodeName := OutputPHName(connection.PortNumber)
			if markerNodes.Has(nodeName) {
				klog.V(1).Infof("reusing output %s for the edge %s:%d -> %s:%d",
					nodeName, connection.InsideNodeName, connection.InsidePort,
					connection.OutsideNodeName, connection.OutsidePort)
				continue
			}
			markerNodes.Insert(nodeName)
			segmentDef.AddNode(&graphdef.NodeDef{
				Name:  nodeName,
				Op:    "Identity",
				Input: []string{connection.InsideNodeName},
				Attrs: map[string]*graphdef.AttrValue{
					"T": graphdef.TypeAttr(dtype),
				},
			})
			klog.V(1).Infof("constructing output %s for the edge %s:%d -> %s:%d",
				nodeName, connection.InsideNodeName, connection.InsidePort,
				connection.OutsideNodeName, connection.OutsidePort)
		}
	}

	// Copy the internal nodes, remembering where each one landed.
	oldToNewID := make(map[int]int, len(nodeIDs))
	first := graph.Node(nodeIDs[0])
	if first == nil {
		return nil, "", status.NotFoundf("cannot find node with id %d in the graph", nodeIDs[0])
	}
	localScope := first.Name
	for _, nodeID := range nodeIDs {
		node := graph.Node(nodeID)
		if node == nil {
			return nil, "", status.NotFoundf("cannot find node with id %d in the graph", nodeID)
		}
		localScope = getCommonNameScope(localScope, node.Name)
		oldToNewID[nodeID] = len(segmentDef.Nodes)
		segmentDef.AddNode(node.Clone())
		klog.V(2).Infof("copying %s to subgraph", node.Name)
	}

	// Point boundary inputs of internal nodes at their placeholders.
	for _, connection := range connections {
		if connection.ControlEdge || !connection.IsInputEdge {
			continue
		}
		snode := segmentDef.Nodes[oldToNewID[connection.InsideID]]
		placeholderName := InputPHName(connection.PortNumber)
		klog.V(1).Infof("updating %s:%d from %s to %s",
			snode.Name, connection.InsidePort,
			snode.Input[connection.InsidePort], placeholderName)
		snode.Input[connection.InsidePort] = placeholderName
	}

	// Strip references to the outside: control dependencies are dropped, any
	// other outside reference means the connection list was incomplete.
	for _, snode := range segmentDef.Nodes {
		kept := snode.Input[:0]
		for _, input := range snode.Input {
			inputNode, port := graphdef.ParseTensorName(input)
			if !nodeNames.Has(inputNode) && !strings.HasPrefix(inputNode, InputPHPrefix) {
				if port == graphdef.ControlSlot {
					klog.V(1).Infof("removing control input %s from subgraph", inputNode)
					continue
				}
				return nil, "", status.InvalidArgumentf(
					"found non control input outside the segment that is not an engine connection to %s: %s",
					snode.Name, inputNode)
			}
			kept = append(kept, input)
		}
		snode.Input = kept
	}

	klog.Infof("segment @scope %q, converted to graph", localScope)
	return segmentDef, localScope, nil
}
