package graphdef

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestParseTensorName(t *testing.T) {
	node, port := ParseTensorName("conv1")
	require.Equal(t, "conv1", node)
	require.Equal(t, 0, port)

	node, port = ParseTensorName("conv1:2")
	require.Equal(t, "conv1", node)
	require.Equal(t, 2, port)

	node, port = ParseTensorName("^init")
	require.Equal(t, "init", node)
	require.Equal(t, ControlSlot, port)

	// A colon that is not a port suffix belongs to the name.
	node, port = ParseTensorName("scope:name")
	require.Equal(t, "scope:name", node)
	require.Equal(t, 0, port)
}

func TestTensorName(t *testing.T) {
	require.Equal(t, "n", TensorName("n", 0))
	require.Equal(t, "n:3", TensorName("n", 3))
}

func TestIsControlInput(t *testing.T) {
	require.True(t, IsControlInput("^dep"))
	require.False(t, IsControlInput("dep"))
}

func TestNodeDefClone(t *testing.T) {
	node := &NodeDef{
		Name:  "a",
		Op:    "Identity",
		Input: []string{"b", "^c"},
		Attrs: map[string]*AttrValue{"T": TypeAttr(dtypes.Float32)},
	}
	clone := node.Clone()
	clone.Input[0] = "rewired"
	require.Equal(t, "b", node.Input[0])
	require.Equal(t, dtypes.Float32, clone.Attr("T").Type)
}

func TestGraphDefLookup(t *testing.T) {
	g := &GraphDef{}
	g.AddNode(&NodeDef{Name: "x", Op: "Placeholder"})
	g.AddNode(&NodeDef{Name: "y", Op: "Relu", Input: []string{"x"}})

	require.Equal(t, "y", g.Node(1).Name)
	require.Nil(t, g.Node(2))
	require.Nil(t, g.Node(-1))
	require.Equal(t, "Relu", g.NodeByName("y").Op)
	require.Nil(t, g.NodeByName("z"))
}

func TestOutputPropertiesFallback(t *testing.T) {
	props := &StaticProperties{
		Outputs: map[string][]TensorProperties{
			"x": {{DType: dtypes.Float32, Shape: MakeShape(4, 3)}},
		},
	}
	x := &NodeDef{Name: "x", Op: "Placeholder"}
	shape, dtype := OutputProperties(props, x, 0)
	require.Equal(t, dtypes.Float32, dtype)
	require.Equal(t, []int64{4, 3}, shape.Dims())

	// Unknown node falls back to the declared dtype with an unknown shape.
	y := &NodeDef{Name: "y", Op: "Cast", Attrs: map[string]*AttrValue{"T": TypeAttr(dtypes.Int32)}}
	shape, dtype = OutputProperties(props, y, 0)
	require.Equal(t, dtypes.Int32, dtype)
	require.Equal(t, -1, shape.Rank())

	// So does a port beyond what inference produced.
	shape, dtype = OutputProperties(props, x, 5)
	require.Equal(t, -1, shape.Rank())
	require.Equal(t, dtypes.InvalidDType, dtype)
}

func TestPartialShape(t *testing.T) {
	s := MakeShape(4, -1, 3)
	require.Equal(t, 3, s.Rank())
	require.False(t, s.IsFullyDefined())
	require.Equal(t, "[4,?,3]", s.String())

	u := UnknownShape()
	require.Equal(t, -1, u.Rank())
	require.Nil(t, u.Dims())
	require.Equal(t, "<unknown>", u.String())

	require.True(t, MakeShape(2, 2).IsFullyDefined())
}
