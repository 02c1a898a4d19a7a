package convert

import (
	"testing"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/anvil/sim"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/segment"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestValidateInputProperties(t *testing.T) {
	dtype, err := ValidateInputProperties(graphdef.MakeShape(4, 3, 8, 8), dtypes.Float32)
	require.NoError(t, err)
	require.Equal(t, anvil.Float, dtype)

	// An unknown batch dimension is fine; the batch is implicit anyway.
	_, err = ValidateInputProperties(graphdef.MakeShape(-1, 8), dtypes.Float32)
	require.NoError(t, err)

	_, err = ValidateInputProperties(graphdef.UnknownShape(), dtypes.Float32)
	require.Equal(t, status.InvalidArgument, status.Code(err))

	_, err = ValidateInputProperties(graphdef.MakeShape(4, -1), dtypes.Float32)
	require.Equal(t, status.InvalidArgument, status.Code(err))

	_, err = ValidateInputProperties(
		graphdef.MakeShape(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), dtypes.Float32)
	require.Equal(t, status.OutOfRange, status.Code(err))

	_, err = ValidateInputProperties(graphdef.MakeShape(4, 8), dtypes.Float64)
	require.Equal(t, status.InvalidArgument, status.Code(err))
}

// engineTestGraph is a rewired fragment the way package segment produces
// them: an input placeholder, a scalar constant, an Add, a Relu and the
// output identity.
func engineTestGraph() *graphdef.GraphDef {
	graph := &graphdef.GraphDef{}
	graph.AddNode(&graphdef.NodeDef{
		Name: segment.InputPHName(0),
		Op:   "Placeholder",
		Attrs: map[string]*graphdef.AttrValue{
			"dtype": graphdef.TypeAttr(dtypes.Float32),
			"shape": graphdef.ShapeAttr(graphdef.MakeShape(4, 1, 8, 8)),
		},
	})
	graph.AddNode(constNode("bias", &graphdef.TensorDef{
		DType: dtypes.Float32, Shape: []int64{1}, FloatVal: []float32{2},
	}))
	graph.AddNode(&graphdef.NodeDef{
		Name:  "model/add",
		Op:    "Add",
		Input: []string{segment.InputPHName(0), "bias"},
		Attrs: map[string]*graphdef.AttrValue{"T": graphdef.TypeAttr(dtypes.Float32)},
	})
	graph.AddNode(&graphdef.NodeDef{
		Name:  "model/relu",
		Op:    "Relu",
		Input: []string{"model/add"},
		Attrs: map[string]*graphdef.AttrValue{"T": graphdef.TypeAttr(dtypes.Float32)},
	})
	graph.AddNode(&graphdef.NodeDef{
		Name:  segment.OutputPHName(0),
		Op:    "Identity",
		Input: []string{"model/relu"},
		Attrs: map[string]*graphdef.AttrValue{"T": graphdef.TypeAttr(dtypes.Float32)},
	})
	return graph
}

func TestConvertGraphToEngine(t *testing.T) {
	backend := &sim.Backend{}
	engine, err := ConvertGraphToEngine(backend, engineTestGraph(), EngineConfig{
		Precision:         FP32Mode,
		MaxBatchSize:      4,
		MaxWorkspaceBytes: 1 << 20,
		InputShapes:       []graphdef.PartialShape{graphdef.MakeShape(4, 1, 8, 8)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, engine.NumBindings())

	simEngine := engine.(*sim.Engine)
	require.Equal(t, segment.InputPHName(0), simEngine.Binding(0))
	require.Equal(t, segment.OutputPHName(0), simEngine.Binding(1))
	require.Equal(t, 4, simEngine.MaxBatchSize())

	raw, err := engine.Serialize()
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestConvertGraphToEngineMissingInputShape(t *testing.T) {
	backend := &sim.Backend{}
	_, err := ConvertGraphToEngine(backend, engineTestGraph(), EngineConfig{
		MaxBatchSize: 4,
	})
	require.Equal(t, status.InvalidArgument, status.Code(err))
}

func TestConvertGraphToEngineRejectsUnknownOp(t *testing.T) {
	graph := engineTestGraph()
	graph.NodeByName("model/relu").Op = "Elu"

	backend := &sim.Backend{}
	_, err := ConvertGraphToEngine(backend, graph, EngineConfig{
		MaxBatchSize: 4,
		InputShapes:  []graphdef.PartialShape{graphdef.MakeShape(4, 1, 8, 8)},
	})
	require.Equal(t, status.Unimplemented, status.Code(err))
}

func TestPrecisionModeString(t *testing.T) {
	require.Equal(t, "FP32", FP32Mode.String())
	require.Equal(t, "FP16", FP16Mode.String())
	require.Equal(t, "INT8", INT8Mode.String())
}
