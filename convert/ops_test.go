package convert

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

// runConverter drives one converter function the way ConvertNode would.
func runConverter(t *testing.T, c *Converter, node *graphdef.NodeDef,
	inputs []TensorOrWeights) ([]TensorOrWeights, error) {
	t.Helper()
	fn, found := opConverters[node.Op]
	require.True(t, found, "no converter registered for %s", node.Op)
	var outputs []TensorOrWeights
	var store *WeightStore
	if c != nil {
		store = c.WeightStore()
	} else {
		store = &WeightStore{}
	}
	err := fn(&OpConverterParams{
		Converter:   c,
		Node:        node,
		Inputs:      inputs,
		Outputs:     &outputs,
		WeightStore: store,
	})
	return outputs, err
}

func constNode(name string, tensor *graphdef.TensorDef) *graphdef.NodeDef {
	return &graphdef.NodeDef{
		Name: name,
		Op:   "Const",
		Attrs: map[string]*graphdef.AttrValue{
			"dtype": graphdef.TypeAttr(tensor.DType),
			"value": graphdef.TensorAttr(tensor),
		},
	}
}

func TestConvertConst(t *testing.T) {
	t.Run("FloatList", func(t *testing.T) {
		outputs, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Float32, Shape: []int64{3}, FloatVal: []float32{1, 2, 3},
		}), nil)
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		w := outputs[0].Weights()
		require.Equal(t, dtypes.Float32, w.DType())
		require.Equal(t, []int{3}, w.Shape().Slice())
		require.Equal(t, []float32{1, 2, 3}, w.Float32s())
	})

	t.Run("Splat", func(t *testing.T) {
		outputs, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Float32, Shape: []int64{2, 2}, FloatVal: []float32{7},
		}), nil)
		require.NoError(t, err)
		w := outputs[0].Weights()
		require.Equal(t, []int{2, 2}, w.Shape().Slice())
		require.Equal(t, []float32{7, 7, 7, 7}, w.Float32s())
	})

	t.Run("Int8ContentWidensToInt32", func(t *testing.T) {
		outputs, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Int8, Shape: []int64{3}, Content: []byte{1, 2, 0xFF},
		}), nil)
		require.NoError(t, err)
		w := outputs[0].Weights()
		require.Equal(t, dtypes.Int32, w.DType())
		require.Equal(t, []int32{1, 2, -1}, w.Int32s())
	})

	t.Run("Float32Content", func(t *testing.T) {
		content := make([]byte, 8)
		binary.LittleEndian.PutUint32(content[0:], math.Float32bits(1.5))
		binary.LittleEndian.PutUint32(content[4:], math.Float32bits(-2))
		outputs, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Float32, Shape: []int64{2}, Content: content,
		}), nil)
		require.NoError(t, err)
		require.Equal(t, []float32{1.5, -2}, outputs[0].Weights().Float32s())
	})

	t.Run("ContentSizeMismatch", func(t *testing.T) {
		_, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Float32, Shape: []int64{2}, Content: []byte{1, 2, 3},
		}), nil)
		require.Equal(t, status.FailedPrecondition, status.Code(err))
	})

	t.Run("ShapePayloadMismatch", func(t *testing.T) {
		_, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Float32, Shape: []int64{4}, FloatVal: []float32{1, 2, 3},
		}), nil)
		require.Equal(t, status.InvalidArgument, status.Code(err))
	})

	t.Run("HalfUnimplemented", func(t *testing.T) {
		_, err := runConverter(t, nil, constNode("c", &graphdef.TensorDef{
			DType: dtypes.Float16, Shape: []int64{1}, HalfVal: []uint16{0x3C00},
		}), nil)
		require.Equal(t, status.Unimplemented, status.Code(err))
	})

	t.Run("RejectsInputs", func(t *testing.T) {
		node := constNode("c", &graphdef.TensorDef{DType: dtypes.Float32, FloatVal: []float32{1}})
		node.Input = []string{"x"}
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(1)))
		_, err := runConverter(t, c, node, []TensorOrWeights{TensorValue(tensor, -1)})
		require.Equal(t, status.InvalidArgument, status.Code(err))
	})
}

func TestConvertBinaryScalePath(t *testing.T) {
	t.Run("UniformAdd", func(t *testing.T) {
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDimsCHW(3, 2, 2)))
		weights := floatWeights(c.WeightStore(), anvil.MakeDims(1), 2)

		node := &graphdef.NodeDef{Name: "add", Op: "Add",
			Attrs: map[string]*graphdef.AttrValue{"T": graphdef.TypeAttr(dtypes.Float32)}}
		outputs, err := runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(weights)})
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		require.Equal(t, []int{3, 2, 2}, outputs[0].Dims().Slice())
	})

	t.Run("ChannelLastMulTransposesAround", func(t *testing.T) {
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(4, 4, 5)))
		weights := floatWeights(c.WeightStore(), anvil.MakeDims(5), 1, 2, 3, 4, 5)

		node := &graphdef.NodeDef{Name: "mul", Op: "Mul",
			Attrs: map[string]*graphdef.AttrValue{"T": graphdef.TypeAttr(dtypes.Float32)}}
		outputs, err := runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(weights)})
		require.NoError(t, err)
		// Transposed to channels-first for the scale, then back.
		require.Equal(t, []int{4, 4, 5}, outputs[0].Dims().Slice())
	})

	t.Run("FallsBackToElementWise", func(t *testing.T) {
		// Rank-2 tensors do not fit the scale layer; the elementwise path
		// handles them.
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(2, 3)))
		weights := floatWeights(c.WeightStore(), anvil.MakeDims(2, 3), 1, 2, 3, 4, 5, 6)

		node := &graphdef.NodeDef{Name: "sub", Op: "Sub",
			Attrs: map[string]*graphdef.AttrValue{"T": graphdef.TypeAttr(dtypes.Float32)}}
		outputs, err := runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(weights)})
		require.NoError(t, err)
		require.Equal(t, []int{2, 3}, outputs[0].Dims().Slice())
	})

	t.Run("BothConstantsRejected", func(t *testing.T) {
		c := newTestConverter(t)
		w := floatWeights(c.WeightStore(), anvil.MakeDims(1), 1)
		node := &graphdef.NodeDef{Name: "add", Op: "Add"}
		_, err := runConverter(t, c, node,
			[]TensorOrWeights{WeightsValue(w), WeightsValue(w)})
		require.Equal(t, status.Unimplemented, status.Code(err))
	})
}

func TestConvertUnary(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(3)))

	for _, op := range []string{"Exp", "Log", "Sqrt", "Abs", "Neg", "Reciprocal", "Rsqrt"} {
		node := &graphdef.NodeDef{Name: "u_" + op, Op: op}
		outputs, err := runConverter(t, c, node, []TensorOrWeights{TensorValue(tensor, -1)})
		require.NoError(t, err, op)
		require.Equal(t, []int{3}, outputs[0].Dims().Slice(), op)
	}
}

func TestConvertReshape(t *testing.T) {
	run := func(t *testing.T, batch int, inputDims anvil.Dims, shape []int32) error {
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, inputDims))
		weights := intWeights(c.WeightStore(), anvil.MakeDims(len(shape)), shape...)
		node := &graphdef.NodeDef{Name: "reshape", Op: "Reshape"}
		_, err := runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, batch), WeightsValue(weights)})
		return err
	}

	t.Run("MatchingBatchAccepted", func(t *testing.T) {
		require.NoError(t, run(t, 5, anvil.MakeDims(2, 6), []int32{5, 3, 4}))
	})
	t.Run("BatchChangeRejected", func(t *testing.T) {
		err := run(t, 5, anvil.MakeDims(2, 6), []int32{4, 3, 5})
		require.Equal(t, status.Unimplemented, status.Code(err))
	})
	t.Run("WildcardBatchProvenSafe", func(t *testing.T) {
		require.NoError(t, run(t, 5, anvil.MakeDims(2, 6), []int32{-1, 12}))
	})
	t.Run("WildcardBatchUnproven", func(t *testing.T) {
		err := run(t, 5, anvil.MakeDims(2, 6), []int32{-1, 7})
		require.Equal(t, status.Unimplemented, status.Code(err))
	})
	t.Run("UnknownBatchStaticVolumesAccepted", func(t *testing.T) {
		require.NoError(t, run(t, -1, anvil.MakeDims(2, 6), []int32{3, 12}))
	})
	t.Run("UnknownBatchVolumeMismatchRejected", func(t *testing.T) {
		err := run(t, -1, anvil.MakeDims(2, 6), []int32{3, 7})
		require.Equal(t, status.Unimplemented, status.Code(err))
	})
	t.Run("EmptyShapeRejected", func(t *testing.T) {
		err := run(t, 5, anvil.MakeDims(2, 6), nil)
		require.Equal(t, status.Unimplemented, status.Code(err))
	})
}

func TestConvertTranspose(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(2, 3, 4)))
	node := &graphdef.NodeDef{Name: "t", Op: "Transpose"}

	perm := intWeights(c.WeightStore(), anvil.MakeDims(4), 0, 3, 1, 2)
	outputs, err := runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(perm)})
	require.NoError(t, err)
	require.Equal(t, []int{4, 2, 3}, outputs[0].Dims().Slice())

	badPerm := intWeights(c.WeightStore(), anvil.MakeDims(4), 1, 0, 2, 3)
	_, err = runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(badPerm)})
	require.Equal(t, status.Unimplemented, status.Code(err))
}

func TestConvertConcat(t *testing.T) {
	c := newTestConverter(t)
	a := must.M1(c.Network().AddInput("a", anvil.Float, anvil.MakeDims(3, 4)))
	b := must.M1(c.Network().AddInput("b", anvil.Float, anvil.MakeDims(5, 4)))

	node := &graphdef.NodeDef{Name: "concat", Op: "ConcatV2",
		Attrs: map[string]*graphdef.AttrValue{"Tidx": graphdef.TypeAttr(dtypes.Int32)}}

	axis := intWeights(c.WeightStore(), anvil.MakeDims(1), 1)
	outputs, err := runConverter(t, c, node, []TensorOrWeights{
		TensorValue(a, -1), TensorValue(b, -1), WeightsValue(axis)})
	require.NoError(t, err)
	require.Equal(t, []int{8, 4}, outputs[0].Dims().Slice())

	// Negative axes count from the end, batch included.
	axis = intWeights(c.WeightStore(), anvil.MakeDims(1), -2)
	outputs, err = runConverter(t, c, node, []TensorOrWeights{
		TensorValue(a, -1), TensorValue(b, -1), WeightsValue(axis)})
	require.NoError(t, err)
	require.Equal(t, []int{8, 4}, outputs[0].Dims().Slice())

	// The batch axis is off limits.
	axis = intWeights(c.WeightStore(), anvil.MakeDims(1), 0)
	_, err = runConverter(t, c, node, []TensorOrWeights{
		TensorValue(a, -1), TensorValue(b, -1), WeightsValue(axis)})
	require.Equal(t, status.InvalidArgument, status.Code(err))

	// Non-concatenation axes must agree.
	wide := must.M1(c.Network().AddInput("wide", anvil.Float, anvil.MakeDims(3, 9)))
	axis = intWeights(c.WeightStore(), anvil.MakeDims(1), 1)
	_, err = runConverter(t, c, node, []TensorOrWeights{
		TensorValue(a, -1), TensorValue(wide, -1), WeightsValue(axis)})
	require.Equal(t, status.InvalidArgument, status.Code(err))
}

func TestConvertReduce(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(3, 4)))

	node := func(op string) *graphdef.NodeDef {
		return &graphdef.NodeDef{Name: "r", Op: op, Attrs: map[string]*graphdef.AttrValue{
			"Tidx":      graphdef.TypeAttr(dtypes.Int32),
			"keep_dims": graphdef.BoolAttr(false),
		}}
	}

	// Axis 2 of the full shape is axis 1 of the accelerator view.
	axes := intWeights(c.WeightStore(), anvil.MakeDims(1), 2)
	outputs, err := runConverter(t, c, node("Mean"),
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(axes)})
	require.NoError(t, err)
	require.Equal(t, []int{3}, outputs[0].Dims().Slice())

	// Negative axes normalize against the full rank.
	axes = intWeights(c.WeightStore(), anvil.MakeDims(1), -1)
	outputs, err = runConverter(t, c, node("Sum"),
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(axes)})
	require.NoError(t, err)
	require.Equal(t, []int{3}, outputs[0].Dims().Slice())

	// Reducing the batch axis is rejected.
	axes = intWeights(c.WeightStore(), anvil.MakeDims(1), 0)
	_, err = runConverter(t, c, node("Max"),
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(axes)})
	require.Equal(t, status.InvalidArgument, status.Code(err))
}

func TestConvertMatMul(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(4)))
	kernel := floatWeights(c.WeightStore(), anvil.MakeDims(4, 2),
		1, 2, 3, 4, 5, 6, 7, 8)

	node := &graphdef.NodeDef{Name: "fc", Op: "MatMul",
		Attrs: map[string]*graphdef.AttrValue{
			"T":           graphdef.TypeAttr(dtypes.Float32),
			"transpose_a": graphdef.BoolAttr(false),
			"transpose_b": graphdef.BoolAttr(false),
		}}
	outputs, err := runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(kernel)})
	require.NoError(t, err)
	require.Equal(t, []int{2}, outputs[0].Dims().Slice())

	// transpose_a has no fully connected equivalent.
	node.Attrs["transpose_a"] = graphdef.BoolAttr(true)
	_, err = runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(kernel)})
	require.Error(t, err)
}

func TestConvertBatchMatMul(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(3, 4)))
	// The leading 1 of the constant operand stands in for the batch.
	weights := floatWeights(c.WeightStore(), anvil.MakeDims(1, 4, 5), make([]float32, 20)...)

	node := &graphdef.NodeDef{Name: "bmm", Op: "BatchMatMul",
		Attrs: map[string]*graphdef.AttrValue{
			"T":     graphdef.TypeAttr(dtypes.Float32),
			"adj_x": graphdef.BoolAttr(false),
			"adj_y": graphdef.BoolAttr(false),
		}}
	outputs, err := runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(weights)})
	require.NoError(t, err)
	require.Equal(t, []int{3, 5}, outputs[0].Dims().Slice())

	// A constant operand without the broadcastable leading 1 is rejected.
	bad := floatWeights(c.WeightStore(), anvil.MakeDims(2, 4, 5), make([]float32, 40)...)
	_, err = runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(bad)})
	require.Equal(t, status.InvalidArgument, status.Code(err))
}

func TestConvertSoftmaxAndTopK(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(3, 10)))

	outputs, err := runConverter(t, c,
		&graphdef.NodeDef{Name: "sm", Op: "Softmax"},
		[]TensorOrWeights{TensorValue(tensor, -1)})
	require.NoError(t, err)
	require.Equal(t, []int{3, 10}, outputs[0].Dims().Slice())

	k := intWeights(c.WeightStore(), anvil.MakeDims(1), 4)
	outputs, err = runConverter(t, c,
		&graphdef.NodeDef{Name: "topk", Op: "TopKV2"},
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(k)})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	require.Equal(t, []int{3, 4}, outputs[0].Dims().Slice())
	require.Equal(t, anvil.Int32, outputs[1].Tensor().Type())
}

func TestConvertPad(t *testing.T) {
	run := func(t *testing.T, pads []int32) ([]TensorOrWeights, error) {
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(3, 5, 5)))
		weights := intWeights(c.WeightStore(), anvil.MakeDims(4, 2), pads...)
		node := &graphdef.NodeDef{Name: "pad", Op: "Pad",
			Attrs: map[string]*graphdef.AttrValue{"Tpaddings": graphdef.TypeAttr(dtypes.Int32)}}
		return runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(weights)})
	}

	t.Run("HeightWidth", func(t *testing.T) {
		outputs, err := run(t, []int32{0, 0, 0, 0, 1, 1, 2, 2})
		require.NoError(t, err)
		require.Equal(t, []int{3, 7, 9}, outputs[0].Dims().Slice())
	})

	t.Run("NoPaddingForwardsInput", func(t *testing.T) {
		outputs, err := run(t, []int32{0, 0, 0, 0, 0, 0, 0, 0})
		require.NoError(t, err)
		require.Equal(t, []int{3, 5, 5}, outputs[0].Dims().Slice())
	})

	t.Run("ChannelAxisRotatesThroughW", func(t *testing.T) {
		outputs, err := run(t, []int32{0, 0, 1, 1, 0, 0, 0, 0})
		require.NoError(t, err)
		require.Equal(t, []int{5, 5, 5}, outputs[0].Dims().Slice())
	})

	t.Run("BatchPadRejected", func(t *testing.T) {
		_, err := run(t, []int32{1, 0, 0, 0, 0, 0, 0, 0})
		require.Equal(t, status.InvalidArgument, status.Code(err))
	})

	t.Run("ChannelAndWidthRejected", func(t *testing.T) {
		_, err := run(t, []int32{0, 0, 1, 0, 0, 0, 0, 1})
		require.Equal(t, status.Unimplemented, status.Code(err))
	})
}

func TestConvertConv2D(t *testing.T) {
	c := newTestConverter(t)
	// NHWC input, batch implicit: 5x5 with 3 channels.
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(5, 5, 3)))
	// RSCK kernel: 3x3, 3 input channels, 8 output maps.
	kernel := floatWeights(c.WeightStore(), anvil.MakeDims(3, 3, 3, 8),
		make([]float32, 3*3*3*8)...)

	node := &graphdef.NodeDef{Name: "conv", Op: "Conv2D",
		Attrs: map[string]*graphdef.AttrValue{
			"data_format": graphdef.StringAttr("NHWC"),
			"strides":     graphdef.IntsAttr(1, 1, 1, 1),
			"padding":     graphdef.StringAttr("SAME"),
		}}
	outputs, err := runConverter(t, c, node,
		[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(kernel)})
	require.NoError(t, err)
	// SAME keeps the spatial size; the result is back in NHWC.
	require.Equal(t, []int{5, 5, 8}, outputs[0].Dims().Slice())
}

func TestConvertMaxPool(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(8, 6, 6)))

	node := &graphdef.NodeDef{Name: "pool", Op: "MaxPool",
		Attrs: map[string]*graphdef.AttrValue{
			"data_format": graphdef.StringAttr("NCHW"),
			"strides":     graphdef.IntsAttr(1, 1, 2, 2),
			"ksize":       graphdef.IntsAttr(1, 1, 2, 2),
			"padding":     graphdef.StringAttr("VALID"),
		}}
	outputs, err := runConverter(t, c, node, []TensorOrWeights{TensorValue(tensor, -1)})
	require.NoError(t, err)
	require.Equal(t, []int{8, 3, 3}, outputs[0].Dims().Slice())
}

func TestConvertBiasAdd(t *testing.T) {
	t.Run("NHWC", func(t *testing.T) {
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDims(5, 5, 16)))
		bias := floatWeights(c.WeightStore(), anvil.MakeDims(16), make([]float32, 16)...)

		node := &graphdef.NodeDef{Name: "bias", Op: "BiasAdd",
			Attrs: map[string]*graphdef.AttrValue{"data_format": graphdef.StringAttr("NHWC")}}
		outputs, err := runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(bias)})
		require.NoError(t, err)
		require.Equal(t, []int{5, 5, 16}, outputs[0].Dims().Slice())
	})

	t.Run("NCHW", func(t *testing.T) {
		c := newTestConverter(t)
		tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDimsCHW(16, 5, 5)))
		bias := floatWeights(c.WeightStore(), anvil.MakeDims(16), make([]float32, 16)...)

		node := &graphdef.NodeDef{Name: "bias", Op: "BiasAdd",
			Attrs: map[string]*graphdef.AttrValue{"data_format": graphdef.StringAttr("NCHW")}}
		outputs, err := runConverter(t, c, node,
			[]TensorOrWeights{TensorValue(tensor, -1), WeightsValue(bias)})
		require.NoError(t, err)
		require.Equal(t, []int{16, 5, 5}, outputs[0].Dims().Slice())
	})
}

func TestConvertFusedBatchNorm(t *testing.T) {
	c := newTestConverter(t)
	tensor := must.M1(c.Network().AddInput("x", anvil.Float, anvil.MakeDimsCHW(2, 4, 4)))
	store := c.WeightStore()

	scale := floatWeights(store, anvil.MakeDims(2), 1, 2)
	offset := floatWeights(store, anvil.MakeDims(2), 10, 20)
	mean := floatWeights(store, anvil.MakeDims(2), 1, 1)
	variance := floatWeights(store, anvil.MakeDims(2), 3, 8)

	node := &graphdef.NodeDef{Name: "bn", Op: "FusedBatchNorm",
		Attrs: map[string]*graphdef.AttrValue{
			"epsilon":     graphdef.FloatAttr(1),
			"data_format": graphdef.StringAttr("NCHW"),
			"is_training": graphdef.BoolAttr(false),
		}}
	inputs := []TensorOrWeights{
		TensorValue(tensor, -1), WeightsValue(scale), WeightsValue(offset),
		WeightsValue(mean), WeightsValue(variance),
	}
	outputs, err := runConverter(t, c, node, inputs)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4, 4}, outputs[0].Dims().Slice())

	node.Attrs["is_training"] = graphdef.BoolAttr(true)
	_, err = runConverter(t, c, node, inputs)
	require.Equal(t, status.Unimplemented, status.Code(err))
}
