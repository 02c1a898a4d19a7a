// Package sim is the in-memory reference backend: it records the network a
// conversion builds and infers every layer's output shape the way the real
// accelerator would, so the conversion pipeline can be exercised end to end
// without hardware. Importing the package registers it under the name "sim".
package sim

import (
	"encoding/json"
	"fmt"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/pkg/errors"
)

func init() {
	anvil.Register("sim", func(config string) (anvil.Backend, error) {
		return &Backend{}, nil
	})
}

// Backend is the simulator. It is stateless; all state lives in the builders
// and networks it creates.
type Backend struct{}

// Name implements anvil.Backend.
func (b *Backend) Name() string { return "sim" }

// NewBuilder implements anvil.Backend.
func (b *Backend) NewBuilder() anvil.Builder { return &Builder{} }

// Builder collects build parameters and compiles recorded networks.
type Builder struct {
	maxBatchSize int
	maxWorkspace int64
	halfMode     bool
	int8Mode     bool
	calibrator   anvil.Int8Calibrator

	networksBuilt int
}

func (b *Builder) SetMaxBatchSize(batchSize int)                      { b.maxBatchSize = batchSize }
func (b *Builder) SetMaxWorkspaceSize(bytes int64)                    { b.maxWorkspace = bytes }
func (b *Builder) SetHalfMode(enabled bool)                           { b.halfMode = enabled }
func (b *Builder) SetInt8Mode(enabled bool)                           { b.int8Mode = enabled }
func (b *Builder) SetInt8Calibrator(calibrator anvil.Int8Calibrator)  { b.calibrator = calibrator }

// CreateNetwork implements anvil.Builder.
func (b *Builder) CreateNetwork() (anvil.Network, error) {
	return &Network{builder: b}, nil
}

// BuildEngine implements anvil.Builder. The simulator "compiles" by freezing
// the recorded network into an engine handle with resolved bindings.
func (b *Builder) BuildEngine(network anvil.Network) (anvil.Engine, error) {
	net, ok := network.(*Network)
	if !ok {
		return nil, errors.Errorf("network %T was not created by this builder", network)
	}
	if b.int8Mode && b.calibrator == nil {
		return nil, errors.New("int8 mode requires a calibrator")
	}
	if len(net.inputs) == 0 {
		return nil, errors.New("network has no inputs")
	}
	if len(net.outputs) == 0 {
		return nil, errors.New("network has no outputs marked")
	}
	b.networksBuilt++
	engine := &Engine{
		name:         fmt.Sprintf("sim-engine-%d", b.networksBuilt),
		maxBatchSize: b.maxBatchSize,
		halfMode:     b.halfMode,
		int8Mode:     b.int8Mode,
	}
	for _, input := range net.inputs {
		engine.bindings = append(engine.bindings, binding{
			Name: input.Name(), Input: true, Dims: input.Dims().Slice(),
		})
	}
	for _, output := range net.outputs {
		engine.bindings = append(engine.bindings, binding{
			Name: output.Name(), Dims: output.Dims().Slice(),
		})
	}
	return engine, nil
}

// Tensor is a recorded value handle. Its dims may be computed lazily so that
// layer parameters set after creation (stride, reshape dims) are reflected.
type Tensor struct {
	name   string
	dtype  anvil.DataType
	dims   anvil.Dims
	dimsFn func() anvil.Dims
}

func (t *Tensor) Name() string         { return t.name }
func (t *Tensor) SetName(name string)  { t.name = name }
func (t *Tensor) Type() anvil.DataType { return t.dtype }

func (t *Tensor) Dims() anvil.Dims {
	if t.dimsFn != nil {
		return t.dimsFn()
	}
	return t.dims
}

// Layer is the common recorded-layer state.
type Layer struct {
	name    string
	kind    string
	outputs []*Tensor
}

func (l *Layer) Name() string            { return l.name }
func (l *Layer) SetName(name string)     { l.name = name }
func (l *Layer) NumOutputs() int         { return len(l.outputs) }
func (l *Layer) Output(i int) anvil.Tensor {
	return l.outputs[i]
}

// Network records layers and infers their output shapes.
type Network struct {
	builder *Builder
	inputs  []*Tensor
	outputs []*Tensor
	layers  []*Layer
}

func (n *Network) newLayer(kind string) *Layer {
	layer := &Layer{kind: kind, name: fmt.Sprintf("%s_%d", kind, len(n.layers))}
	n.layers = append(n.layers, layer)
	return layer
}

// AddInput implements anvil.Network.
func (n *Network) AddInput(name string, dtype anvil.DataType, dims anvil.Dims) (anvil.Tensor, error) {
	if dims.Rank < 0 || dims.Rank > anvil.MaxDims {
		return nil, errors.Errorf("input %q has invalid rank %d", name, dims.Rank)
	}
	tensor := &Tensor{name: name, dtype: dtype, dims: dims}
	n.inputs = append(n.inputs, tensor)
	return tensor, nil
}

// MarkOutput implements anvil.Network.
func (n *Network) MarkOutput(tensor anvil.Tensor) {
	n.outputs = append(n.outputs, tensor.(*Tensor))
}

func spatialOut(input, kernel, stride, pre, post int) int {
	if stride <= 0 {
		stride = 1
	}
	return (input+pre+post-kernel)/stride + 1
}

// ConvolutionLayer records a 2D convolution.
type ConvolutionLayer struct {
	Layer
	input         *Tensor
	numOutputMaps int
	kernel        anvil.HW
	stride        anvil.HW
	padding       anvil.HW
	groups        int
	kernelWeights anvil.Weights
	biasWeights   anvil.Weights
}

func (l *ConvolutionLayer) SetStride(stride anvil.HW) { l.stride = stride }
func (l *ConvolutionLayer) SetPadding(pad anvil.HW)   { l.padding = pad }
func (l *ConvolutionLayer) SetNumGroups(groups int)   { l.groups = groups }

func (l *ConvolutionLayer) outputDims() anvil.Dims {
	in := l.input.Dims()
	var dims anvil.Dims
	dims.Rank = 3
	dims.Sizes[0] = l.numOutputMaps
	dims.Kinds[0] = anvil.AxisChannel
	dims.Sizes[1] = spatialOut(in.Sizes[1], l.kernel.H, l.stride.H, l.padding.H, l.padding.H)
	dims.Sizes[2] = spatialOut(in.Sizes[2], l.kernel.W, l.stride.W, l.padding.W, l.padding.W)
	return dims
}

// AddConvolution implements anvil.Network.
func (n *Network) AddConvolution(input anvil.Tensor, numOutputMaps int, kernel anvil.HW,
	kernelWeights, biasWeights anvil.Weights) (anvil.ConvolutionLayer, error) {
	in := input.(*Tensor)
	if in.Dims().Rank != 3 {
		return nil, errors.Errorf("convolution input must have rank 3, got %d", in.Dims().Rank)
	}
	layer := &ConvolutionLayer{
		Layer:         *n.newLayer("conv"),
		input:         in,
		numOutputMaps: numOutputMaps,
		kernel:        kernel,
		stride:        anvil.HW{H: 1, W: 1},
		groups:        1,
		kernelWeights: kernelWeights,
		biasWeights:   biasWeights,
	}
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: layer.outputDims}}
	return layer, nil
}

// PoolingLayer records a 2D pooling.
type PoolingLayer struct {
	Layer
	input   *Tensor
	pooling anvil.PoolingType
	window  anvil.HW
	stride  anvil.HW
	padding anvil.HW
}

func (l *PoolingLayer) SetStride(stride anvil.HW) { l.stride = stride }
func (l *PoolingLayer) SetPadding(pad anvil.HW)   { l.padding = pad }

func (l *PoolingLayer) outputDims() anvil.Dims {
	in := l.input.Dims()
	dims := in
	dims.Sizes[1] = spatialOut(in.Sizes[1], l.window.H, l.stride.H, l.padding.H, l.padding.H)
	dims.Sizes[2] = spatialOut(in.Sizes[2], l.window.W, l.stride.W, l.padding.W, l.padding.W)
	return dims
}

// AddPooling implements anvil.Network.
func (n *Network) AddPooling(input anvil.Tensor, pooling anvil.PoolingType, windowSize anvil.HW) (anvil.PoolingLayer, error) {
	in := input.(*Tensor)
	if in.Dims().Rank != 3 {
		return nil, errors.Errorf("pooling input must have rank 3, got %d", in.Dims().Rank)
	}
	layer := &PoolingLayer{
		Layer:   *n.newLayer("pool"),
		input:   in,
		pooling: pooling,
		window:  windowSize,
		stride:  anvil.HW{H: 1, W: 1},
	}
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: layer.outputDims}}
	return layer, nil
}

// AddActivation implements anvil.Network.
func (n *Network) AddActivation(input anvil.Tensor, activation anvil.ActivationType) (anvil.Layer, error) {
	in := input.(*Tensor)
	layer := n.newLayer("activation")
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: in.Dims}}
	return layer, nil
}

// AddElementWise implements anvil.Network. Operand dims must match per axis
// or be 1; the output takes the larger extent.
func (n *Network) AddElementWise(lhs, rhs anvil.Tensor, op anvil.ElementWiseOp) (anvil.Layer, error) {
	l, r := lhs.(*Tensor), rhs.(*Tensor)
	ld, rd := l.Dims(), r.Dims()
	if ld.Rank != rd.Rank {
		return nil, errors.Errorf("elementwise operands must have equal rank: %d vs %d", ld.Rank, rd.Rank)
	}
	var dims anvil.Dims
	dims.Rank = ld.Rank
	for i := 0; i < ld.Rank; i++ {
		a, b := ld.Sizes[i], rd.Sizes[i]
		if a != b && a != 1 && b != 1 {
			return nil, errors.Errorf("elementwise operand shapes incompatible at axis %d: %s vs %s", i, ld, rd)
		}
		if a > b {
			dims.Sizes[i] = a
		} else {
			dims.Sizes[i] = b
		}
		dims.Kinds[i] = ld.Kinds[i]
	}
	layer := n.newLayer("elementwise")
	layer.outputs = []*Tensor{{dtype: l.dtype, dims: dims}}
	return layer, nil
}

// AddUnary implements anvil.Network.
func (n *Network) AddUnary(input anvil.Tensor, op anvil.UnaryOp) (anvil.Layer, error) {
	in := input.(*Tensor)
	layer := n.newLayer("unary")
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: in.Dims}}
	return layer, nil
}

// AddScale implements anvil.Network. Requires the rank-3 channels-first view.
func (n *Network) AddScale(input anvil.Tensor, mode anvil.ScaleMode, shift, scale, power anvil.Weights) (anvil.Layer, error) {
	in := input.(*Tensor)
	dims := in.Dims()
	if dims.Rank != 3 {
		return nil, errors.Errorf("scale input must have rank 3, got %d", dims.Rank)
	}
	if mode == anvil.ScaleChannel {
		channels := int64(dims.Sizes[0])
		for _, w := range []anvil.Weights{shift, scale, power} {
			if w.Count != 0 && w.Count != channels {
				return nil, errors.Errorf("channel scale parameter count %d does not match %d channels", w.Count, channels)
			}
		}
	}
	layer := n.newLayer("scale")
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: in.Dims}}
	return layer, nil
}

// ShuffleLayer records a transpose/reshape/transpose.
type ShuffleLayer struct {
	Layer
	input      *Tensor
	firstPerm  []int
	reshape    anvil.Dims
	hasReshape bool
	secondPerm []int
}

func (l *ShuffleLayer) SetFirstTranspose(perm []int)  { l.firstPerm = append([]int(nil), perm...) }
func (l *ShuffleLayer) SetSecondTranspose(perm []int) { l.secondPerm = append([]int(nil), perm...) }
func (l *ShuffleLayer) SetReshapeDims(dims anvil.Dims) {
	l.reshape = dims
	l.hasReshape = true
}

func permuteDims(dims anvil.Dims, perm []int) anvil.Dims {
	out := dims
	for i, p := range perm {
		out.Sizes[i] = dims.Sizes[p]
		out.Kinds[i] = dims.Kinds[p]
	}
	return out
}

// applyReshape resolves the 0 (copy) and -1 (infer) placeholders of a
// shuffle reshape against the input dims.
func applyReshape(in, spec anvil.Dims) anvil.Dims {
	var out anvil.Dims
	out.Rank = spec.Rank
	inferAxis := -1
	known := int64(1)
	for i := 0; i < spec.Rank; i++ {
		switch spec.Sizes[i] {
		case 0:
			out.Sizes[i] = in.Sizes[i]
			out.Kinds[i] = in.Kinds[i]
			known *= int64(out.Sizes[i])
		case -1:
			inferAxis = i
			out.Kinds[i] = spec.Kinds[i]
		default:
			out.Sizes[i] = spec.Sizes[i]
			out.Kinds[i] = spec.Kinds[i]
			known *= int64(out.Sizes[i])
		}
	}
	if inferAxis >= 0 {
		out.Sizes[inferAxis] = int(in.Volume() / known)
	}
	return out
}

func (l *ShuffleLayer) outputDims() anvil.Dims {
	dims := l.input.Dims()
	if l.firstPerm != nil {
		dims = permuteDims(dims, l.firstPerm)
	}
	if l.hasReshape {
		dims = applyReshape(dims, l.reshape)
	}
	if l.secondPerm != nil {
		dims = permuteDims(dims, l.secondPerm)
	}
	return dims
}

// AddShuffle implements anvil.Network.
func (n *Network) AddShuffle(input anvil.Tensor) (anvil.ShuffleLayer, error) {
	in := input.(*Tensor)
	layer := &ShuffleLayer{Layer: *n.newLayer("shuffle"), input: in}
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: layer.outputDims}}
	return layer, nil
}

// AddPadding implements anvil.Network. Pads the trailing two axes of a
// rank-3 tensor.
func (n *Network) AddPadding(input anvil.Tensor, prePadding, postPadding anvil.HW) (anvil.Layer, error) {
	in := input.(*Tensor)
	dims := in.Dims()
	if dims.Rank != 3 {
		return nil, errors.Errorf("padding input must have rank 3, got %d", dims.Rank)
	}
	out := dims
	out.Sizes[1] += prePadding.H + postPadding.H
	out.Sizes[2] += prePadding.W + postPadding.W
	layer := n.newLayer("padding")
	layer.outputs = []*Tensor{{dtype: in.dtype, dims: out}}
	return layer, nil
}

// AddConcatenation implements anvil.Network.
func (n *Network) AddConcatenation(inputs []anvil.Tensor, axis int) (anvil.Layer, error) {
	if len(inputs) == 0 {
		return nil, errors.New("concatenation needs at least one input")
	}
	first := inputs[0].(*Tensor)
	dims := first.Dims()
	if axis < 0 || axis >= dims.Rank {
		return nil, errors.Errorf("concatenation axis %d out of range for rank %d", axis, dims.Rank)
	}
	total := 0
	for _, input := range inputs {
		in := input.(*Tensor)
		d := in.Dims()
		if d.Rank != dims.Rank {
			return nil, errors.Errorf("concatenation rank mismatch: %d vs %d", d.Rank, dims.Rank)
		}
		for i := 0; i < dims.Rank; i++ {
			if i != axis && d.Sizes[i] != dims.Sizes[i] {
				return nil, errors.Errorf("concatenation inputs disagree at axis %d: %s vs %s", i, d, dims)
			}
		}
		total += d.Sizes[axis]
	}
	out := dims
	out.Sizes[axis] = total
	layer := n.newLayer("concat")
	layer.outputs = []*Tensor{{dtype: first.dtype, dims: out}}
	return layer, nil
}

// AddMatrixMultiply implements anvil.Network.
func (n *Network) AddMatrixMultiply(lhs anvil.Tensor, transposeLHS bool, rhs anvil.Tensor, transposeRHS bool) (anvil.Layer, error) {
	l, r := lhs.(*Tensor), rhs.(*Tensor)
	ld, rd := l.Dims(), r.Dims()
	if ld.Rank < 2 || rd.Rank < 2 {
		return nil, errors.Errorf("matrix multiply operands must have rank >= 2: %s x %s", ld, rd)
	}
	m := ld.Sizes[ld.Rank-2]
	k := ld.Sizes[ld.Rank-1]
	if transposeLHS {
		m, k = k, m
	}
	k2 := rd.Sizes[rd.Rank-2]
	nCols := rd.Sizes[rd.Rank-1]
	if transposeRHS {
		k2, nCols = nCols, k2
	}
	if k != k2 {
		return nil, errors.Errorf("matrix multiply inner dimensions mismatch: %d vs %d", k, k2)
	}
	out := ld
	out.Sizes[out.Rank-2] = m
	out.Sizes[out.Rank-1] = nCols
	layer := n.newLayer("matmul")
	layer.outputs = []*Tensor{{dtype: l.dtype, dims: out}}
	return layer, nil
}

// AddFullyConnected implements anvil.Network. The rank-3 input collapses to
// {numOutputs, 1, 1}.
func (n *Network) AddFullyConnected(input anvil.Tensor, numOutputs int, kernelWeights, biasWeights anvil.Weights) (anvil.Layer, error) {
	in := input.(*Tensor)
	if in.Dims().Rank != 3 {
		return nil, errors.Errorf("fully connected input must have rank 3, got %d", in.Dims().Rank)
	}
	var out anvil.Dims
	out.Rank = 3
	out.Sizes[0] = numOutputs
	out.Sizes[1] = 1
	out.Sizes[2] = 1
	out.Kinds[0] = anvil.AxisChannel
	layer := n.newLayer("fc")
	layer.outputs = []*Tensor{{dtype: in.dtype, dims: out}}
	return layer, nil
}

// AddReduce implements anvil.Network. axes is a bitmask over the non-batch
// dims.
func (n *Network) AddReduce(input anvil.Tensor, op anvil.ReduceOp, axes uint32, keepDims bool) (anvil.Layer, error) {
	in := input.(*Tensor)
	dims := in.Dims()
	if axes == 0 {
		return nil, errors.New("reduce needs at least one axis")
	}
	var out anvil.Dims
	for i := 0; i < dims.Rank; i++ {
		if axes&(1<<i) != 0 {
			if keepDims {
				out.Sizes[out.Rank] = 1
				out.Kinds[out.Rank] = dims.Kinds[i]
				out.Rank++
			}
			continue
		}
		out.Sizes[out.Rank] = dims.Sizes[i]
		out.Kinds[out.Rank] = dims.Kinds[i]
		out.Rank++
	}
	layer := n.newLayer("reduce")
	layer.outputs = []*Tensor{{dtype: in.dtype, dims: out}}
	return layer, nil
}

// AddSoftmax implements anvil.Network.
func (n *Network) AddSoftmax(input anvil.Tensor, axes uint32) (anvil.Layer, error) {
	in := input.(*Tensor)
	if axes == 0 {
		return nil, errors.New("softmax needs an axis")
	}
	layer := n.newLayer("softmax")
	layer.outputs = []*Tensor{{dtype: in.dtype, dimsFn: in.Dims}}
	return layer, nil
}

// TopKLayer records a top-k selection with value and index outputs.
type TopKLayer struct {
	Layer
}

// AddTopK implements anvil.Network.
func (n *Network) AddTopK(input anvil.Tensor, op anvil.TopKOp, k int, axes uint32) (anvil.TopKLayer, error) {
	in := input.(*Tensor)
	dims := in.Dims()
	if axes == 0 {
		return nil, errors.New("topk needs an axis")
	}
	out := dims
	for i := 0; i < dims.Rank; i++ {
		if axes&(1<<i) != 0 {
			out.Sizes[i] = k
		}
	}
	layer := &TopKLayer{Layer: *n.newLayer("topk")}
	layer.outputs = []*Tensor{
		{dtype: in.dtype, dims: out},
		{dtype: anvil.Int32, dims: out},
	}
	return layer, nil
}

// AddConstant implements anvil.Network.
func (n *Network) AddConstant(dims anvil.Dims, weights anvil.Weights) (anvil.Layer, error) {
	if dims.Volume() != weights.Count {
		return nil, errors.Errorf("constant dims %s do not match weight count %d", dims, weights.Count)
	}
	layer := n.newLayer("constant")
	layer.outputs = []*Tensor{{dtype: weights.Type, dims: dims}}
	return layer, nil
}

// AddPlugin implements anvil.Network. The plugin declares its own output
// shapes.
func (n *Network) AddPlugin(inputs []anvil.Tensor, plugin anvil.Plugin) (anvil.Layer, error) {
	inputDims := make([]anvil.Dims, len(inputs))
	dtype := anvil.Float
	for i, input := range inputs {
		in := input.(*Tensor)
		inputDims[i] = in.Dims()
		dtype = in.dtype
	}
	outputDims := plugin.OutputDims(inputDims)
	if len(outputDims) == 0 {
		return nil, errors.Errorf("plugin %s declared no outputs", plugin.Name())
	}
	layer := n.newLayer("plugin")
	for _, dims := range outputDims {
		layer.outputs = append(layer.outputs, &Tensor{dtype: dtype, dims: dims})
	}
	return layer, nil
}

// binding is one engine input or output in the serialized form.
type binding struct {
	Name  string `json:"name"`
	Input bool   `json:"input,omitempty"`
	Dims  []int  `json:"dims"`
}

// Engine is a frozen network.
type Engine struct {
	name         string
	maxBatchSize int
	halfMode     bool
	int8Mode     bool
	bindings     []binding
}

// Name implements anvil.Engine.
func (e *Engine) Name() string { return e.name }

// NumBindings implements anvil.Engine.
func (e *Engine) NumBindings() int { return len(e.bindings) }

// Binding returns the i-th binding name, inputs first in creation order.
func (e *Engine) Binding(i int) string { return e.bindings[i].Name }

// MaxBatchSize returns the batch size the engine was built for.
func (e *Engine) MaxBatchSize() int { return e.maxBatchSize }

// Serialize implements anvil.Engine with a JSON description of the frozen
// bindings, sufficient for caching and inspection.
func (e *Engine) Serialize() ([]byte, error) {
	return json.Marshal(struct {
		Name         string    `json:"name"`
		MaxBatchSize int       `json:"max_batch_size"`
		HalfMode     bool      `json:"half_mode,omitempty"`
		Int8Mode     bool      `json:"int8_mode,omitempty"`
		Bindings     []binding `json:"bindings"`
	}{e.name, e.maxBatchSize, e.halfMode, e.int8Mode, e.bindings})
}
