package convert

import (
	"strings"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpConverter turns one host node into accelerator layers. In
// validation-only mode it must return before touching the network (params'
// Converter is nil there) and only perform shape/type/attribute checks plus
// weight materialization.
type OpConverter func(params *OpConverterParams) error

// OpConverterParams is the per-call argument bundle handed to an
// OpConverter. Built fresh for every node, discarded after the call.
type OpConverterParams struct {
	// Converter owns the network; nil in validation-only mode.
	Converter *Converter
	Node      *graphdef.NodeDef
	// Inputs holds the node's resolved positional inputs.
	Inputs []TensorOrWeights
	// Outputs accumulates the node's results; nil in validation-only mode.
	Outputs        *[]TensorOrWeights
	ValidationOnly bool
	WeightStore    *WeightStore
}

func (p *OpConverterParams) addOutput(out TensorOrWeights) {
	*p.Outputs = append(*p.Outputs, out)
}

// opConverters is the built-in operator registry, populated once at package
// initialization. The plugin registry is consulted first at dispatch time,
// so custom operators can shadow built-ins.
var opConverters = map[string]OpConverter{}

func registerOpConverter(name string, fn OpConverter) {
	opConverters[name] = fn
}

// Converter drives per-node conversion against one accelerator network. It
// owns the network handle, the symbol table of converted outputs, the
// graph-wide batch-size invariant and the weight arena for the pass. One
// Converter converts exactly one graph fragment; it is not reusable after a
// failure.
type Converter struct {
	network  anvil.Network
	halfMode bool

	// batchSize is the single batch size of the whole fragment; -1 until
	// the first concrete input tensor fixes it.
	batchSize int

	symbols     map[string]TensorOrWeights
	weightStore WeightStore
	plugins     PluginFactory
}

// NewConverter creates a Converter building into network. halfMode requests
// fp16 weight storage; plugins may be nil when no custom operators exist.
func NewConverter(network anvil.Network, halfMode bool, plugins PluginFactory) *Converter {
	return &Converter{
		network:   network,
		halfMode:  halfMode,
		batchSize: -1,
		symbols:   make(map[string]TensorOrWeights),
		plugins:   plugins,
	}
}

// Network returns the network under construction.
func (c *Converter) Network() anvil.Network { return c.network }

// HalfMode reports whether fp16 weight conversion is requested.
func (c *Converter) HalfMode() bool { return c.halfMode }

// BatchSize returns the fragment batch size, -1 while still unknown.
func (c *Converter) BatchSize() int { return c.batchSize }

// WeightStore returns the arena owning this pass's weight buffers.
func (c *Converter) WeightStore() *WeightStore { return &c.weightStore }

// MaybeUpdateBatchSize reconciles a candidate batch size with the stored
// one: fine if either is unknown (-1) or they agree; adopt the candidate
// when the stored one is unknown; otherwise an InvalidArgument mismatch.
func (c *Converter) MaybeUpdateBatchSize(batchSize int) error {
	if c.batchSize < 0 || batchSize < 0 || c.batchSize == batchSize {
		if c.batchSize < 0 && batchSize >= 0 {
			c.batchSize = batchSize
		}
		return nil
	}
	return status.InvalidArgumentf(
		"provided batch size does not match converter batch size: %d vs %d",
		batchSize, c.batchSize)
}

// AddTensorOrWeights binds value under name in the symbol table. Tensor
// values are stamped with the converter batch size first. Duplicate names
// are AlreadyExists.
func (c *Converter) AddTensorOrWeights(name string, value TensorOrWeights) error {
	if value.IsTensor() {
		value = value.withBatchSize(c.batchSize)
	}
	if _, found := c.symbols[name]; found {
		return status.AlreadyExistsf("tensor/weights %q already exists", name)
	}
	c.symbols[name] = value
	return nil
}

// GetTensorOrWeights resolves name in the symbol table; NotFound if absent.
func (c *Converter) GetTensorOrWeights(name string) (TensorOrWeights, error) {
	value, found := c.symbols[name]
	if !found {
		return TensorOrWeights{}, status.NotFoundf("tensor or weights with name %q could not be found", name)
	}
	return value, nil
}

// GetInputs resolves a node's positional inputs against the symbol table.
// Control-dependency inputs are skipped; a trailing ":0" is normalized to
// the bare name. A reference to a name not yet bound means the caller broke
// the producers-before-consumers ordering precondition.
func (c *Converter) GetInputs(node *graphdef.NodeDef) ([]TensorOrWeights, error) {
	inputs := make([]TensorOrWeights, 0, len(node.Input))
	for _, inputName := range node.Input {
		if graphdef.IsControlInput(inputName) {
			continue
		}
		name := inputName
		if strings.HasSuffix(name, ":0") {
			name = name[:len(name)-2]
		}
		value, found := c.symbols[name]
		if !found {
			return nil, status.InvalidArgumentf(
				"node %s should have an input named %q but it is not available",
				node.Name, name)
		}
		klog.V(2).Infof("retrieved input %q: %s", name, value)
		inputs = append(inputs, value)
	}
	return inputs, nil
}

// ConvertNode converts one node: resolves inputs, dispatches to the plugin
// or built-in converter, then binds every produced output in the symbol
// table under the framework naming convention ("node" for output 0,
// "node:i" beyond).
func (c *Converter) ConvertNode(node *graphdef.NodeDef) error {
	inputs, err := c.GetInputs(node)
	if err != nil {
		return err
	}

	var outputs []TensorOrWeights
	params := &OpConverterParams{
		Converter:   c,
		Node:        node,
		Inputs:      inputs,
		Outputs:     &outputs,
		WeightStore: &c.weightStore,
	}
	if c.plugins != nil && c.plugins.HasPlugin(node.Op) {
		if err := convertPluginNode(params, c.plugins); err != nil {
			return err
		}
	} else {
		converter, found := opConverters[node.Op]
		if !found {
			return status.Unimplementedf("no converter registered for op: %s", node.Op)
		}
		if err := converter(params); err != nil {
			return err
		}
	}

	for i := range outputs {
		output := outputs[i]
		outputName := graphdef.TensorName(node.Name, i)
		// Check the name before setting it: an identity-style pass-through
		// may hand back a tensor that is already an engine binding, and
		// renaming it would corrupt the binding.
		if output.IsTensor() && output.Tensor().Name() == "" {
			output.Tensor().SetName(outputName)
		}
		klog.V(2).Infof("adding output tensor %s: %s", outputName, output)
		if err := c.AddTensorOrWeights(outputName, output); err != nil {
			return errors.WithMessagef(err, "failed to add output for node %s", node.Name)
		}
	}
	return nil
}

// AddInputTensor creates an engine input binding named name with the given
// per-example dims and binds it in the symbol table. The batch size is
// reconciled first, so a fragment with inconsistent input batch sizes fails
// before touching the network.
func (c *Converter) AddInputTensor(name string, dtype anvil.DataType, dims anvil.Dims, batchSize int) error {
	if err := c.MaybeUpdateBatchSize(batchSize); err != nil {
		return errors.WithMessagef(err, "batch size doesn't match for tensor %q", name)
	}
	tensor, err := c.network.AddInput(name, dtype, dims)
	if err != nil || tensor == nil {
		return status.InvalidArgumentf("failed to create input tensor %q rank=%d: %v",
			name, dims.Rank, err)
	}
	if err := c.AddTensorOrWeights(name, TensorValue(tensor, batchSize)); err != nil {
		return errors.WithMessagef(err, "failed to add input tensor %q", name)
	}
	return nil
}

// OutputBinding pairs a symbol-table name with the external binding name it
// should be exposed under.
type OutputBinding struct {
	InternalName string
	ExternalName string
}

// RenameAndMarkOutputTensors renames each listed tensor to its external
// binding name and marks it as a network output, in slot order.
func (c *Converter) RenameAndMarkOutputTensors(bindings []OutputBinding) error {
	for _, binding := range bindings {
		value, err := c.GetTensorOrWeights(binding.InternalName)
		if err != nil {
			return err
		}
		if !value.IsTensor() {
			return status.InvalidArgumentf("output %q is weights, not a tensor", binding.InternalName)
		}
		tensor := value.Tensor()
		tensor.SetName(binding.ExternalName)
		klog.V(1).Infof("marking output tensor %q as %q", binding.InternalName, binding.ExternalName)
		c.network.MarkOutput(tensor)
	}
	return nil
}

// TransposeTensor permutes a tensor's axes with a shuffle layer. The
// permutation includes the implicit batch axis: its length must be the
// tensor rank plus one, and permuting the batch axis itself (perm[0] != 0)
// is unsupported.
func (c *Converter) TransposeTensor(tensor anvil.Tensor, permWithBatch []int) (anvil.Tensor, error) {
	dims := tensor.Dims()
	if len(permWithBatch)-1 != dims.Rank {
		return nil, status.InvalidArgumentf(
			"rank of perm for transpose does not match with that of the input")
	}
	if permWithBatch[0] != 0 {
		return nil, status.Unimplementedf("transpose at batch dimension is not supported")
	}

	layer, err := c.network.AddShuffle(tensor)
	if err != nil || layer == nil {
		return nil, addLayerError("internal transpose", err)
	}
	perm := make([]int, dims.Rank)
	for i := 0; i < dims.Rank; i++ {
		perm[i] = permWithBatch[i+1] - 1
	}
	layer.SetFirstTranspose(perm)

	// Identity reshape that only forwards the per-axis kind tags; sizes are
	// inferred from the transposed input.
	var reshapeDims anvil.Dims
	reshapeDims.Rank = dims.Rank
	for i := 0; i < dims.Rank; i++ {
		reshapeDims.Sizes[i] = 0
		reshapeDims.Kinds[i] = dims.Kinds[i]
	}
	layer.SetReshapeDims(reshapeDims)
	return layer.Output(0), nil
}

// PrepareTensorForShape returns a live tensor of exactly targetDims from
// value: the tensor itself when shapes already match, a reshape layer when
// they differ, or a constant layer when value is weights. When targetDims
// has no -1 wildcard the element counts must agree.
func (c *Converter) PrepareTensorForShape(value TensorOrWeights, targetDims anvil.Dims) (anvil.Tensor, error) {
	canCheckShapes := true
	for i := 0; i < targetDims.Rank; i++ {
		if targetDims.Sizes[i] == -1 {
			canCheckShapes = false
			break
		}
	}
	if canCheckShapes && value.Dims().Volume() != targetDims.Volume() {
		return nil, status.InvalidArgumentf("reshape shapes are not compatible: %s vs %s",
			value.Dims(), targetDims)
	}

	if value.IsTensor() {
		if value.Dims().Equal(targetDims) {
			return value.Tensor(), nil
		}
		layer, err := c.network.AddShuffle(value.Tensor())
		if err != nil || layer == nil {
			return nil, addLayerError("internal reshape", err)
		}
		layer.SetReshapeDims(targetDims)
		return layer.Output(0), nil
	}

	weights, err := value.Weights().AnvilWeights()
	if err != nil {
		return nil, err
	}
	layer, err := c.network.AddConstant(targetDims, weights)
	if err != nil || layer == nil {
		return nil, addLayerError("internal constant", err)
	}
	return layer.Output(0), nil
}

// addLayerError is the uniform verdict when the accelerator declines to add
// a layer: an internal error, since validation should have rejected the node
// earlier.
func addLayerError(context string, err error) error {
	if err != nil {
		return status.Internalf("failed to add accelerator layer, at: %s: %v", context, err)
	}
	return status.Internalf("failed to add accelerator layer, at: %s", context)
}
