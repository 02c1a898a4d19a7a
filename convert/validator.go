package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NodeValidator answers, before any accelerator resource exists, whether a
// node would convert. It runs the real converter functions in
// validation-only mode against synthetic inputs built from graph shape
// inference, so validation and conversion cannot drift apart.
//
// Only ops whose converters are known to be side-effect-free before their
// first network call are registered here; everything else is optimistically
// accepted and left for conversion to reject.
type NodeValidator struct {
	validators  map[string]OpConverter
	weightStore WeightStore
}

// NewNodeValidator returns a validator with the vetted op set registered.
func NewNodeValidator() *NodeValidator {
	v := &NodeValidator{validators: make(map[string]OpConverter)}
	for _, op := range []string{"Const", "Transpose", "Reshape", "MatMul"} {
		if fn, found := opConverters[op]; found {
			v.validators[op] = fn
		}
	}
	return v
}

// ValidateNode checks whether node would convert, given its resolved
// positional inputs. Nodes with no registered validator pass by default.
func (v *NodeValidator) ValidateNode(node *graphdef.NodeDef, inputs []TensorOrWeights) error {
	validator, found := v.validators[node.Op]
	if !found {
		klog.V(2).Infof("no validator registered for op %s, accepting node %s", node.Op, node.Name)
		return nil
	}
	params := &OpConverterParams{
		Node:           node,
		Inputs:         inputs,
		ValidationOnly: true,
		WeightStore:    &v.weightStore,
	}
	return validator(params)
}

// ConvertConstToWeights materializes a constant node into weights owned by
// the validator's store, so validation sees the real payload.
func (v *NodeValidator) ConvertConstToWeights(constNode *graphdef.NodeDef) (TensorOrWeights, error) {
	var outputs []TensorOrWeights
	params := &OpConverterParams{
		Node:        constNode,
		Outputs:     &outputs,
		WeightStore: &v.weightStore,
	}
	if err := convertConst(params); err != nil {
		return TensorOrWeights{}, err
	}
	if len(outputs) != 1 {
		return TensorOrWeights{}, status.Internalf(
			"constant node %s produced %d outputs", constNode.Name, len(outputs))
	}
	return outputs[0], nil
}

// IsCandidate resolves node's inputs against the graph and its inferred
// properties and validates the node: constant producers are materialized as
// weights, everything else becomes a shape-and-type-only stand-in tensor.
func (v *NodeValidator) IsCandidate(graph *graphdef.GraphDef, props graphdef.GraphProperties,
	node *graphdef.NodeDef) error {
	if _, found := v.validators[node.Op]; !found {
		return nil
	}
	inputs := make([]TensorOrWeights, 0, len(node.Input))
	for _, ref := range node.Input {
		if graphdef.IsControlInput(ref) {
			continue
		}
		producerName, port := graphdef.ParseTensorName(ref)
		producer := graph.NodeByName(producerName)
		if producer == nil {
			return status.NotFoundf("input %q of node %s not found in graph", producerName, node.Name)
		}
		if producer.Op == "Const" {
			input, err := v.ConvertConstToWeights(producer)
			if err != nil {
				return errors.WithMessagef(err, "failed to materialize input %q of node %s",
					producerName, node.Name)
			}
			inputs = append(inputs, input)
			continue
		}
		shape, dtype := graphdef.OutputProperties(props, producer, port)
		input, err := syntheticTensor(shape, dtype)
		if err != nil {
			return errors.WithMessagef(err, "input %q of node %s", producerName, node.Name)
		}
		inputs = append(inputs, input)
	}
	return v.ValidateNode(node, inputs)
}

// syntheticTensor builds the validation stand-in for a live tensor from a
// full inferred shape, splitting off the leading batch dimension.
func syntheticTensor(shape graphdef.PartialShape, dtype dtypes.DType) (TensorOrWeights, error) {
	rank := shape.Rank()
	if rank < 0 {
		return TensorOrWeights{}, status.InvalidArgumentf(
			"tensor with shape %s has an unknown rank", shape)
	}
	if rank < 1 {
		return TensorOrWeights{}, status.InvalidArgumentf(
			"scalar tensor lacks a batch dimension")
	}
	if rank-1 > anvil.MaxDims {
		return TensorOrWeights{}, status.OutOfRangef(
			"tensor rank %d exceeds the supported maximum", rank)
	}
	var dims anvil.Dims
	dims.Rank = rank - 1
	for i := 1; i < rank; i++ {
		dims.Sizes[i-1] = int(shape.Dim(i))
	}
	return TensorValue(&fakeTensor{dtype: dtype, dims: dims}, int(shape.Dim(0))), nil
}

// fakeTensor is the stand-in live tensor used during validation: shape and
// type only, no network behind it.
type fakeTensor struct {
	name  string
	dtype dtypes.DType
	dims  anvil.Dims
}

func (t *fakeTensor) Name() string         { return t.name }
func (t *fakeTensor) SetName(name string)  { t.name = name }
func (t *fakeTensor) Dims() anvil.Dims     { return t.dims }
func (t *fakeTensor) Type() anvil.DataType { dt, _ := anvilDType(t.dtype); return dt }
