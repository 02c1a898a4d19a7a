package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"k8s.io/klog/v2"
)

var elementWiseOps = map[string]anvil.ElementWiseOp{
	"Add":     anvil.ElementWiseSum,
	"Mul":     anvil.ElementWiseProd,
	"Sub":     anvil.ElementWiseSub,
	"Div":     anvil.ElementWiseDiv,
	"RealDiv": anvil.ElementWiseDiv,
	"Minimum": anvil.ElementWiseMin,
	"Maximum": anvil.ElementWiseMax,
}

// binaryTensorOpWeight lowers tensor-vs-constant arithmetic as a scale
// layer. tensor is the left operand and weights the right one unless
// swappedInputs is set. Only a restricted family of shapes fits the scale
// layer's uniform/channel/elementwise modes; incompatible cases return an
// error and the caller falls back to the elementwise path.
func binaryTensorOpWeight(params *OpConverterParams, tensor anvil.Tensor,
	weights ShapedWeights, swappedInputs bool) error {
	node := params.Node
	switch node.Op {
	case "Sub", "Add", "Mul", "Div", "RealDiv":
	default:
		return status.Unimplementedf("op not supported: %s, at: %s", node.Op, node.Name)
	}

	if _, err := anvilDType(weights.DType()); err != nil {
		return err
	}

	dimsW := weights.Shape()
	dimsT := tensor.Dims()

	// The scale layer only accepts rank-3 inputs.
	if dimsT.Rank != 3 {
		return status.InvalidArgumentf("scale requires tensor with rank 3, %s", node.Name)
	}

	scaleMode := anvil.ScaleElementwise
	permutationFlag := false

	if weights.Count() == 1 {
		klog.V(2).Info("uniform scale")
		scaleMode = anvil.ScaleUniform
	} else {
		// No broadcasting on the batch dimension.
		klog.V(2).Infof("weights rank: %d tensor rank: %d", dimsW.Rank, dimsT.Rank)
		if dimsW.Rank == dimsT.Rank+1 {
			if dimsW.Sizes[0] != 1 {
				return status.InvalidArgumentf("binary op cannot operate on batch, %s", node.Name)
			}
			for i := 1; i < dimsW.Rank; i++ {
				dimsW.Sizes[i-1] = dimsW.Sizes[i]
			}
			dimsW.Rank--
		}

		if dimsW.Rank == dimsT.Rank && dimsW.Sizes[0] == dimsT.Sizes[0] {
			scaleMode = anvil.ScaleElementwise
			for i := 1; i < dimsW.Rank; i++ {
				if dimsW.Sizes[i] != dimsT.Sizes[i] {
					klog.V(2).Info("channel scale")
					scaleMode = anvil.ScaleChannel
					break
				}
			}
			if scaleMode == anvil.ScaleChannel {
				for i := 1; i < dimsW.Rank; i++ {
					if dimsW.Sizes[i] != 1 {
						return status.InvalidArgumentf("weight shape not compatible at, %s", node.Name)
					}
				}
			}
		} else if dimsW.Rank == 1 && dimsW.Sizes[0] == dimsT.Sizes[dimsT.Rank-1] {
			// Channel-wise against the trailing axis; the framework's
			// broadcasting puts channels last, the scale layer wants them
			// first, so transpose around the scale.
			permutationFlag = true
			scaleMode = anvil.ScaleChannel
		} else {
			return status.InvalidArgumentf("weight shape not compatible at, %s", node.Name)
		}
	}

	permutation := make([]int, dimsT.Rank+1)
	if permutationFlag {
		if scaleMode == anvil.ScaleChannel && dimsT.Rank > 1 {
			for i := range permutation {
				permutation[i] = i
			}
			permutation[1] = dimsT.Rank
			permutation[dimsT.Rank] = 1
			var err error
			tensor, err = params.Converter.TransposeTensor(tensor, permutation)
			if err != nil {
				return err
			}
		} else {
			return status.InvalidArgumentf("transpose cannot be applied, %s", node.Name)
		}
	}

	if params.Converter.HalfMode() {
		weights = convertFP32ToFP16(params.WeightStore, weights)
	}

	shiftWeights := emptyWeights(weights.DType())
	scaleWeights := emptyWeights(weights.DType())
	powerWeights := emptyWeights(weights.DType())

	switch node.Op {
	case "Sub":
		if swappedInputs {
			shiftWeights = weights
			layer, err := params.Converter.Network().AddUnary(tensor, anvil.UnaryNeg)
			if err != nil || layer == nil {
				return addLayerError(node.Name, err)
			}
			tensor = layer.Output(0)
		} else {
			negWeights := params.WeightStore.GetTempWeightsLike(weights)
			if err := unaryCompute(weights, negWeights, foldNeg); err != nil {
				return err
			}
			shiftWeights = negWeights
		}
	case "Div", "RealDiv":
		if swappedInputs {
			scaleWeights = weights
			layer, err := params.Converter.Network().AddUnary(tensor, anvil.UnaryRecip)
			if err != nil || layer == nil {
				return addLayerError(node.Name, err)
			}
			tensor = layer.Output(0)
		} else {
			recipWeights := params.WeightStore.GetTempWeightsLike(weights)
			if err := unaryCompute(weights, recipWeights, foldRecip); err != nil {
				return err
			}
			scaleWeights = recipWeights
		}
	case "Mul":
		scaleWeights = weights
	case "Add":
		shiftWeights = weights
	}

	shift, err := shiftWeights.AnvilWeights()
	if err != nil {
		return err
	}
	scale, err := scaleWeights.AnvilWeights()
	if err != nil {
		return err
	}
	power, err := powerWeights.AnvilWeights()
	if err != nil {
		return err
	}
	layer, err := params.Converter.Network().AddScale(tensor, scaleMode, shift, scale, power)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	outputTensor := layer.Output(0)

	if permutationFlag {
		outputTensor, err = params.Converter.TransposeTensor(outputTensor, permutation)
		if err != nil {
			return err
		}
	}

	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

// binaryTensorOpTensor lowers arbitrary binary arithmetic as an elementwise
// layer, broadcasting both operands to a common shape first.
func binaryTensorOpTensor(params *OpConverterParams, operandL, operandR TensorOrWeights) error {
	node := params.Node
	op, found := elementWiseOps[node.Op]
	if !found {
		return status.Unimplementedf("binary op: %s not supported at: %s", node.Op, node.Name)
	}

	dimL, dimR, err := getBroadcastShape(
		operandL.Dims(), operandL.IsTensor(),
		operandR.Dims(), operandR.IsTensor())
	if err != nil {
		return status.InvalidArgumentf(
			"binary op broadcast scheme not supported by op: %s, at: %s: %v",
			node.Op, node.Name, err)
	}

	tensorL, err := params.Converter.PrepareTensorForShape(operandL, dimL)
	if err != nil {
		return err
	}
	tensorR, err := params.Converter.PrepareTensorForShape(operandR, dimR)
	if err != nil {
		return err
	}

	attrs := attrsOf(node)
	dtype, err := attrs.Type("T")
	if err != nil {
		return err
	}
	expected, err := anvilDType(dtype)
	if err != nil {
		return err
	}
	if tensorL.Type() != expected || tensorR.Type() != expected {
		return status.InvalidArgumentf("mismatched operand types for %s, at %s", node.Op, node.Name)
	}

	layer, err := params.Converter.Network().AddElementWise(tensorL, tensorR, op)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}

// convertBinary prefers the scale layer for tensor-vs-constant arithmetic
// and falls back to the general elementwise layer when the operand shapes or
// the op do not fit the scale modes.
func convertBinary(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 {
		return status.FailedPreconditionf("binary ops require two inputs, at %s", node.Name)
	}

	// Constant folding belongs to the host framework.
	if inputs[0].IsWeights() && inputs[1].IsWeights() {
		return status.Unimplementedf(
			"binary op received both inputs as constant at: %s", node.Name)
	}

	var err error
	if inputs[0].IsTensor() && inputs[1].IsWeights() {
		err = binaryTensorOpWeight(params, inputs[0].Tensor(), inputs[1].Weights(), false)
	} else if inputs[0].IsWeights() && inputs[1].IsTensor() {
		err = binaryTensorOpWeight(params, inputs[1].Tensor(), inputs[0].Weights(), true)
	}
	if (inputs[0].IsTensor() && inputs[1].IsTensor()) || err != nil {
		err = binaryTensorOpTensor(params, inputs[0], inputs[1])
	}
	return err
}

var unaryOps = map[string]anvil.UnaryOp{
	"Neg":        anvil.UnaryNeg,
	"Exp":        anvil.UnaryExp,
	"Log":        anvil.UnaryLog,
	"Sqrt":       anvil.UnarySqrt,
	"Abs":        anvil.UnaryAbs,
	"Reciprocal": anvil.UnaryRecip,
}

func convertUnary(params *OpConverterParams) error {
	node := params.Node
	if len(params.Inputs) != 1 {
		return status.FailedPreconditionf("unary ops require single input, at %s", node.Name)
	}

	tensor, err := params.Converter.PrepareTensorForShape(params.Inputs[0], params.Inputs[0].Dims())
	if err != nil {
		return err
	}

	var layer anvil.Layer
	if node.Op == "Rsqrt" {
		// No native rsqrt; compose sqrt then reciprocal.
		sqrtLayer, err := params.Converter.Network().AddUnary(tensor, anvil.UnarySqrt)
		if err != nil || sqrtLayer == nil {
			return addLayerError(node.Name, err)
		}
		layer, err = params.Converter.Network().AddUnary(sqrtLayer.Output(0), anvil.UnaryRecip)
		if err != nil || layer == nil {
			return addLayerError(node.Name, err)
		}
	} else if op, found := unaryOps[node.Op]; found {
		layer, err = params.Converter.Network().AddUnary(tensor, op)
		if err != nil || layer == nil {
			return addLayerError(node.Name, err)
		}
	} else {
		return status.InvalidArgumentf("unary op: %s not supported, at %s", node.Op, node.Name)
	}

	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}
