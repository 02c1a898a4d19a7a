package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

func convertTranspose(params *OpConverterParams) error {
	inputs := params.Inputs
	if len(inputs) != 2 || !inputs[0].IsTensor() || !inputs[1].IsWeights() {
		return status.InvalidArgumentf("input expects tensor and weights, at %s",
			params.Node.Name)
	}

	// The permutation arrives as an int32 constant and covers the batch axis.
	weights := inputs[1].Weights()
	perm := make([]int, weights.Count())
	for i, v := range weights.Int32s() {
		perm[i] = int(v)
	}

	inputTensor := inputs[0].Tensor()
	if len(perm)-1 != inputTensor.Dims().Rank {
		return status.InvalidArgumentf(
			"rank of perm for transpose does not match with that of the input")
	}
	if perm[0] != 0 {
		return status.Unimplementedf("transpose at batch dimension is not supported")
	}

	if params.ValidationOnly {
		return nil
	}

	outputTensor, err := params.Converter.TransposeTensor(inputTensor, perm)
	if err != nil {
		return err
	}
	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

func convertReshape(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 || !inputs[1].IsWeights() {
		return status.InvalidArgumentf("input expects weights for shape, at %s", node.Name)
	}

	inputTensor := inputs[0]
	weights := inputs[1].Weights()
	if weights.Count() == 0 {
		return status.Unimplementedf("reshape to shape=[] is not supported, at %s", node.Name)
	}

	shape := weights.Int32s()

	// The requested shape covers the batch axis, which the accelerator does
	// not let a reshape touch. The check below is conservative: whenever the
	// combination of batch size, input dims and requested dims leaves any
	// possibility of the batch changing, the node is rejected.
	//
	// With the batch fixed, a leading -1 is fine only when everything else is
	// static and the element counts prove the -1 resolves to the batch. With
	// the batch unknown, only fully static input and requested dims with
	// matching element counts are accepted.
	inputBatchDim := inputTensor.BatchSize()
	reshapeBatchDim := int(shape[0])
	inputDims := inputTensor.Dims()

	var reshapeDims anvil.Dims
	reshapeDims.Rank = len(shape) - 1
	for i := 1; i < len(shape); i++ {
		reshapeDims.Sizes[i-1] = int(shape[i])
	}

	reshapeMayChangeBatchDim := false
	if inputBatchDim > 0 {
		if reshapeBatchDim == -1 {
			if !inputDims.IsStatic() || reshapeDims.Volume() != inputDims.Volume() {
				reshapeMayChangeBatchDim = true
			}
		} else if reshapeBatchDim != inputBatchDim {
			reshapeMayChangeBatchDim = true
		}
	} else if inputDims.IsStatic() {
		if !reshapeDims.IsStatic() || reshapeDims.Volume() != inputDims.Volume() {
			reshapeMayChangeBatchDim = true
		}
	} else {
		reshapeMayChangeBatchDim = true
	}
	klog.V(1).Infof("input_batch_dim=%d, input_dims=%s, reshape_batch_dim=%d, reshape_dims=%s",
		inputBatchDim, inputDims, reshapeBatchDim, reshapeDims)
	if reshapeMayChangeBatchDim {
		return status.Unimplementedf("reshape on batch dimension is not supported, at %s", node.Name)
	}
	if params.ValidationOnly {
		return nil
	}

	outputTensor, err := params.Converter.PrepareTensorForShape(inputTensor, reshapeDims)
	if err != nil {
		return err
	}
	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

// convertPad lowers an explicit Pad. Only height/width padding fits the
// accelerator's 2D padding layer, so at most two padded axes are accepted
// and a pad on axis 1 is rotated into the W slot with a transpose pair.
func convertPad(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 || !inputs[0].IsTensor() || !inputs[1].IsWeights() {
		return status.InvalidArgumentf("input expects tensor and weights, at %s", node.Name)
	}

	tensor := inputs[0].Tensor()
	dims := tensor.Dims()
	// Restore the implicit batch dimension.
	nbDims := dims.Rank + 1

	pads := inputs[1].Weights()

	attrs := attrsOf(node)
	paddingType, err := attrs.Type("Tpaddings")
	if err != nil {
		return err
	}
	if pads.Shape().Sizes[0] != nbDims || pads.Shape().Sizes[1] != 2 {
		return status.InvalidArgumentf(
			"pad only supports explicit padding on 4 dimensional tensor, at %s", node.Name)
	}
	if paddingType != dtypes.Int32 {
		return status.Unimplementedf("Tpaddings supports only int32")
	}
	padData := pads.Int32s()

	var padIndex []int
	for i := 0; i < nbDims; i++ {
		if padData[2*i] != 0 || padData[2*i+1] != 0 {
			padIndex = append(padIndex, i)
		}
	}

	// No padding at all; forward the input.
	if len(padIndex) == 0 {
		params.addOutput(inputs[0])
		return nil
	}

	if len(padIndex) > 2 {
		return status.InvalidArgumentf("padding layer does not support padding on > 2 axes")
	}
	if padIndex[0] == 0 {
		return status.InvalidArgumentf("padding layer does not support padding on batch dimension")
	}
	if len(padIndex) == 2 && padIndex[0] == 1 && padIndex[1] == 3 {
		return status.Unimplementedf("padding layer does not support padding on dimension 1 and 3 yet")
	}

	legitPad := true
	var prePadding, postPadding anvil.HW

	permutedPadIndex := append([]int(nil), padIndex...)
	if padIndex[0] == 1 {
		legitPad = false
		tensor, err = params.Converter.TransposeTensor(tensor, []int{0, 3, 2, 1})
		if err != nil {
			return err
		}
		permutedPadIndex[0] = 3
	}

	for i, index := range padIndex {
		switch permutedPadIndex[i] {
		case 2:
			prePadding.H = int(padData[index*2])
			postPadding.H = int(padData[index*2+1])
		case 3:
			prePadding.W = int(padData[index*2])
			postPadding.W = int(padData[index*2+1])
		}
	}

	layer, err := params.Converter.Network().AddPadding(tensor, prePadding, postPadding)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	outputTensor := layer.Output(0)

	if !legitPad {
		outputTensor, err = params.Converter.TransposeTensor(outputTensor, []int{0, 3, 2, 1})
		if err != nil {
			return err
		}
	}

	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

func convertConcat(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	// The last input is the axis, not a concatenated operand.
	inputSize := len(inputs) - 1
	if inputSize < 1 {
		return status.InvalidArgumentf("concat expects at least one input and an axis, at %s", node.Name)
	}

	if !inputs[0].IsTensor() {
		return status.InvalidArgumentf("concat supports only tensor inputs, at %s", node.Name)
	}
	if !inputs[inputSize].IsWeights() {
		return status.InvalidArgumentf("concat expects the axis as weights, at %s", node.Name)
	}
	axisWeights := inputs[inputSize].Weights()

	attrs := attrsOf(node)
	indexType, err := attrs.Type("Tidx")
	if err != nil {
		return err
	}
	if indexType != dtypes.Int32 {
		return status.Unimplementedf("Tidx supports only int32, at %s", node.Name)
	}

	index := int(axisWeights.Int32s()[0])

	dim := inputs[0].Tensor().Dims()
	if index > dim.Rank+1 {
		return status.InvalidArgumentf("concatenate on axis out of dimension range, at %s", node.Name)
	}
	if index == 0 {
		return status.InvalidArgumentf("concatenate on batch dimension not supported, at %s", node.Name)
	}
	if index < 0 {
		index = dim.Rank + index + 1
	}

	concatInputs := make([]anvil.Tensor, 0, inputSize)
	for i := 0; i < inputSize; i++ {
		if !inputs[i].IsTensor() {
			return status.InvalidArgumentf("concat supports only tensor inputs, at %s", node.Name)
		}
		tensorI := inputs[i].Tensor()
		dimI := tensorI.Dims()
		if dimI.Rank != dim.Rank {
			return status.InvalidArgumentf(
				"concatenate receives inputs with inconsistent dimensions, at %s", node.Name)
		}
		for j := 0; j < dim.Rank; j++ {
			// Every non-concatenation axis must agree.
			if j != index-1 && dimI.Sizes[j] != dim.Sizes[j] {
				return status.InvalidArgumentf(
					"concatenate receives inputs with inconsistent shape, at %s", node.Name)
			}
		}
		concatInputs = append(concatInputs, tensorI)
	}

	layer, err := params.Converter.Network().AddConcatenation(concatInputs, index-1)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}
