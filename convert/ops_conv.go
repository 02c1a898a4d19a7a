package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"k8s.io/klog/v2"
)

// convertConv2DHelper lowers a 2D convolution. group selects the grouping:
// 1 for a regular convolution, 0 for depthwise where the group count equals
// the input channel count.
func convertConv2DHelper(params *OpConverterParams, group int) error {
	node := params.Node
	if len(params.Inputs) != 2 || !params.Inputs[0].IsTensor() || !params.Inputs[1].IsWeights() {
		return status.InvalidArgumentf("conv expects tensor and weights, at %s", node.Name)
	}
	tensor := params.Inputs[0].Tensor()
	attrs := attrsOf(node)

	hIndex, wIndex := 2, 3
	dataFormat, err := attrs.String("data_format")
	if err != nil {
		return err
	}
	if dataFormat == "NHWC" {
		tensor, err = params.Converter.TransposeTensor(tensor, []int{0, 3, 1, 2})
		if err != nil {
			return err
		}
		hIndex, wIndex = 1, 2
	}

	// Channels-first from here on.
	tensorDims := tensor.Dims()

	numGroups := group
	if numGroups == 0 {
		numGroups = tensorDims.Sizes[0] // depthwise convolution
	}
	klog.V(2).Infof("groups count: %d", numGroups)

	weightsRSCK := params.Inputs[1].Weights()
	if weightsRSCK.Shape().Rank != 4 {
		return status.Internalf("Conv2D expects kernel of dimension 4, at: %s", node.Name)
	}
	if params.Converter.HalfMode() {
		weightsRSCK = convertFP32ToFP16(params.WeightStore, params.Inputs[1].Weights())
	}

	weights := params.WeightStore.GetTempWeightsLike(weightsRSCK)
	if err := reorderRSCKToKCRS(weightsRSCK, &weights, numGroups); err != nil {
		return err
	}
	biases := emptyWeights(weights.DType())
	noutput := weights.Shape().Sizes[0] * numGroups
	kernelSize := anvil.HW{H: weights.Shape().Sizes[2], W: weights.Shape().Sizes[3]}

	tfStride, err := attrs.Ints("strides")
	if err != nil {
		return err
	}
	stride := anvil.HW{H: tfStride[hIndex], W: tfStride[wIndex]}

	paddingType, err := attrs.String("padding")
	if err != nil {
		return err
	}
	var padding []padPair
	if paddingType == "SAME" {
		padding = createSamePadding(stride, kernelSize,
			[]int{tensorDims.Sizes[1], tensorDims.Sizes[2]})
	} else {
		padding = []padPair{{}, {}}
	}

	if padding[0].before != padding[0].after || padding[1].before != padding[1].after {
		// Asymmetric padding goes through an explicit padding layer; the
		// convolution then runs unpadded.
		padLayer, err := params.Converter.Network().AddPadding(tensor,
			anvil.HW{H: padding[0].before, W: padding[1].before},
			anvil.HW{H: padding[0].after, W: padding[1].after})
		if err != nil || padLayer == nil {
			return addLayerError(node.Name, err)
		}
		padding = []padPair{{}, {}}
		tensor = padLayer.Output(0)
	}

	kernelWeights, err := weights.AnvilWeights()
	if err != nil {
		return err
	}
	biasWeights, err := biases.AnvilWeights()
	if err != nil {
		return err
	}
	layer, err := params.Converter.Network().AddConvolution(tensor, noutput, kernelSize,
		kernelWeights, biasWeights)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	layer.SetStride(stride)
	layer.SetPadding(anvil.HW{H: padding[0].before, W: padding[1].before})
	layer.SetName(node.Name)
	layer.SetNumGroups(numGroups)
	outputTensor := layer.Output(0)

	if dataFormat == "NHWC" {
		outputTensor, err = params.Converter.TransposeTensor(outputTensor, []int{0, 2, 3, 1})
		if err != nil {
			return err
		}
	}
	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

func convertConv2D(params *OpConverterParams) error {
	return convertConv2DHelper(params, 1)
}

func convertConv2DDepthwise(params *OpConverterParams) error {
	return convertConv2DHelper(params, 0)
}

func convertPool(params *OpConverterParams) error {
	node := params.Node
	if len(params.Inputs) != 1 || !params.Inputs[0].IsTensor() {
		return status.InvalidArgumentf("pool expects a single tensor input, at %s", node.Name)
	}
	tensor := params.Inputs[0].Tensor()
	attrs := attrsOf(node)

	hIndex, wIndex := 2, 3
	dataFormat, err := attrs.String("data_format")
	if err != nil {
		return err
	}
	if dataFormat == "NHWC" {
		hIndex, wIndex = 1, 2
		tensor, err = params.Converter.TransposeTensor(tensor, []int{0, 3, 1, 2})
		if err != nil {
			return err
		}
	}

	var poolType anvil.PoolingType
	switch node.Op {
	case "MaxPool":
		poolType = anvil.PoolingMax
	case "AvgPool":
		poolType = anvil.PoolingAverage
	default:
		return status.Unimplementedf("unsupported pool type: %s", node.Op)
	}

	tfStride, err := attrs.Ints("strides")
	if err != nil {
		return err
	}
	stride := anvil.HW{H: tfStride[hIndex], W: tfStride[wIndex]}

	tfKernel, err := attrs.Ints("ksize")
	if err != nil {
		return err
	}
	ksize := anvil.HW{H: tfKernel[hIndex], W: tfKernel[wIndex]}

	tensorDims := tensor.Dims()
	paddingType, err := attrs.String("padding")
	if err != nil {
		return err
	}
	var padding []padPair
	switch paddingType {
	case "SAME":
		padding = createSamePadding(stride, ksize,
			[]int{tensorDims.Sizes[1], tensorDims.Sizes[2]})
	case "VALID":
		padding = []padPair{{}, {}}
	default:
		return status.Unimplementedf("unsupported padding type: %s", paddingType)
	}

	if padding[0].before != padding[0].after || padding[1].before != padding[1].after {
		padLayer, err := params.Converter.Network().AddPadding(tensor,
			anvil.HW{H: padding[0].before, W: padding[1].before},
			anvil.HW{H: padding[0].after, W: padding[1].after})
		if err != nil || padLayer == nil {
			return addLayerError(node.Name, err)
		}
		padding = []padPair{{}, {}}
		tensor = padLayer.Output(0)
	}

	layer, err := params.Converter.Network().AddPooling(tensor, poolType, ksize)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	layer.SetStride(stride)
	layer.SetPadding(anvil.HW{H: padding[0].before, W: padding[1].before})
	layer.SetName(node.Name)
	outputTensor := layer.Output(0)

	if dataFormat == "NHWC" {
		outputTensor, err = params.Converter.TransposeTensor(outputTensor, []int{0, 2, 3, 1})
		if err != nil {
			return err
		}
	}
	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

func convertActivation(params *OpConverterParams) error {
	if len(params.Inputs) != 1 || !params.Inputs[0].IsTensor() {
		return status.InvalidArgumentf("activation expects a single tensor input, at %s",
			params.Node.Name)
	}
	layer, err := params.Converter.Network().AddActivation(
		params.Inputs[0].Tensor(), anvil.ActivationRelu)
	if err != nil || layer == nil {
		return addLayerError(params.Node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}

// convertScale lowers BiasAdd as a scale layer with a per-channel shift.
// The scale layer wants a rank-3 channels-first view, so the input is
// wrapped in a transpose/reshape pair when it arrives in any other form.
func convertScale(params *OpConverterParams) error {
	node := params.Node
	if len(params.Inputs) != 2 || !params.Inputs[0].IsTensor() || !params.Inputs[1].IsWeights() {
		return status.Unimplementedf("BiasAdd only supports tensor op weights: %s", node.Name)
	}

	tensor := params.Inputs[0].Tensor()
	weights := params.Inputs[1].Weights()
	if params.Converter.HalfMode() {
		weights = convertFP32ToFP16(params.WeightStore, params.Inputs[1].Weights())
	}
	empty := emptyWeights(weights.DType())

	attrs := attrsOf(node)
	dataFormat, err := attrs.String("data_format")
	if err != nil {
		return err
	}
	dims := tensor.Dims()
	var channelIndex int
	if dataFormat == "NHWC" {
		// NHWC with the batch implicit is really just trailing channels.
		channelIndex = dims.Rank - 1
	} else {
		channelIndex = 0
	}
	if channelIndex < 0 {
		return status.Unimplementedf("BiasAdd cannot apply on batch dimension, at %s", node.Name)
	}

	permutation := make([]int, dims.Rank)
	for i := range permutation {
		permutation[i] = i
	}
	permutation[0] = channelIndex
	permutation[channelIndex] = 0

	needsShuffle := channelIndex != 0 || dims.Rank != 3
	if needsShuffle {
		shuffle, err := params.Converter.Network().AddShuffle(tensor)
		if err != nil || shuffle == nil {
			return addLayerError(node.Name, err)
		}
		var reshapeDims anvil.Dims
		reshapeDims.Rank = 3
		reshapeDims.Sizes[0] = 0 // copy from the input
		if dims.Rank >= 2 {
			reshapeDims.Sizes[1] = 0
		} else {
			reshapeDims.Sizes[1] = 1
		}
		if dims.Rank >= 3 {
			reshapeDims.Sizes[2] = -1 // infer from the rest
		} else {
			reshapeDims.Sizes[2] = 1
		}
		if channelIndex != 0 {
			shuffle.SetFirstTranspose(permutation)
		}
		shuffle.SetReshapeDims(reshapeDims)
		tensor = shuffle.Output(0)
	}

	mode := anvil.ScaleChannel
	if weights.Shape().Sizes[0] == 1 {
		mode = anvil.ScaleUniform
	}

	shiftWeights, err := weights.AnvilWeights()
	if err != nil {
		return err
	}
	emptyAnvil, err := empty.AnvilWeights()
	if err != nil {
		return err
	}
	layer, err := params.Converter.Network().AddScale(tensor, mode,
		shiftWeights, emptyAnvil, emptyAnvil)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	outputTensor := layer.Output(0)

	if needsShuffle {
		shuffle, err := params.Converter.Network().AddShuffle(outputTensor)
		if err != nil || shuffle == nil {
			return addLayerError(node.Name, err)
		}
		reshapeDims := dims
		reshapeDims.Sizes[channelIndex], reshapeDims.Sizes[0] =
			reshapeDims.Sizes[0], reshapeDims.Sizes[channelIndex]
		shuffle.SetReshapeDims(reshapeDims)
		if channelIndex != 0 {
			shuffle.SetSecondTranspose(permutation)
		}
		outputTensor = shuffle.Output(0)
	}

	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}
