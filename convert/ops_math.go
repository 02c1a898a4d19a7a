package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	"github.com/chewxy/math32"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// constWeightDims derives the dims of a materialized constant: the declared
// shape when one exists (its element count must match the payload, except
// for a splat of length one), otherwise the flattened payload length.
func constWeightDims(tensor *graphdef.TensorDef, payloadLen int) (anvil.Dims, error) {
	if len(tensor.Shape) > 0 {
		var dims anvil.Dims
		dims.Rank = len(tensor.Shape)
		for i, d := range tensor.Shape {
			dims.Sizes[i] = int(d)
		}
		if dims.Volume() != int64(payloadLen) && payloadLen != 1 {
			return anvil.Dims{}, status.InvalidArgumentf(
				"broadcast on weights only supports channel and uniform")
		}
		return dims, nil
	}
	var dims anvil.Dims
	dims.Rank = 1
	dims.Sizes[0] = payloadLen
	dims.Kinds[0] = anvil.AxisSpatial
	return dims, nil
}

// constToWeights materializes a typed payload: a single value splats across
// the declared shape, otherwise the payload is copied verbatim.
func constToWeights[T float32 | int32](tensor *graphdef.TensorDef, values []T,
	dtype dtypes.DType, store *WeightStore) (ShapedWeights, error) {
	dims, err := constWeightDims(tensor, len(values))
	if err != nil {
		return ShapedWeights{}, err
	}
	weights := store.GetTempWeights(dtype, dims)
	dst := typedView[T](weights.Raw())
	if len(values) == 1 {
		for i := range dst {
			dst[i] = values[0]
		}
	} else {
		copy(dst, values)
	}
	return weights, nil
}

func convertConst(params *OpConverterParams) error {
	node := params.Node
	if len(params.Inputs) != 0 {
		return status.InvalidArgumentf(
			"constant node is expected to have empty input list: %s", node.Name)
	}
	attrs := attrsOf(node)
	dtype, err := attrs.Type("dtype")
	if err != nil {
		return err
	}
	// Narrow integers are widened to int32: the accelerator's int8 is
	// reserved for quantized inference.
	convertedDType := dtype
	if dtype == dtypes.Int16 || dtype == dtypes.Int8 || dtype == dtypes.Uint8 {
		convertedDType = dtypes.Int32
	}
	if _, err := anvilDType(convertedDType); err != nil {
		return err
	}

	tensor, err := attrs.Tensor("value")
	if err != nil {
		return err
	}

	weights := emptyWeights(convertedDType)
	switch {
	case tensor.NumElements() == 0:
		// Nothing to materialize.
	case len(tensor.FloatVal) > 0:
		weights, err = constToWeights(tensor, tensor.FloatVal, convertedDType, params.WeightStore)
		if err != nil {
			return err
		}
	case len(tensor.IntVal) > 0:
		weights, err = constToWeights(tensor, tensor.IntVal, convertedDType, params.WeightStore)
		if err != nil {
			return err
		}
	case len(tensor.HalfVal) > 0:
		return status.Unimplementedf("fp16 constant is not supported yet")
	case len(tensor.Content) > 0:
		weights, err = constContentToWeights(tensor, dtype, convertedDType, params.WeightStore)
		if err != nil {
			return err
		}
	default:
		return status.Unimplementedf("not supported constant type, at %s", node.Name)
	}

	if !params.ValidationOnly {
		params.addOutput(WeightsValue(weights))
	}
	return nil
}

// constContentToWeights materializes a raw-encoded constant, widening narrow
// integer payloads to int32 on the way.
func constContentToWeights(tensor *graphdef.TensorDef, dtype, convertedDType dtypes.DType,
	store *WeightStore) (ShapedWeights, error) {
	content := tensor.Content
	dtypeSize := dtype.Size()
	if len(content)%dtypeSize != 0 {
		return ShapedWeights{}, status.FailedPreconditionf(
			"tensor content size %d is not a multiple of %d", len(content), dtypeSize)
	}
	dims, err := constWeightDims(tensor, len(content)/dtypeSize)
	if err != nil {
		return ShapedWeights{}, err
	}
	sizeBytes := dims.Volume() * int64(dtypeSize)
	if int64(len(content)) != sizeBytes {
		return ShapedWeights{}, status.FailedPreconditionf(
			"tensor size and content size mismatch: %d vs %d", sizeBytes, len(content))
	}
	if tensor.NumElements() != int64(len(content)/dtypeSize) {
		return ShapedWeights{}, status.FailedPreconditionf(
			"tensor elements count and content size mismatch: %d vs %d",
			tensor.NumElements(), len(content)/dtypeSize)
	}

	weights := store.GetTempWeights(convertedDType, dims)
	if dtypeSize == convertedDType.Size() {
		copy(weights.Raw(), content)
		return weights, nil
	}
	dst := weights.Int32s()
	switch dtype {
	case dtypes.Int16:
		for i, v := range typedView[int16](content) {
			dst[i] = int32(v)
		}
	case dtypes.Int8:
		for i, v := range typedView[int8](content) {
			dst[i] = int32(v)
		}
	case dtypes.Uint8:
		for i, v := range typedView[uint8](content) {
			dst[i] = int32(v)
		}
	default:
		return ShapedWeights{}, status.FailedPreconditionf("unexpected data type: %s", dtype)
	}
	return weights, nil
}

func convertIdentity(params *OpConverterParams) error {
	params.addOutput(params.Inputs[0])
	return nil
}

var reduceOps = map[string]anvil.ReduceOp{
	"Sum":  anvil.ReduceSum,
	"Prod": anvil.ReduceProd,
	"Max":  anvil.ReduceMax,
	"Min":  anvil.ReduceMin,
	"Mean": anvil.ReduceAvg,
}

func convertReduce(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 || !inputs[0].IsTensor() || !inputs[1].IsWeights() {
		return status.InvalidArgumentf("input expects tensor and weights, at %s", node.Name)
	}

	tensor := inputs[0].Tensor()
	indexList := inputs[1].Weights()

	attrs := attrsOf(node)
	indexType, err := attrs.Type("Tidx")
	if err != nil {
		return err
	}
	if indexType != dtypes.Int32 {
		return status.Unimplementedf("Tidx supports only int32")
	}

	if indexList.Count() == 0 {
		return status.InvalidArgumentf(
			"cannot support reduce on all (batch) dimensions, at %s", node.Name)
	}
	var axes uint32
	for _, v := range indexList.Int32s() {
		axis := int(v)
		if axis < 0 {
			axis += tensor.Dims().Rank + 1
		}
		if axis == 0 {
			return status.InvalidArgumentf("cannot reduce at batch dimension, at %s", node.Name)
		}
		axes |= 1 << (axis - 1)
	}

	op, found := reduceOps[node.Op]
	if !found {
		return status.Unimplementedf("op not supported %s, at %s", node.Op, node.Name)
	}

	keepDims, err := attrs.Bool("keep_dims")
	if err != nil {
		return err
	}
	layer, err := params.Converter.Network().AddReduce(tensor, op, axes, keepDims)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}

// batchNormVal reads parameter i from one of the four batch-norm weight
// vectors, splatting a single-element vector and widening half to float32.
func batchNormVal(w ShapedWeights, i int) float32 {
	if w.Count() == 1 {
		i = 0
	}
	if w.DType() == dtypes.Float16 {
		return w.Float16s()[i].Float32()
	}
	return w.Float32s()[i]
}

// convertFusedBatchNorm folds inference-mode batch normalization into a
// single scale layer: scale' = scale / sqrt(variance + epsilon) and
// shift' = offset - mean * scale', computed in float32.
func convertFusedBatchNorm(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	attrs := attrsOf(node)
	epsilon, err := attrs.Float("epsilon")
	if err != nil {
		return err
	}
	dataFormat, err := attrs.String("data_format")
	if err != nil {
		return err
	}
	if dataFormat != "NCHW" {
		return status.Unimplementedf("only data_format=NCHW is supported, at %s", node.Name)
	}
	isTraining, err := attrs.Bool("is_training")
	if err != nil {
		return err
	}
	if isTraining {
		return status.Unimplementedf("only is_training=false is supported, at %s", node.Name)
	}
	if len(inputs) != 5 || !inputs[0].IsTensor() {
		return status.InvalidArgumentf(
			"batchnorm expects one tensor and four weight inputs, at %s", node.Name)
	}
	tensor := inputs[0].Tensor()

	for i := 1; i < 5; i++ {
		if !inputs[i].IsWeights() {
			return status.InvalidArgumentf(
				"batchnorm expects constant parameters, at %s", node.Name)
		}
	}
	parameterType := inputs[1].Weights().DType()
	if parameterType != dtypes.Float32 && parameterType != dtypes.Float16 {
		return status.Unimplementedf(
			"only float32 or float16 weight data type is supported, for node %s got %s",
			node.Name, parameterType)
	}
	for i := 1; i < 5; i++ {
		if inputs[i].Weights().DType() != parameterType {
			return status.Unimplementedf(
				"inconsistent parameter type for batchnorm is not supported, at: %s", node.Name)
		}
	}

	var nweight int64
	for i := 1; i < 5; i++ {
		if c := inputs[i].Weights().Count(); c > nweight {
			nweight = c
		}
	}
	var shapeWeights ShapedWeights
	foundShape := false
	for i := 1; i < 5; i++ {
		c := inputs[i].Weights().Count()
		if c == nweight {
			shapeWeights = inputs[i].Weights()
			foundShape = true
		} else if c != 1 {
			return status.InvalidArgumentf(
				"inconsistent batchnorm parameter count, at: %s", node.Name)
		}
	}
	if !foundShape {
		return status.Internalf("batchnorm parameter shapes unresolved, at: %s", node.Name)
	}

	combinedScale := params.WeightStore.GetTempWeightsLike(shapeWeights)
	combinedOffset := params.WeightStore.GetTempWeightsLike(shapeWeights)

	scaleW := inputs[1].Weights()
	offsetW := inputs[2].Weights()
	meanW := inputs[3].Weights()
	varianceW := inputs[4].Weights()
	for i := int64(0); i < nweight; i++ {
		scale := batchNormVal(scaleW, int(i))
		offset := batchNormVal(offsetW, int(i))
		mean := batchNormVal(meanW, int(i))
		variance := batchNormVal(varianceW, int(i))
		combinedScaleVal := scale / math32.Sqrt(variance+epsilon)
		combinedOffsetVal := offset - mean*combinedScaleVal
		if parameterType == dtypes.Float32 {
			combinedScale.Float32s()[i] = combinedScaleVal
			combinedOffset.Float32s()[i] = combinedOffsetVal
		} else {
			combinedScale.Float16s()[i] = float16.Fromfloat32(combinedScaleVal)
			combinedOffset.Float16s()[i] = float16.Fromfloat32(combinedOffsetVal)
		}
	}

	mode := anvil.ScaleChannel
	if nweight == 1 {
		mode = anvil.ScaleUniform
	}
	shift, err := combinedOffset.AnvilWeights()
	if err != nil {
		return err
	}
	scale, err := combinedScale.AnvilWeights()
	if err != nil {
		return err
	}
	power, err := emptyWeights(parameterType).AnvilWeights()
	if err != nil {
		return err
	}
	layer, err := params.Converter.Network().AddScale(tensor, mode, shift, scale, power)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}

// convertMatMulHelper lowers a matrix product against constant weights as a
// fully connected layer. The input is padded up to the rank-3 view the layer
// wants, and the rank-3 result is squeezed back to a vector.
func convertMatMulHelper(params *OpConverterParams, tensorInput TensorOrWeights,
	weightsRaw ShapedWeights, transposeWeight bool, nodeName string) error {
	if !tensorInput.IsTensor() {
		return status.InvalidArgumentf("input 0 expects tensor")
	}

	var weights ShapedWeights
	if transposeWeight {
		weights = weightsRaw
	} else {
		weights = params.WeightStore.GetTempWeightsLike(weightsRaw)
		if err := reorderCKtoKC(weightsRaw, &weights); err != nil {
			return err
		}
	}
	biases := emptyWeights(weights.DType())

	noutput := weights.Shape().Sizes[0]

	inputDim := tensorInput.Tensor().Dims()
	for inputDim.Rank < 3 {
		inputDim.Sizes[inputDim.Rank] = 1
		inputDim.Rank++
	}
	tensor, err := params.Converter.PrepareTensorForShape(tensorInput, inputDim)
	if err != nil {
		return err
	}

	kernelWeights, err := weights.AnvilWeights()
	if err != nil {
		return err
	}
	biasWeights, err := biases.AnvilWeights()
	if err != nil {
		return err
	}
	layer, err := params.Converter.Network().AddFullyConnected(tensor, noutput,
		kernelWeights, biasWeights)
	if err != nil || layer == nil {
		return addLayerError(nodeName, err)
	}
	outputTensor := layer.Output(0)

	outputDim := outputTensor.Dims()
	outputDim.Rank = 1
	outputTensor, err = params.Converter.PrepareTensorForShape(
		TensorValue(outputTensor, -1), outputDim)
	if err != nil {
		return err
	}
	params.addOutput(TensorValue(outputTensor, -1))
	return nil
}

// convertMatMul handles the two-dimensional matrix product of a live tensor
// and constant weights.
func convertMatMul(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 || !inputs[0].IsTensor() || !inputs[1].IsWeights() {
		return status.InvalidArgumentf("input expects tensor and weights, at %s", node.Name)
	}

	attrs := attrsOf(node)
	dtype, err := attrs.Type("T")
	if err != nil {
		return err
	}
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 {
		return status.Unimplementedf(
			"data type is not supported, for node %s got %s", node.Name, dtype)
	}
	transposeA, err := attrs.Bool("transpose_a")
	if err != nil {
		return err
	}
	transposeB, err := attrs.Bool("transpose_b")
	if err != nil {
		return err
	}

	if transposeA {
		return status.Internalf(
			"transpose_a is not supported for fully connected (op: %s), at: %s",
			node.Op, node.Name)
	}
	if params.ValidationOnly {
		return nil
	}
	return convertMatMulHelper(params, inputs[0], inputs[1].Weights(), transposeB, node.Name)
}

func convertBatchMatMul(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 {
		return status.InvalidArgumentf("BatchMatMul expects two inputs, at %s", node.Name)
	}
	attrs := attrsOf(node)

	dtype, err := attrs.Type("T")
	if err != nil {
		return err
	}
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 {
		return status.Unimplementedf(
			"data type is not supported, for node %s got %s", node.Name, dtype)
	}

	transposeA, err := attrs.Bool("adj_x")
	if err != nil {
		return err
	}
	transposeB, err := attrs.Bool("adj_y")
	if err != nil {
		return err
	}

	// A vector times constant weights is only expressible through the fully
	// connected layer.
	if inputs[0].Dims().Rank == 1 {
		if !transposeA && inputs[0].IsTensor() && inputs[1].IsWeights() {
			return convertMatMulHelper(params, inputs[0], inputs[1].Weights(),
				transposeB, node.Name)
		}
		return status.InvalidArgumentf("invalid configuration for MatMul, at: %s", node.Name)
	}

	dimsL := inputs[0].Dims()
	dimsR := inputs[1].Dims()
	// A constant operand's leading axis stands in for the batch and must be
	// a broadcastable 1; strip it to align with the tensor operand's
	// implicit batch.
	if inputs[0].IsWeights() {
		if dimsL.Sizes[0] != 1 {
			return status.InvalidArgumentf(
				"input 0 as weight assumes broadcast across batch for MatMul, at: %s", node.Name)
		}
		for i := 0; i < dimsL.Rank-1; i++ {
			dimsL.Sizes[i] = dimsL.Sizes[i+1]
		}
		dimsL.Rank--
	}
	if inputs[1].IsWeights() {
		if dimsR.Sizes[0] != 1 {
			return status.InvalidArgumentf(
				"input 1 as weight assumes broadcast across batch for MatMul, at: %s", node.Name)
		}
		for i := 0; i < dimsR.Rank-1; i++ {
			dimsR.Sizes[i] = dimsR.Sizes[i+1]
		}
		dimsR.Rank--
	}

	tensorL, err := params.Converter.PrepareTensorForShape(inputs[0], dimsL)
	if err != nil {
		return err
	}
	tensorR, err := params.Converter.PrepareTensorForShape(inputs[1], dimsR)
	if err != nil {
		return err
	}

	layer, err := params.Converter.Network().AddMatrixMultiply(tensorL, transposeA, tensorR, transposeB)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}

func convertSoftmax(params *OpConverterParams) error {
	node := params.Node
	if len(params.Inputs) != 1 || !params.Inputs[0].IsTensor() {
		return status.InvalidArgumentf("softmax expects a single tensor input, at %s", node.Name)
	}
	tensor := params.Inputs[0].Tensor()

	nbDims := tensor.Dims().Rank
	if nbDims == 0 {
		return status.InvalidArgumentf("softmax cannot apply on batch dimension, at %s", node.Name)
	}
	// The host softmax always runs on the last dimension.
	layer, err := params.Converter.Network().AddSoftmax(tensor, 1<<(nbDims-1))
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	return nil
}

func convertTopK(params *OpConverterParams) error {
	inputs := params.Inputs
	node := params.Node
	if len(inputs) != 2 || !inputs[0].IsTensor() || !inputs[1].IsWeights() {
		return status.InvalidArgumentf("TopK expects tensor and weights, at %s", node.Name)
	}
	tensor := inputs[0].Tensor()

	nbDims := tensor.Dims().Rank
	if nbDims == 0 {
		return status.InvalidArgumentf("TopK cannot apply on batch dimension, at %s", node.Name)
	}

	k := int(inputs[1].Weights().Int32s()[0])

	var op anvil.TopKOp
	var reducedAxes uint32
	if node.Op == "TopKV2" {
		op = anvil.TopKMax
		reducedAxes |= 1 << (nbDims - 1)
	} else {
		return status.Unimplementedf("operation: %s not implemented, at: %s", node.Op, node.Name)
	}

	layer, err := params.Converter.Network().AddTopK(tensor, op, k, reducedAxes)
	if err != nil || layer == nil {
		return addLayerError(node.Name, err)
	}
	params.addOutput(TensorValue(layer.Output(0), -1))
	params.addOutput(TensorValue(layer.Output(1), -1))
	return nil
}
