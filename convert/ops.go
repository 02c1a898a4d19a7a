package convert

// The built-in operator registry. Grouped by the model families that first
// required them.
func init() {
	registerOpConverter("Conv2D", convertConv2D)
	registerOpConverter("DepthwiseConv2dNative", convertConv2DDepthwise)
	registerOpConverter("Relu", convertActivation)
	registerOpConverter("MaxPool", convertPool)
	registerOpConverter("AvgPool", convertPool)
	registerOpConverter("BiasAdd", convertScale)
	registerOpConverter("Const", convertConst)
	registerOpConverter("Identity", convertIdentity)
	registerOpConverter("Snapshot", convertIdentity)

	registerOpConverter("Add", convertBinary)
	registerOpConverter("Mul", convertBinary)
	registerOpConverter("Sub", convertBinary)
	registerOpConverter("Div", convertBinary)
	registerOpConverter("RealDiv", convertBinary)
	registerOpConverter("Maximum", convertBinary)
	registerOpConverter("Minimum", convertBinary)
	registerOpConverter("Pad", convertPad)
	registerOpConverter("ConcatV2", convertConcat)
	registerOpConverter("FusedBatchNorm", convertFusedBatchNorm)
	registerOpConverter("FusedBatchNormV2", convertFusedBatchNorm)

	registerOpConverter("Rsqrt", convertUnary)
	registerOpConverter("Reciprocal", convertUnary)
	registerOpConverter("Exp", convertUnary)
	registerOpConverter("Log", convertUnary)
	registerOpConverter("Sqrt", convertUnary)
	registerOpConverter("Abs", convertUnary)
	registerOpConverter("Neg", convertUnary)

	registerOpConverter("Transpose", convertTranspose)
	registerOpConverter("Reshape", convertReshape)

	registerOpConverter("Sum", convertReduce)
	registerOpConverter("Prod", convertReduce)
	registerOpConverter("Max", convertReduce)
	registerOpConverter("Min", convertReduce)
	registerOpConverter("Mean", convertReduce)
	registerOpConverter("Softmax", convertSoftmax)
	registerOpConverter("MatMul", convertMatMul)
	registerOpConverter("BatchMatMul", convertBatchMatMul)
	registerOpConverter("TopKV2", convertTopK)
}
