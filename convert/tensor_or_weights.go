package convert

import (
	"fmt"

	"github.com/anvilml/graph-anvil/anvil"
)

// TensorOrWeights is the universal operand and result type of the converter:
// either a live accelerator tensor (with the batch size it was stamped with)
// or a materialized constant. Exactly one variant is active; use the
// constructors, never a zero value.
type TensorOrWeights struct {
	tensor    anvil.Tensor
	batchSize int
	weights   ShapedWeights
	isTensor  bool
}

// TensorValue wraps a live accelerator tensor. batchSize may be -1 when the
// batch size is not yet known; Converter.AddTensorOrWeights stamps the
// converter-wide value on insertion.
func TensorValue(tensor anvil.Tensor, batchSize int) TensorOrWeights {
	return TensorOrWeights{tensor: tensor, batchSize: batchSize, isTensor: true}
}

// WeightsValue wraps a materialized constant.
func WeightsValue(weights ShapedWeights) TensorOrWeights {
	return TensorOrWeights{weights: weights, batchSize: -1}
}

// IsTensor reports whether the tensor variant is active.
func (v TensorOrWeights) IsTensor() bool { return v.isTensor }

// IsWeights reports whether the weights variant is active.
func (v TensorOrWeights) IsWeights() bool { return !v.isTensor }

// Tensor returns the live tensor handle. Calling it on a weights-typed value
// is a usage error and panics.
func (v TensorOrWeights) Tensor() anvil.Tensor {
	if !v.isTensor {
		panic("TensorOrWeights: Tensor() called on weights variant")
	}
	return v.tensor
}

// Weights returns the constant. Calling it on a tensor-typed value is a
// usage error and panics.
func (v TensorOrWeights) Weights() ShapedWeights {
	if v.isTensor {
		panic("TensorOrWeights: Weights() called on tensor variant")
	}
	return v.weights
}

// BatchSize returns the batch size stamped on a tensor-typed value; -1 for
// weights or when unknown.
func (v TensorOrWeights) BatchSize() int { return v.batchSize }

func (v TensorOrWeights) withBatchSize(batchSize int) TensorOrWeights {
	v.batchSize = batchSize
	return v
}

// Dims returns the accelerator-native shape of whichever variant is active.
func (v TensorOrWeights) Dims() anvil.Dims {
	if v.isTensor {
		return v.tensor.Dims()
	}
	return v.weights.Shape()
}

func (v TensorOrWeights) String() string {
	if v.isTensor {
		return fmt.Sprintf("TensorOrWeights(tensor %q, shape=%s, batch=%d)",
			v.tensor.Name(), v.tensor.Dims(), v.batchSize)
	}
	return fmt.Sprintf("TensorOrWeights(%s)", v.weights)
}
