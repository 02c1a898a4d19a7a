package graphdef

import "github.com/gomlx/gopjrt/dtypes"

// TensorDef is a constant tensor literal attached to a node (the "value"
// attribute of a Const node). The payload uses exactly one of the encodings
// the host framework emits:
//
//   - FloatVal: a float32 list, possibly length 1 for a splat.
//   - IntVal: an int32 list (also used for the sub-32-bit integer types),
//     possibly length 1 for a splat.
//   - HalfVal: raw float16 bit patterns.
//   - Content: the raw little-endian bytes of the whole tensor.
//
// Shape is the declared shape, batch-free by the time constants reach the
// converter (framework constants carry no batch axis).
type TensorDef struct {
	DType dtypes.DType
	Shape []int64

	FloatVal []float32
	IntVal   []int32
	HalfVal  []uint16
	Content  []byte
}

// NumElements returns the element count declared by Shape.
func (t *TensorDef) NumElements() int64 {
	count := int64(1)
	for _, d := range t.Shape {
		count *= d
	}
	return count
}
