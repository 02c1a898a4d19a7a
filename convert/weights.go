package convert

import (
	"fmt"
	"unsafe"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"github.com/chewxy/math32"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// ShapedWeights is a constant tensor used as a layer parameter: a host
// element type, accelerator-native dims (batch excluded) and a byte buffer
// owned by a WeightStore. Content is immutable once produced; derivations
// (reorder, cast, fold) allocate a new ShapedWeights from the store.
type ShapedWeights struct {
	dtype dtypes.DType
	shape anvil.Dims
	data  []byte
}

// emptyWeights returns a zero-count ShapedWeights of the given type, used
// for the unused parameters of scale layers.
func emptyWeights(dtype dtypes.DType) ShapedWeights {
	return ShapedWeights{dtype: dtype}
}

// DType returns the host element type of the weights.
func (w ShapedWeights) DType() dtypes.DType { return w.dtype }

// Shape returns the accelerator-native dims.
func (w ShapedWeights) Shape() anvil.Dims { return w.shape }

// Count returns the number of elements.
func (w ShapedWeights) Count() int64 { return w.shape.Volume() }

// SizeBytes returns Count times the element size.
func (w ShapedWeights) SizeBytes() int64 {
	return w.Count() * int64(w.dtype.Size())
}

// AnvilWeights converts to the accelerator's weight descriptor. The returned
// Raw aliases the store-owned buffer.
func (w ShapedWeights) AnvilWeights() (anvil.Weights, error) {
	dtype, err := anvilDType(w.dtype)
	if err != nil {
		return anvil.Weights{}, err
	}
	return anvil.Weights{Type: dtype, Raw: w.data, Count: w.Count()}, nil
}

// Float32s views the buffer as float32 values. Only valid for Float32.
func (w ShapedWeights) Float32s() []float32 {
	return typedView[float32](w.data)
}

// Float16s views the buffer as float16 values. Only valid for Float16.
func (w ShapedWeights) Float16s() []float16.Float16 {
	return typedView[float16.Float16](w.data)
}

// Int32s views the buffer as int32 values. Only valid for Int32.
func (w ShapedWeights) Int32s() []int32 {
	return typedView[int32](w.data)
}

// Raw returns the backing bytes.
func (w ShapedWeights) Raw() []byte { return w.data }

func (w ShapedWeights) String() string {
	return fmt.Sprintf("ShapedWeights(shape=%s, dtype=%s, %d bytes)",
		w.shape, w.dtype, len(w.data))
}

func typedView[T any](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

// WeightStore owns every weight buffer created during one conversion pass,
// so pointers handed to accelerator layers stay valid until the engine build
// finishes. Buffers are add-only; the whole store is released at once by
// dropping it.
type WeightStore struct {
	buffers [][]byte
}

// GetTempWeights allocates a zero-initialized buffer for the given type and
// dims, registers it for ownership, and returns a view of it.
func (s *WeightStore) GetTempWeights(dtype dtypes.DType, dims anvil.Dims) ShapedWeights {
	size := dims.Volume() * int64(dtype.Size())
	if size < 0 {
		size = 0
	}
	buf := make([]byte, size)
	s.buffers = append(s.buffers, buf)
	return ShapedWeights{dtype: dtype, shape: dims, data: buf}
}

// GetTempWeightsLike allocates a buffer with the same type and dims as src.
func (s *WeightStore) GetTempWeightsLike(src ShapedWeights) ShapedWeights {
	return s.GetTempWeights(src.dtype, src.shape)
}

// convertFP32ToFP16 down-casts float32 weights to half precision through the
// store, round-to-nearest-even.
func convertFP32ToFP16(store *WeightStore, src ShapedWeights) ShapedWeights {
	dst := store.GetTempWeights(dtypes.Float16, src.shape)
	in := src.Float32s()
	out := dst.Float16s()
	for i, v := range in {
		out[i] = float16.Fromfloat32(v)
	}
	return dst
}

// reorderCKtoKC transposes a rank-2 weight from the host's CK (input-major)
// layout into the accelerator's KC layout. dst must come from the store with
// the same type and size.
func reorderCKtoKC(src ShapedWeights, dst *ShapedWeights) error {
	c := src.shape.Sizes[0]
	k := src.shape.Sizes[1]
	dst.shape.Sizes[0] = k
	dst.shape.Sizes[1] = c
	switch src.dtype {
	case dtypes.Float32:
		reorder2(k, c, src.Float32s(), [2]int{1, k}, dst.Float32s(), [2]int{c, 1})
	case dtypes.Float16:
		reorder2(k, c, src.Float16s(), [2]int{1, k}, dst.Float16s(), [2]int{c, 1})
	default:
		return status.Unimplementedf("weight reorder expects fp32 or fp16, got %s", src.dtype)
	}
	return nil
}

// reorderRSCKToKCRS rewrites a rank-4 convolution kernel from the host's
// RSCK layout (height, width, input channels, output channels) into the
// accelerator's KCRS layout. For grouped convolution the host stores
// C = groups * c and K = k / groups relative to the accelerator's view.
func reorderRSCKToKCRS(src ShapedWeights, dst *ShapedWeights, numGroups int) error {
	if src.dtype != dst.dtype || src.SizeBytes() != dst.SizeBytes() {
		return status.Internalf("kernel reorder buffer mismatch: %s vs %s", src, *dst)
	}
	r := src.shape.Sizes[0]
	sdim := src.shape.Sizes[1]
	c := src.shape.Sizes[2] / numGroups
	k := src.shape.Sizes[3] * numGroups
	dst.shape.Sizes[0] = k / numGroups
	dst.shape.Sizes[1] = c * numGroups
	dst.shape.Sizes[2] = r
	dst.shape.Sizes[3] = sdim
	istrides := [4]int{1, k, sdim * k * c, c * k}
	ostrides := [4]int{c * r * sdim, r * sdim, sdim, 1}
	switch src.dtype {
	case dtypes.Float32:
		reorder4(k, c, r, sdim, src.Float32s(), istrides, dst.Float32s(), ostrides)
	case dtypes.Float16:
		reorder4(k, c, r, sdim, src.Float16s(), istrides, dst.Float16s(), ostrides)
	default:
		return status.Unimplementedf("kernel reorder expects fp32 or fp16, got %s", src.dtype)
	}
	return nil
}

func reorder2[T any](h, w int, in []T, istrides [2]int, out []T, ostrides [2]int) {
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			out[i*ostrides[0]+j*ostrides[1]] = in[i*istrides[0]+j*istrides[1]]
		}
	}
}

func reorder4[T any](n, c, h, w int, in []T, istrides [4]int, out []T, ostrides [4]int) {
	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					out[ni*ostrides[0]+ci*ostrides[1]+hi*ostrides[2]+wi*ostrides[3]] =
						in[ni*istrides[0]+ci*istrides[1]+hi*istrides[2]+wi*istrides[3]]
				}
			}
		}
	}
}

// unaryFold is a pointwise function applied when folding constants, e.g. to
// turn a division by weights into a multiplication by their reciprocals.
type unaryFold uint8

const (
	foldNeg unaryFold = iota
	foldRecip
	foldRSqrt
)

func (f unaryFold) apply(v float32) float32 {
	switch f {
	case foldNeg:
		return -v
	case foldRecip:
		return 1 / v
	case foldRSqrt:
		return 1 / math32.Sqrt(v)
	}
	return v
}

// unaryCompute applies fold elementwise from src into dst. Both must share
// type and element count; half values round-trip through float32.
func unaryCompute(src ShapedWeights, dst ShapedWeights, fold unaryFold) error {
	if src.dtype != dst.dtype {
		return status.Internalf("unary fold type mismatch: %s vs %s", src.dtype, dst.dtype)
	}
	switch src.dtype {
	case dtypes.Float32:
		in, out := src.Float32s(), dst.Float32s()
		for i, v := range in {
			out[i] = fold.apply(v)
		}
	case dtypes.Float16:
		in, out := src.Float16s(), dst.Float16s()
		for i, v := range in {
			out[i] = float16.Fromfloat32(fold.apply(v.Float32()))
		}
	default:
		return status.Unimplementedf("unary fold not supported for %s", src.dtype)
	}
	return nil
}
