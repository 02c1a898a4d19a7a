package convert

import (
	"testing"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestWeightStoreOwnership(t *testing.T) {
	var store WeightStore
	w := store.GetTempWeights(dtypes.Float32, anvil.MakeDims(2, 3))
	require.Equal(t, int64(6), w.Count())
	require.Equal(t, int64(24), w.SizeBytes())
	require.Len(t, w.Raw(), 24)

	like := store.GetTempWeightsLike(w)
	require.Equal(t, w.DType(), like.DType())
	require.True(t, w.Shape().Equal(like.Shape()))

	// Empty weights still convert to a valid descriptor.
	descriptor, err := emptyWeights(dtypes.Float32).AnvilWeights()
	require.NoError(t, err)
	require.Equal(t, anvil.Float, descriptor.Type)
	require.Equal(t, int64(0), descriptor.Count)
}

func TestConvertFP32ToFP16(t *testing.T) {
	var store WeightStore
	src := store.GetTempWeights(dtypes.Float32, anvil.MakeDims(3))
	copy(src.Float32s(), []float32{1, -0.5, 1024})

	dst := convertFP32ToFP16(&store, src)
	require.Equal(t, dtypes.Float16, dst.DType())
	out := dst.Float16s()
	require.Equal(t, float32(1), out[0].Float32())
	require.Equal(t, float32(-0.5), out[1].Float32())
	require.Equal(t, float32(1024), out[2].Float32())
}

func TestReorderCKtoKC(t *testing.T) {
	var store WeightStore
	// C=2, K=3, row-major: [[1,2,3],[4,5,6]].
	src := store.GetTempWeights(dtypes.Float32, anvil.MakeDims(2, 3))
	copy(src.Float32s(), []float32{1, 2, 3, 4, 5, 6})

	dst := store.GetTempWeightsLike(src)
	require.NoError(t, reorderCKtoKC(src, &dst))
	require.Equal(t, []int{3, 2}, dst.Shape().Slice())
	require.Equal(t, []float32{1, 4, 2, 5, 3, 6}, dst.Float32s())
}

func TestReorderRSCKToKCRS(t *testing.T) {
	var store WeightStore
	// 1x1 kernel, C=2, K=2: reordering is then a plain CK transpose per tap.
	src := store.GetTempWeights(dtypes.Float32, anvil.MakeDims(1, 1, 2, 2))
	copy(src.Float32s(), []float32{1, 2, 3, 4})

	dst := store.GetTempWeightsLike(src)
	require.NoError(t, reorderRSCKToKCRS(src, &dst, 1))
	require.Equal(t, []int{2, 2, 1, 1}, dst.Shape().Slice())
	require.Equal(t, []float32{1, 3, 2, 4}, dst.Float32s())

	// Type mismatch between the buffers is an internal error.
	bad := store.GetTempWeights(dtypes.Float16, anvil.MakeDims(1, 1, 2, 2))
	require.Error(t, reorderRSCKToKCRS(src, &bad, 1))
}

func TestUnaryCompute(t *testing.T) {
	var store WeightStore
	src := store.GetTempWeights(dtypes.Float32, anvil.MakeDims(2))
	copy(src.Float32s(), []float32{2, 4})

	neg := store.GetTempWeightsLike(src)
	require.NoError(t, unaryCompute(src, neg, foldNeg))
	require.Equal(t, []float32{-2, -4}, neg.Float32s())

	recip := store.GetTempWeightsLike(src)
	require.NoError(t, unaryCompute(src, recip, foldRecip))
	require.Equal(t, []float32{0.5, 0.25}, recip.Float32s())

	rsqrt := store.GetTempWeightsLike(src)
	require.NoError(t, unaryCompute(src, rsqrt, foldRSqrt))
	require.InDelta(t, 0.7071, rsqrt.Float32s()[0], 1e-4)
	require.Equal(t, float32(0.5), rsqrt.Float32s()[1])

	// Half precision round-trips through float32.
	srcHalf := store.GetTempWeights(dtypes.Float16, anvil.MakeDims(1))
	srcHalf.Float16s()[0] = float16.Fromfloat32(2)
	dstHalf := store.GetTempWeightsLike(srcHalf)
	require.NoError(t, unaryCompute(srcHalf, dstHalf, foldRecip))
	require.Equal(t, float32(0.5), dstHalf.Float16s()[0].Float32())
}
