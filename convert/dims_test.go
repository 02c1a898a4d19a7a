package convert

import (
	"testing"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"github.com/stretchr/testify/require"
)

func TestGetBroadcastShape(t *testing.T) {
	t.Run("TensorVsTrailingWeights", func(t *testing.T) {
		// Tensor [5,3] (batch implicit) against weights [3]: the weights pad
		// out to the tensor's width.
		lhs, rhs, err := getBroadcastShape(anvil.MakeDims(5, 3), true, anvil.MakeDims(3), false)
		require.NoError(t, err)
		require.Equal(t, []int{5, 3}, lhs.Slice())
		require.Equal(t, []int{1, 3}, rhs.Slice())
	})

	t.Run("WeightsWiderThanTensor", func(t *testing.T) {
		// Weights claim more axes than the tensor plus its batch; that would
		// broadcast across the batch dimension.
		_, _, err := getBroadcastShape(anvil.MakeDims(3), true, anvil.MakeDims(2, 4, 3), false)
		require.Error(t, err)
		require.Equal(t, status.InvalidArgument, status.Code(err))
	})

	t.Run("TwoTensorsSameRank", func(t *testing.T) {
		lhs, rhs, err := getBroadcastShape(anvil.MakeDims(4, 1), true, anvil.MakeDims(1, 6), true)
		require.NoError(t, err)
		require.Equal(t, []int{4, 1}, lhs.Slice())
		require.Equal(t, []int{1, 6}, rhs.Slice())
	})

	t.Run("TwoTensorsRankMismatch", func(t *testing.T) {
		// Both operands are tensors, so both batch axes must align at slot 0.
		_, _, err := getBroadcastShape(anvil.MakeDims(4, 4), true, anvil.MakeDims(4), true)
		require.Error(t, err)
	})

	t.Run("IncompatibleAxis", func(t *testing.T) {
		_, _, err := getBroadcastShape(anvil.MakeDims(5, 3), true, anvil.MakeDims(4), false)
		require.Error(t, err)
		require.Equal(t, status.InvalidArgument, status.Code(err))
	})
}

func TestCreateSamePadding(t *testing.T) {
	// 7 wide, kernel 3, stride 2: two padded columns total, one per side.
	padding := createSamePadding(anvil.HW{H: 2, W: 2}, anvil.HW{H: 3, W: 3}, []int{7, 7})
	require.Equal(t, padPair{before: 1, after: 1}, padding[0])
	require.Equal(t, padPair{before: 1, after: 1}, padding[1])

	// Stride 1 keeps the size; kernel 3 needs one on each side.
	padding = createSamePadding(anvil.HW{H: 1, W: 1}, anvil.HW{H: 3, W: 3}, []int{5, 5})
	require.Equal(t, padPair{before: 1, after: 1}, padding[0])

	// Right-biased split of an odd total.
	padding = createSamePadding(anvil.HW{H: 1, W: 1}, anvil.HW{H: 4, W: 4}, []int{5, 5})
	require.Equal(t, padPair{before: 1, after: 2}, padding[0])

	// Kernel smaller than the stride can need no padding at all.
	padding = createSamePadding(anvil.HW{H: 3, W: 3}, anvil.HW{H: 2, W: 2}, []int{6, 6})
	require.Equal(t, padPair{}, padding[0])
}
