package anvil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDimsVolume(t *testing.T) {
	require.Equal(t, int64(24), MakeDims(2, 3, 4).Volume())
	require.Equal(t, int64(1), MakeDims(1).Volume())

	// Rank 0 is never a one-element tensor.
	require.Equal(t, int64(0), Dims{}.Volume())
	require.Equal(t, int64(0), MakeDims(3, 0, 4).Volume())
}

func TestDimsEqual(t *testing.T) {
	require.True(t, MakeDims(2, 3).Equal(MakeDims(2, 3)))
	require.False(t, MakeDims(2, 3).Equal(MakeDims(3, 2)))

	// No broadcasting-aware comparison.
	require.False(t, MakeDims(1, 3).Equal(MakeDims(3)))
}

func TestDimsIsStatic(t *testing.T) {
	require.True(t, MakeDims(2, 3).IsStatic())
	require.False(t, MakeDims(2, -1).IsStatic())
	require.False(t, Dims{Rank: -1}.IsStatic())
}

func TestDimsSliceAndString(t *testing.T) {
	d := MakeDims(4, 5, 6)
	require.Equal(t, []int{4, 5, 6}, d.Slice())
	require.Equal(t, "[4,5,6]", d.String())
	require.Equal(t, "[]", Dims{}.String())
}

func TestMakeDimsCHW(t *testing.T) {
	d := MakeDimsCHW(16, 8, 8)
	require.Equal(t, 3, d.Rank)
	require.Equal(t, AxisChannel, d.Kinds[0])
	require.Equal(t, AxisSpatial, d.Kinds[1])
	require.Equal(t, []int{16, 8, 8}, d.Slice())
}
