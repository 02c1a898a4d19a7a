package anvil

import (
	"fmt"
	"strings"
)

// MaxDims is the maximum rank of an accelerator tensor, batch dimension
// excluded. The batch dimension is implicit everywhere in this API: a network
// input declared with rank N describes per-example tensors, and the engine
// batch size is a builder-level property.
const MaxDims = 8

// AxisKind annotates what an axis means to the accelerator's layout engine.
type AxisKind uint8

const (
	// AxisSpatial is an image height/width style axis.
	AxisSpatial AxisKind = iota
	// AxisChannel is a feature-channel axis.
	AxisChannel
	// AxisIndex is an index-count axis (e.g. the k axis of a top-k result).
	AxisIndex
	// AxisSequence is a sequence-length axis.
	AxisSequence
)

// Dims is the accelerator-native shape of a tensor or weight blob. Sizes may
// be -1 to mean "unknown / to be inferred" in contexts that allow it (reshape
// targets); a concrete tensor always has non-negative sizes.
//
// A scalar is represented as rank 1 with size 1, never as rank 0.
type Dims struct {
	Rank  int
	Sizes [MaxDims]int
	Kinds [MaxDims]AxisKind
}

// MakeDims builds a Dims from explicit sizes, all axes tagged spatial.
func MakeDims(sizes ...int) Dims {
	var d Dims
	d.Rank = len(sizes)
	copy(d.Sizes[:], sizes)
	return d
}

// MakeDimsCHW builds the rank-3 channel/height/width shape used by
// convolution-style layers.
func MakeDimsCHW(c, h, w int) Dims {
	d := MakeDims(c, h, w)
	d.Kinds[0] = AxisChannel
	return d
}

// HW is a height/width pair, used for kernel sizes, strides and padding.
type HW struct {
	H, W int
}

// Volume returns the number of elements described by d. By convention it
// returns 0 when the rank is 0 or any axis is 0, so a rank-0 value is never
// silently treated as a one-element tensor.
func (d Dims) Volume() int64 {
	if d.Rank == 0 {
		return 0
	}
	count := int64(1)
	for i := 0; i < d.Rank; i++ {
		count *= int64(d.Sizes[i])
	}
	return count
}

// IsStatic reports whether d has a known rank and no unknown axis sizes.
func (d Dims) IsStatic() bool {
	if d.Rank < 0 {
		return false
	}
	for i := 0; i < d.Rank; i++ {
		if d.Sizes[i] < 0 {
			return false
		}
	}
	return true
}

// Equal reports whether the two shapes have identical rank and per-axis
// sizes. No broadcasting-aware comparison: [1,3] != [3].
func (d Dims) Equal(other Dims) bool {
	if d.Rank != other.Rank {
		return false
	}
	for i := 0; i < d.Rank; i++ {
		if d.Sizes[i] != other.Sizes[i] {
			return false
		}
	}
	return true
}

// Slice returns the sizes as a Go slice of length Rank.
func (d Dims) Slice() []int {
	out := make([]int, d.Rank)
	copy(out, d.Sizes[:d.Rank])
	return out
}

func (d Dims) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < d.Rank; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", d.Sizes[i])
	}
	sb.WriteByte(']')
	return sb.String()
}
