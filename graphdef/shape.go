package graphdef

import (
	"fmt"
	"strings"
)

// PartialShape is a possibly-incomplete host tensor shape: the rank may be
// unknown, and any known-rank axis may be -1 for "unknown size". Unlike
// accelerator shapes, the batch dimension is included here as axis 0.
type PartialShape struct {
	dims        []int64
	unknownRank bool
}

// UnknownShape returns a shape of unknown rank.
func UnknownShape() PartialShape {
	return PartialShape{unknownRank: true}
}

// MakeShape returns a known-rank shape; pass -1 for unknown axis sizes.
func MakeShape(dims ...int64) PartialShape {
	return PartialShape{dims: dims}
}

// Rank returns the number of axes, or -1 if the rank is unknown.
func (s PartialShape) Rank() int {
	if s.unknownRank {
		return -1
	}
	return len(s.dims)
}

// Dim returns the size of axis i; -1 means unknown.
func (s PartialShape) Dim(i int) int64 {
	return s.dims[i]
}

// Dims returns the axis sizes; nil when the rank is unknown.
func (s PartialShape) Dims() []int64 {
	if s.unknownRank {
		return nil
	}
	return s.dims
}

// IsFullyDefined reports whether the rank and every axis size are known.
func (s PartialShape) IsFullyDefined() bool {
	if s.unknownRank {
		return false
	}
	for _, d := range s.dims {
		if d < 0 {
			return false
		}
	}
	return true
}

func (s PartialShape) String() string {
	if s.unknownRank {
		return "<unknown>"
	}
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprintf("%d", d)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}
