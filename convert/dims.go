package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
)

// getBroadcastShape reconciles the shapes of a binary op's operands between
// the host's NumPy-style broadcasting and the accelerator's equal-rank
// elementwise requirement.
//
// Live tensors carry an implicit batch dimension the accelerator will not
// let us touch, so both shapes are right-aligned into a MaxDims+1 wide
// buffer padded with 1s, the batch slot of any tensor operand is forced to a
// -1 wildcard, and broadcasting that would have to reach into a tensor's
// batch slot fails. Classic per-axis compatibility (equal, or one side 1) is
// then checked from the last axis backward, and the batch slot is stripped
// off the returned shapes.
func getBroadcastShape(lhs anvil.Dims, lhsIsTensor bool, rhs anvil.Dims, rhsIsTensor bool) (newLHS, newRHS anvil.Dims, err error) {
	const bufWidth = anvil.MaxDims + 1

	var lbuf, rbuf [bufWidth]int
	for i := range lbuf {
		lbuf[i] = 1
		rbuf[i] = 1
	}

	// Effective ranks with the implicit batch axis restored for tensors.
	lRank := lhs.Rank
	if lhsIsTensor {
		lRank++
	}
	rRank := rhs.Rank
	if rhsIsTensor {
		rRank++
	}
	maxRank := lRank
	if rRank > maxRank {
		maxRank = rRank
	}
	copy(lbuf[maxRank-lhs.Rank:maxRank], lhs.Sizes[:lhs.Rank])
	copy(rbuf[maxRank-rhs.Rank:maxRank], rhs.Sizes[:rhs.Rank])

	// A tensor's batch axis must land on slot 0 exactly; anything else would
	// require broadcasting across the batch.
	if lhsIsTensor {
		if maxRank != lRank {
			return newLHS, newRHS, status.InvalidArgumentf(
				"broadcast would modify the batch dimension of the left operand")
		}
		lbuf[0] = -1
	}
	if rhsIsTensor {
		if maxRank != rRank {
			return newLHS, newRHS, status.InvalidArgumentf(
				"broadcast would modify the batch dimension of the right operand")
		}
		rbuf[0] = -1
	}

	for i := maxRank - 1; i >= 0; i-- {
		if lbuf[i] != rbuf[i] && lbuf[i] != 1 && rbuf[i] != 1 {
			return newLHS, newRHS, status.InvalidArgumentf(
				"shapes %s and %s are not broadcast compatible at axis %d", lhs, rhs, i)
		}
	}

	newLHS.Rank = maxRank - 1
	copy(newLHS.Sizes[:], lbuf[1:maxRank])
	newRHS.Rank = maxRank - 1
	copy(newRHS.Sizes[:], rbuf[1:maxRank])
	return newLHS, newRHS, nil
}

// padPair is the split of one spatial axis's total padding.
type padPair struct {
	before, after int
}

// createSamePadding computes the host framework's SAME padding for each
// spatial axis: total = ((input-1)/stride)*stride + kernel - input, clamped
// at 0, split right-biased.
func createSamePadding(stride, kernel anvil.HW, inputDims []int) []padPair {
	strides := []int{stride.H, stride.W}
	kernels := []int{kernel.H, kernel.W}
	padding := make([]padPair, len(inputDims))
	for i, input := range inputDims {
		p := ((input-1)/strides[i])*strides[i] + kernels[i] - input
		if p < 0 {
			p = 0
		}
		left := p / 2
		padding[i] = padPair{before: left, after: p - left}
	}
	return padding
}
