// Package convert translates a host-framework graph fragment, node by node,
// into an anvil accelerator network and compiles it into an engine.
//
// The entry points are ConvertGraphToEngine for whole fragments produced by
// package segment, Converter for driving individual nodes, and NodeValidator
// for side-effect-free convertibility checks.
package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/gopjrt/dtypes"
)

// anvilDType maps a host element type onto the accelerator's element type.
// The accelerator only speaks four types; everything else is InvalidArgument.
func anvilDType(dtype dtypes.DType) (anvil.DataType, error) {
	switch dtype {
	case dtypes.Float32:
		return anvil.Float, nil
	case dtypes.Float16:
		return anvil.Half, nil
	case dtypes.Int32:
		return anvil.Int32, nil
	case dtypes.Int8:
		// Reserved for quantized inference, but the host may feed it.
		return anvil.Int8, nil
	default:
		return 0, status.InvalidArgumentf("unsupported data type %s", dtype)
	}
}
