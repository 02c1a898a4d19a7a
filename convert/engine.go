package convert

import (
	"strconv"
	"strings"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/segment"
	"github.com/anvilml/graph-anvil/status"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PrecisionMode selects the numeric precision the engine is built for.
type PrecisionMode int

const (
	FP32Mode PrecisionMode = iota
	FP16Mode
	INT8Mode
)

func (m PrecisionMode) String() string {
	switch m {
	case FP32Mode:
		return "FP32"
	case FP16Mode:
		return "FP16"
	case INT8Mode:
		return "INT8"
	}
	return "PrecisionMode(?)"
}

// EngineConfig carries the per-engine build parameters.
type EngineConfig struct {
	Precision         PrecisionMode
	MaxBatchSize      int
	MaxWorkspaceBytes int64

	// InputShapes holds one full shape (batch included) per engine input
	// slot, indexed by the slot number encoded in the placeholder name.
	InputShapes []graphdef.PartialShape

	// Calibrator is required in INT8 mode.
	Calibrator anvil.Int8Calibrator

	// Plugins optionally supplies custom operators.
	Plugins PluginFactory
}

// ValidateInputProperties checks that a full tensor shape (batch included)
// and element type can back an engine input binding.
func ValidateInputProperties(shape graphdef.PartialShape, dtype dtypes.DType) (anvil.DataType, error) {
	converted, err := anvilDType(dtype)
	if err != nil {
		return 0, err
	}
	if shape.Rank() < 0 {
		return 0, status.InvalidArgumentf(
			"input tensor with shape %s has an unknown rank", shape)
	}
	if shape.Rank() > anvil.MaxDims+1 {
		return 0, status.OutOfRangef(
			"input tensor rank is greater than %d", anvil.MaxDims+1)
	}
	for i := 1; i < shape.Rank(); i++ {
		if shape.Dim(i) < 0 {
			return 0, status.InvalidArgumentf(
				"input tensor with shape %s has an unknown non-batch dimension at dim %d",
				shape, i)
		}
	}
	return converted, nil
}

// parsePlaceholderSlot extracts the slot number from a placeholder name like
// "AnvilInputPH_3".
func parsePlaceholderSlot(name, prefix string) (int, error) {
	slot, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, status.InvalidArgumentf("failed to parse slot number from %s", name)
	}
	return slot, nil
}

// ConvertGraphToEngine converts a rewired graph fragment (placeholder inputs
// and identity outputs as produced by package segment, internal nodes in
// producers-before-consumers order) into a compiled engine on the given
// backend.
func ConvertGraphToEngine(backend anvil.Backend, gdef *graphdef.GraphDef, cfg EngineConfig) (anvil.Engine, error) {
	builder := backend.NewBuilder()
	builder.SetMaxBatchSize(cfg.MaxBatchSize)
	builder.SetMaxWorkspaceSize(cfg.MaxWorkspaceBytes)
	switch cfg.Precision {
	case FP16Mode:
		builder.SetHalfMode(true)
	case INT8Mode:
		builder.SetInt8Mode(true)
		builder.SetInt8Calibrator(cfg.Calibrator)
	}

	network, err := builder.CreateNetwork()
	if err != nil {
		return nil, status.Internalf("failed to create network object: %v", err)
	}

	klog.V(1).Infof("starting engine conversion, precision=%s, max batch=%d, workspace=%s",
		cfg.Precision, cfg.MaxBatchSize, humanize.IBytes(uint64(cfg.MaxWorkspaceBytes)))
	converter := NewConverter(network, cfg.Precision == FP16Mode, cfg.Plugins)
	var outputBindings []OutputBinding
	for _, node := range gdef.Nodes {
		name := node.Name
		klog.V(2).Infof("converting op name=%s, op=%s", name, node.Op)
		switch {
		case strings.HasPrefix(name, segment.InputPHPrefix) && node.Op == "Placeholder":
			slot, err := parsePlaceholderSlot(name, segment.InputPHPrefix)
			if err != nil {
				return nil, err
			}
			if slot < 0 || slot >= len(cfg.InputShapes) {
				return nil, status.InvalidArgumentf(
					"input slot %d of %s has no configured shape", slot, name)
			}
			shape := cfg.InputShapes[slot]
			nodeType, err := attrsOf(node).Type("dtype")
			if err != nil {
				return nil, err
			}
			dtype, err := ValidateInputProperties(shape, nodeType)
			if err != nil {
				err = errors.WithMessagef(err, "validation failed for %s and input slot %d", name, slot)
				klog.Warning(err.Error())
				return nil, err
			}

			var inputDims anvil.Dims
			inputDims.Rank = shape.Rank() - 1
			for i := 1; i < shape.Rank(); i++ {
				inputDims.Sizes[i-1] = int(shape.Dim(i))
			}
			klog.V(2).Infof("adding engine input tensor %s with shape %s", name, inputDims)
			if err := converter.AddInputTensor(name, dtype, inputDims, int(shape.Dim(0))); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, segment.OutputPHPrefix) && node.Op == "Identity":
			slot, err := parsePlaceholderSlot(name, segment.OutputPHPrefix)
			if err != nil {
				return nil, err
			}
			for len(outputBindings) <= slot {
				outputBindings = append(outputBindings, OutputBinding{})
			}
			outputBindings[slot] = OutputBinding{InternalName: node.Input[0], ExternalName: name}
		default:
			if err := converter.ConvertNode(node); err != nil {
				return nil, err
			}
		}
	}
	if err := converter.RenameAndMarkOutputTensors(outputBindings); err != nil {
		return nil, err
	}

	klog.V(1).Info("starting engine creation")
	engine, err := builder.BuildEngine(network)
	if err != nil || engine == nil {
		if err != nil {
			return nil, status.Internalf("failed to build engine: %v", err)
		}
		return nil, status.Internalf("failed to build engine")
	}
	klog.V(1).Info("finished conversion")
	return engine, nil
}
