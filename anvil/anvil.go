// Package anvil defines the interface to the inference accelerator's
// network-building and engine-compilation API.
//
// The package is deliberately an interface boundary: the conversion pipeline
// in package convert only ever talks to these types, so it can be driven by
// the real accelerator bindings or by the in-memory reference backend in
// anvil/sim. Backends register themselves with Register, in the same spirit
// a database driver would.
//
// The accelerator uses an implicit batch dimension: every Dims in this API
// excludes the batch axis, and the maximum batch size is fixed on the
// Builder before compilation.
package anvil

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DataType is the accelerator's element type. Int8 is reserved for
// quantized inference and must not be used for general integer data.
type DataType uint8

const (
	Float DataType = iota
	Half
	Int8
	Int32
)

func (t DataType) String() string {
	switch t {
	case Float:
		return "Float"
	case Half:
		return "Half"
	case Int8:
		return "Int8"
	case Int32:
		return "Int32"
	}
	return "DataType(?)"
}

// Size returns the element size in bytes.
func (t DataType) Size() int {
	switch t {
	case Float, Int32:
		return 4
	case Half:
		return 2
	case Int8:
		return 1
	}
	return 0
}

// Weights is a read-only blob of layer parameters. The backing bytes must
// remain valid and unchanged until the engine build completes; the network
// stores the slice, it does not copy it.
type Weights struct {
	Type  DataType
	Raw   []byte
	Count int64
}

// Tensor is a handle to a value flowing through the network under
// construction. Dims exclude the batch dimension.
type Tensor interface {
	Name() string
	SetName(name string)
	Dims() Dims
	Type() DataType
}

// Layer is one accelerator-native operation in the network.
type Layer interface {
	Name() string
	SetName(name string)
	NumOutputs() int
	Output(index int) Tensor
}

// ActivationType selects the nonlinearity of an activation layer.
type ActivationType uint8

const (
	ActivationRelu ActivationType = iota
	ActivationSigmoid
	ActivationTanh
)

// PoolingType selects the reduction of a pooling layer.
type PoolingType uint8

const (
	PoolingMax PoolingType = iota
	PoolingAverage
)

// ElementWiseOp is a binary elementwise operation.
type ElementWiseOp uint8

const (
	ElementWiseSum ElementWiseOp = iota
	ElementWiseProd
	ElementWiseSub
	ElementWiseDiv
	ElementWiseMin
	ElementWiseMax
)

// UnaryOp is a pointwise unary operation.
type UnaryOp uint8

const (
	UnaryNeg UnaryOp = iota
	UnaryExp
	UnaryLog
	UnarySqrt
	UnaryAbs
	UnaryRecip
)

// ReduceOp is the reduction applied by a reduce layer.
type ReduceOp uint8

const (
	ReduceSum ReduceOp = iota
	ReduceProd
	ReduceMax
	ReduceMin
	ReduceAvg
)

// ScaleMode describes how scale-layer parameters map onto the input tensor.
type ScaleMode uint8

const (
	// ScaleUniform applies a single scalar across the whole tensor.
	ScaleUniform ScaleMode = iota
	// ScaleChannel applies one value per channel (axis 0 of the CHW view).
	ScaleChannel
	// ScaleElementwise applies one value per element.
	ScaleElementwise
)

// TopKOp selects the direction of a top-k layer.
type TopKOp uint8

const (
	TopKMax TopKOp = iota
	TopKMin
)

// ShuffleLayer reorders and reshapes its input: an optional leading
// transpose, a reshape, and an optional trailing transpose. In the reshape
// dims a size of 0 copies the corresponding input axis and -1 infers the
// size from the remaining elements.
type ShuffleLayer interface {
	Layer
	SetFirstTranspose(perm []int)
	SetReshapeDims(dims Dims)
	SetSecondTranspose(perm []int)
}

// ConvolutionLayer configures a 2D convolution after creation.
type ConvolutionLayer interface {
	Layer
	SetStride(stride HW)
	SetPadding(pad HW)
	SetNumGroups(groups int)
}

// PoolingLayer configures a 2D pooling after creation.
type PoolingLayer interface {
	Layer
	SetStride(stride HW)
	SetPadding(pad HW)
}

// TopKLayer has two outputs: values (output 0) and indices (output 1).
type TopKLayer interface {
	Layer
}

// Plugin is a user-supplied custom layer implementation. Attributes arrive
// as opaque key to float-array blobs. OutputDims mirrors the accelerator's
// contract that a plugin declares its own output shapes.
type Plugin interface {
	Name() string
	SetAttribute(key string, value []float32) bool
	OutputDims(inputs []Dims) []Dims
}

// Int8Calibrator feeds representative activation data to the builder when
// compiling in int8 mode. Opaque to this package.
type Int8Calibrator interface {
	Name() string
}

// Network is the accelerator graph under construction. All Add* methods
// return a nil Layer (or Tensor) with a non-nil error on failure; they never
// partially mutate the network on error.
type Network interface {
	// AddInput declares an engine input binding. Dims exclude batch.
	AddInput(name string, dtype DataType, dims Dims) (Tensor, error)

	// MarkOutput declares tensor as an engine output binding.
	MarkOutput(tensor Tensor)

	AddConvolution(input Tensor, numOutputMaps int, kernel HW, kernelWeights, biasWeights Weights) (ConvolutionLayer, error)
	AddPooling(input Tensor, pooling PoolingType, windowSize HW) (PoolingLayer, error)
	AddActivation(input Tensor, activation ActivationType) (Layer, error)
	AddElementWise(lhs, rhs Tensor, op ElementWiseOp) (Layer, error)
	AddUnary(input Tensor, op UnaryOp) (Layer, error)
	AddScale(input Tensor, mode ScaleMode, shift, scale, power Weights) (Layer, error)
	AddShuffle(input Tensor) (ShuffleLayer, error)
	AddPadding(input Tensor, prePadding, postPadding HW) (Layer, error)
	AddConcatenation(inputs []Tensor, axis int) (Layer, error)
	AddMatrixMultiply(lhs Tensor, transposeLHS bool, rhs Tensor, transposeRHS bool) (Layer, error)
	AddFullyConnected(input Tensor, numOutputs int, kernelWeights, biasWeights Weights) (Layer, error)
	AddReduce(input Tensor, op ReduceOp, axes uint32, keepDims bool) (Layer, error)
	AddSoftmax(input Tensor, axes uint32) (Layer, error)
	AddTopK(input Tensor, op TopKOp, k int, axes uint32) (TopKLayer, error)
	AddConstant(dims Dims, weights Weights) (Layer, error)
	AddPlugin(inputs []Tensor, plugin Plugin) (Layer, error)
}

// Engine is a compiled, runnable accelerator program. Execution itself is
// outside this package's scope; the handle exists to be cached, serialized
// and handed to the runtime.
type Engine interface {
	Name() string
	// NumBindings is the number of input plus output bindings.
	NumBindings() int
	// Serialize returns the engine in the accelerator's persistence format.
	Serialize() ([]byte, error)
}

// Builder creates networks and compiles them into engines.
type Builder interface {
	SetMaxBatchSize(batchSize int)
	SetMaxWorkspaceSize(bytes int64)
	SetHalfMode(enabled bool)
	SetInt8Mode(enabled bool)
	SetInt8Calibrator(calibrator Int8Calibrator)

	// CreateNetwork returns a fresh, empty network owned by this builder.
	CreateNetwork() (Network, error)

	// BuildEngine compiles the network. A nil engine with a nil error means
	// the compiler rejected the network without further diagnosis; callers
	// treat that the same as an error.
	BuildEngine(network Network) (Engine, error)
}

// Backend is a registered accelerator implementation.
type Backend interface {
	Name() string
	NewBuilder() Builder
}

// Constructor builds a Backend from a backend-specific config string.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register makes a backend constructor available under name. Call from the
// backend package's init.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// AnvilBackendEnv is the environment variable consulted by New for the
// default backend configuration, formatted "<name>:<backend config>".
const AnvilBackendEnv = "ANVIL_BACKEND"

// New returns a Backend: the one configured in ANVIL_BACKEND if set,
// otherwise the first registered backend with an empty config.
func New() (Backend, error) {
	if config, found := os.LookupEnv(AnvilBackendEnv); found {
		return NewWithConfig(config)
	}
	return NewWithConfig("")
}

// NewWithConfig builds the backend selected by config ("<name>:<rest>");
// an empty name selects the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New("no anvil backends registered -- import a backend package such as github.com/anvilml/graph-anvil/anvil/sim")
	}
	name := firstRegistered
	rest := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		rest = config[idx+1:]
	} else if config != "" {
		name = config
		rest = ""
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("no anvil backend named %q registered (from config %q)", name, config)
	}
	return constructor(rest)
}
