package graphdef

import "github.com/gomlx/gopjrt/dtypes"

// AttrKind discriminates the active field of an AttrValue.
type AttrKind uint8

const (
	AttrString AttrKind = iota
	AttrInt
	AttrFloat
	AttrBool
	AttrType
	AttrIntList
	AttrFloatList
	AttrShape
	AttrTensor
)

func (k AttrKind) String() string {
	switch k {
	case AttrString:
		return "string"
	case AttrInt:
		return "int"
	case AttrFloat:
		return "float"
	case AttrBool:
		return "bool"
	case AttrType:
		return "type"
	case AttrIntList:
		return "list(int)"
	case AttrFloatList:
		return "list(float)"
	case AttrShape:
		return "shape"
	case AttrTensor:
		return "tensor"
	}
	return "AttrKind(?)"
}

// AttrValue is one typed attribute of a NodeDef. Exactly the field selected
// by Kind is meaningful; use the constructors below rather than struct
// literals.
type AttrValue struct {
	Kind AttrKind

	S      string
	I      int64
	F      float32
	B      bool
	Type   dtypes.DType
	Ints   []int64
	Floats []float32
	Shape  PartialShape
	Tensor *TensorDef
}

// StringAttr builds a string attribute.
func StringAttr(s string) *AttrValue { return &AttrValue{Kind: AttrString, S: s} }

// IntAttr builds an int attribute.
func IntAttr(i int64) *AttrValue { return &AttrValue{Kind: AttrInt, I: i} }

// FloatAttr builds a float attribute.
func FloatAttr(f float32) *AttrValue { return &AttrValue{Kind: AttrFloat, F: f} }

// BoolAttr builds a bool attribute.
func BoolAttr(b bool) *AttrValue { return &AttrValue{Kind: AttrBool, B: b} }

// TypeAttr builds an element-type attribute.
func TypeAttr(dtype dtypes.DType) *AttrValue { return &AttrValue{Kind: AttrType, Type: dtype} }

// IntsAttr builds an int-list attribute.
func IntsAttr(ints ...int64) *AttrValue { return &AttrValue{Kind: AttrIntList, Ints: ints} }

// FloatsAttr builds a float-list attribute.
func FloatsAttr(floats ...float32) *AttrValue {
	return &AttrValue{Kind: AttrFloatList, Floats: floats}
}

// ShapeAttr builds a shape attribute.
func ShapeAttr(shape PartialShape) *AttrValue { return &AttrValue{Kind: AttrShape, Shape: shape} }

// TensorAttr builds a tensor-constant attribute.
func TensorAttr(tensor *TensorDef) *AttrValue { return &AttrValue{Kind: AttrTensor, Tensor: tensor} }
