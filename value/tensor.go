package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of a tensor.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
)

// Size returns the width of one element in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8:
		return 1
	default:
		return 0
	}
}

// Tensor is a dense fixed-shape numeric array. Data holds the elements in
// row-major order, little-endian. Shape and dtype survive serialization
// exactly; a tensor never degrades to nested lists.
type Tensor struct {
	DType DType
	Shape []int64
	Data  []byte
}

func (*Tensor) value() {}

// NewTensor validates dtype, shape, and data length and returns the tensor.
func NewTensor(dtype DType, shape []int64, data []byte) (*Tensor, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: tensor dtype %q", ErrUnsupported, dtype)
	}
	n := int64(1)
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("%w: negative tensor dimension %d", ErrUnsupported, dim)
		}
		n *= dim
	}
	if int64(len(data)) != n*int64(size) {
		return nil, fmt.Errorf("%w: tensor data length %d does not match shape %v of dtype %s",
			ErrUnsupported, len(data), shape, dtype)
	}
	return &Tensor{DType: dtype, Shape: shape, Data: data}, nil
}

// Float32Tensor builds a float32 tensor from typed elements.
func Float32Tensor(shape []int64, elems []float32) (*Tensor, error) {
	data := make([]byte, 4*len(elems))
	for i, e := range elems {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(e))
	}
	return NewTensor(Float32, shape, data)
}

// Int64Tensor builds an int64 tensor from typed elements.
func Int64Tensor(shape []int64, elems []int64) (*Tensor, error) {
	data := make([]byte, 8*len(elems))
	for i, e := range elems {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(e))
	}
	return NewTensor(Int64, shape, data)
}

// NumElements returns the product of the shape dimensions.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// Float32s decodes the payload as float32 elements.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not %s", t.DType, Float32)
	}
	out := make([]float32, t.NumElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return out, nil
}

// Int64s decodes the payload as int64 elements.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.DType != Int64 {
		return nil, fmt.Errorf("tensor dtype is %s, not %s", t.DType, Int64)
	}
	out := make([]int64, t.NumElements())
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.Data[8*i:]))
	}
	return out, nil
}

// Equal reports whether two tensors hold identical dtype, shape, and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.DType != other.DType || len(t.Shape) != len(other.Shape) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%s, shape=%v)", t.DType, t.Shape)
}
