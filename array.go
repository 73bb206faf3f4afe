package arraystore

import (
	"fmt"
	"math"
	"slices"
)

// Number is an element type that can be stored
type Number interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Array is a dense, row-major n-dimensional array
type Array[T Number] struct {
	Shape []int
	Data  []T
}

// shapeSize returns the number of elements of an array of a given shape.
// ok is false if a dimension is negative or the product overflows int.
func shapeSize(shape []int) (n int, ok bool) {
	n = 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, false
		}
		if dim != 0 && n > math.MaxInt/dim {
			return 0, false
		}
		n *= dim
	}
	return n, true
}

// NewArray creates an array of a given shape backed by data.
// len(data) must be the product of shape.
func NewArray[T Number](data []T, shape ...int) (*Array[T], error) {
	n, ok := shapeSize(shape)
	if !ok {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Array[T]{
		Shape: slices.Clone(shape),
		Data:  data,
	}, nil
}

// Full creates an array of a given shape with all elements set to v
func Full[T Number](v T, shape ...int) *Array[T] {
	n, ok := shapeSize(shape)
	panicIf(!ok, "invalid shape %v", shape)
	data := make([]T, n)
	for i := range data {
		data[i] = v
	}
	return &Array[T]{
		Shape: slices.Clone(shape),
		Data:  data,
	}
}

// Scalar creates a 0-dimensional array
func Scalar[T Number](v T) *Array[T] {
	return &Array[T]{
		Shape: []int{},
		Data:  []T{v},
	}
}

func (a *Array[T]) NDim() int {
	return len(a.Shape)
}

// Len returns length of the first axis, 1 for scalars
func (a *Array[T]) Len() int {
	if len(a.Shape) == 0 {
		return 1
	}
	return a.Shape[0]
}

func panicIf(cond bool, format string, args ...any) {
	if cond {
		panic(fmt.Sprintf(format, args...))
	}
}
