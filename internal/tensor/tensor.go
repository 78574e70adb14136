package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 array with an explicit shape.
//
// The last axis is contiguous. Operations in this package never alias the
// Data of their inputs into their outputs unless documented otherwise.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("negative dimension for tensor")
		}
		n *= d
	}
	return &Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float32, n),
	}
}

// FromData wraps data in a tensor of the given shape. The data slice is not
// copied.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, errNegativeDim
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Dim returns the size of axis i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

// Rows returns a matrix view of t that flattens every axis but the last.
// The view shares t.Data.
func (t *Tensor) Rows() Mat {
	if len(t.Shape) == 0 {
		return NewMatFromData(1, 1, t.Data)
	}
	c := t.Shape[len(t.Shape)-1]
	if c == 0 {
		return Mat{R: 0, C: 0}
	}
	return NewMatFromData(len(t.Data)/c, c, t.Data)
}

// String formats the shape, which is what callers usually want in errors.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}
