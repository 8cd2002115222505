// Package tensor provides the small array algebra the evaluator runs on:
// positional row-major tensors for parameter tables and observation data
// (Dense), and named-axis arrays for probability factors (Array).
//
// Shape misuse is a programming error and panics, following gonum/mat's
// convention; recoverable failures are returned as errors by the callers
// that own them.
package tensor

import "fmt"

// Dense is a positional, row-major float64 tensor.
type Dense struct {
	shape []int
	data  []float64
}

// NewDense allocates a zeroed tensor. A nil or empty shape yields a scalar.
func NewDense(shape ...int) *Dense {
	n := 1
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("tensor: non-positive dimension %d in shape %v", s, shape))
		}
		n *= s
	}
	return &Dense{shape: append([]int(nil), shape...), data: make([]float64, n)}
}

// DenseOf wraps a copy of data with the given shape.
func DenseOf(data []float64, shape ...int) *Dense {
	d := NewDense(shape...)
	if len(data) != len(d.data) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}
	copy(d.data, data)
	return d
}

// Shape returns a copy of the tensor's shape.
func (d *Dense) Shape() []int { return append([]int(nil), d.shape...) }

// Rank returns the number of axes.
func (d *Dense) Rank() int { return len(d.shape) }

// Size returns the total number of elements.
func (d *Dense) Size() int { return len(d.data) }

// Dim returns the length of axis i.
func (d *Dense) Dim(i int) int { return d.shape[i] }

// Data exposes the backing slice. Mutating it mutates the tensor; the
// parameter store relies on this for flattening.
func (d *Dense) Data() []float64 { return d.data }

func (d *Dense) offset(idx []int) int {
	if len(idx) != len(d.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank-%d tensor", len(idx), len(d.shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= d.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range [0,%d) on axis %d", x, d.shape[i], i))
		}
		off = off*d.shape[i] + x
	}
	return off
}

// At returns the element at idx.
func (d *Dense) At(idx ...int) float64 { return d.data[d.offset(idx)] }

// SetAt stores v at idx.
func (d *Dense) SetAt(v float64, idx ...int) { d.data[d.offset(idx)] = v }

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	return DenseOf(d.data, d.shape...)
}

// Map returns a new tensor with f applied elementwise.
func (d *Dense) Map(f func(float64) float64) *Dense {
	out := d.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// odometer advances a multi-index in row-major order. Returns false after
// the last index.
func odometer(idx []int, sizes []int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < sizes[i] {
			return true
		}
		idx[i] = 0
	}
	return false
}

// strides returns row-major strides for sizes.
func strides(sizes []int) []int {
	st := make([]int, len(sizes))
	acc := 1
	for i := len(sizes) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= sizes[i]
	}
	return st
}
