package tensor

import (
	"fmt"
	"math"
)

// Array is a float64 array whose axes are identified by name rather than
// position. Factors produced during model evaluation live here: enumeration
// axes are named after the site that introduced them, plate axes after the
// plate, and the batched sequence axis after the markov loop. Binary
// operations broadcast by name, so alignment questions never depend on axis
// order.
type Array struct {
	dims  []string
	sizes []int
	data  []float64
}

// Scalar wraps a single value as a rank-0 array.
func Scalar(v float64) *Array {
	return &Array{data: []float64{v}}
}

// NewArray allocates a zeroed array with the given axes.
func NewArray(dims []string, sizes []int) *Array {
	if len(dims) != len(sizes) {
		panic(fmt.Sprintf("tensor: %d dims for %d sizes", len(dims), len(sizes)))
	}
	seen := make(map[string]bool, len(dims))
	n := 1
	for i, d := range dims {
		if seen[d] {
			panic(fmt.Sprintf("tensor: duplicate axis %q", d))
		}
		seen[d] = true
		if sizes[i] <= 0 {
			panic(fmt.Sprintf("tensor: non-positive size %d for axis %q", sizes[i], d))
		}
		n *= sizes[i]
	}
	return &Array{
		dims:  append([]string(nil), dims...),
		sizes: append([]int(nil), sizes...),
		data:  make([]float64, n),
	}
}

// ArrayOf wraps a copy of data with the given axes.
func ArrayOf(dims []string, sizes []int, data []float64) *Array {
	a := NewArray(dims, sizes)
	if len(data) != len(a.data) {
		panic(fmt.Sprintf("tensor: data length %d does not match sizes %v", len(data), sizes))
	}
	copy(a.data, data)
	return a
}

// RangeArray returns the values 0..n-1 along a single axis named dim. This
// is how enumerated sites materialize their support.
func RangeArray(dim string, n int) *Array {
	a := NewArray([]string{dim}, []int{n})
	for i := range a.data {
		a.data[i] = float64(i)
	}
	return a
}

// FromDense names the axes of a positional tensor.
func FromDense(d *Dense, dims ...string) *Array {
	if len(dims) != d.Rank() {
		panic(fmt.Sprintf("tensor: %d axis names for rank-%d tensor", len(dims), d.Rank()))
	}
	return ArrayOf(dims, d.shape, d.data)
}

// Dims returns a copy of the axis names in storage order.
func (a *Array) Dims() []string { return append([]string(nil), a.dims...) }

// SizeOf returns the length of the named axis.
func (a *Array) SizeOf(dim string) (int, bool) {
	for i, d := range a.dims {
		if d == dim {
			return a.sizes[i], true
		}
	}
	return 0, false
}

// HasDim reports whether the named axis is present.
func (a *Array) HasDim(dim string) bool {
	_, ok := a.SizeOf(dim)
	return ok
}

// IsScalar reports whether the array is rank 0.
func (a *Array) IsScalar() bool { return len(a.dims) == 0 }

// Item returns the value of a rank-0 array.
func (a *Array) Item() float64 {
	if !a.IsScalar() {
		panic(fmt.Sprintf("tensor: Item on array with axes %v", a.dims))
	}
	return a.data[0]
}

// Data exposes the backing slice in storage order.
func (a *Array) Data() []float64 { return a.data }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return ArrayOf(a.dims, a.sizes, a.data)
}

// Map returns a new array with f applied elementwise.
func (a *Array) Map(f func(float64) float64) *Array {
	out := a.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// strideFor maps each of resultDims to the row-major stride of that axis in
// a, or 0 when a lacks the axis (broadcast).
func (a *Array) strideFor(resultDims []string) []int {
	st := strides(a.sizes)
	out := make([]int, len(resultDims))
	for i, rd := range resultDims {
		for j, d := range a.dims {
			if d == rd {
				out[i] = st[j]
				break
			}
		}
	}
	return out
}

// unionDims merges axis names of a then b, checking shared sizes.
func unionDims(a, b *Array) ([]string, []int) {
	dims := append([]string(nil), a.dims...)
	sizes := append([]int(nil), a.sizes...)
	for i, d := range b.dims {
		if n, ok := a.SizeOf(d); ok {
			if n != b.sizes[i] {
				panic(fmt.Sprintf("tensor: axis %q size mismatch: %d vs %d", d, n, b.sizes[i]))
			}
			continue
		}
		dims = append(dims, d)
		sizes = append(sizes, b.sizes[i])
	}
	return dims, sizes
}

// Binary applies f elementwise with broadcasting by axis name. The result
// carries a's axes followed by b's axes not present in a.
func Binary(a, b *Array, f func(x, y float64) float64) *Array {
	dims, sizes := unionDims(a, b)
	out := NewArray(dims, sizes)
	sa := a.strideFor(dims)
	sb := b.strideFor(dims)
	idx := make([]int, len(dims))
	for i := 0; ; i++ {
		ia, ib := 0, 0
		for k, x := range idx {
			ia += x * sa[k]
			ib += x * sb[k]
		}
		out.data[i] = f(a.data[ia], b.data[ib])
		if !odometer(idx, sizes) {
			break
		}
	}
	return out
}

// Add returns a + b with broadcasting.
func Add(a, b *Array) *Array { return Binary(a, b, func(x, y float64) float64 { return x + y }) }

// Sub returns a - b with broadcasting.
func Sub(a, b *Array) *Array { return Binary(a, b, func(x, y float64) float64 { return x - y }) }

// Mul returns a * b with broadcasting.
func Mul(a, b *Array) *Array { return Binary(a, b, func(x, y float64) float64 { return x * y }) }

func (a *Array) axis(dim string) int {
	for i, d := range a.dims {
		if d == dim {
			return i
		}
	}
	panic(fmt.Sprintf("tensor: no axis %q in %v", dim, a.dims))
}

func (a *Array) dropAxis(i int) ([]string, []int) {
	dims := make([]string, 0, len(a.dims)-1)
	sizes := make([]int, 0, len(a.dims)-1)
	for j := range a.dims {
		if j == i {
			continue
		}
		dims = append(dims, a.dims[j])
		sizes = append(sizes, a.sizes[j])
	}
	return dims, sizes
}

// Select fixes the named axis at index i and drops it.
func (a *Array) Select(dim string, i int) *Array {
	ax := a.axis(dim)
	if i < 0 || i >= a.sizes[ax] {
		panic(fmt.Sprintf("tensor: select %d out of range [0,%d) on axis %q", i, a.sizes[ax], dim))
	}
	dims, sizes := a.dropAxis(ax)
	out := NewArray(dims, sizes)
	st := a.strideFor(dims)
	stAx := strides(a.sizes)[ax]
	idx := make([]int, len(dims))
	for j := 0; ; j++ {
		off := i * stAx
		for k, x := range idx {
			off += x * st[k]
		}
		out.data[j] = a.data[off]
		if !odometer(idx, sizes) {
			break
		}
	}
	return out
}

// Rename relabels an axis. The new name must not collide with an existing
// axis.
func (a *Array) Rename(from, to string) *Array {
	if from == to {
		return a
	}
	if a.HasDim(to) {
		panic(fmt.Sprintf("tensor: rename %q -> %q collides with existing axis", from, to))
	}
	ax := a.axis(from)
	out := a.Clone()
	out.dims[ax] = to
	return out
}

func (a *Array) reduce(dim string, init float64, step func(acc, v float64) float64, finish func(acc float64) float64) *Array {
	ax := a.axis(dim)
	dims, sizes := a.dropAxis(ax)
	out := NewArray(dims, sizes)
	st := a.strideFor(dims)
	stAx := strides(a.sizes)[ax]
	n := a.sizes[ax]
	idx := make([]int, len(dims))
	for j := 0; ; j++ {
		base := 0
		for k, x := range idx {
			base += x * st[k]
		}
		acc := init
		for i := 0; i < n; i++ {
			acc = step(acc, a.data[base+i*stAx])
		}
		out.data[j] = finish(acc)
		if !odometer(idx, sizes) {
			break
		}
	}
	return out
}

// SumDim sums out the named axis.
func (a *Array) SumDim(dim string) *Array {
	return a.reduce(dim, 0,
		func(acc, v float64) float64 { return acc + v },
		func(acc float64) float64 { return acc })
}

// LogSumExp reduces the named axis in log space with the usual max shift.
func (a *Array) LogSumExp(dim string) *Array {
	ax := a.axis(dim)
	dims, sizes := a.dropAxis(ax)
	out := NewArray(dims, sizes)
	st := a.strideFor(dims)
	stAx := strides(a.sizes)[ax]
	n := a.sizes[ax]
	idx := make([]int, len(dims))
	for j := 0; ; j++ {
		base := 0
		for k, x := range idx {
			base += x * st[k]
		}
		m := math.Inf(-1)
		for i := 0; i < n; i++ {
			if v := a.data[base+i*stAx]; v > m {
				m = v
			}
		}
		s := 0.0
		if math.IsInf(m, -1) {
			out.data[j] = m
		} else {
			for i := 0; i < n; i++ {
				s += math.Exp(a.data[base+i*stAx] - m)
			}
			out.data[j] = m + math.Log(s)
		}
		if !odometer(idx, sizes) {
			break
		}
	}
	return out
}

// AlignTo returns a copy whose axes are stored in the given order. The axis
// name sets must match exactly.
func (a *Array) AlignTo(dims []string) *Array {
	if len(dims) != len(a.dims) {
		panic(fmt.Sprintf("tensor: align %v to %v", a.dims, dims))
	}
	sizes := make([]int, len(dims))
	for i, d := range dims {
		n, ok := a.SizeOf(d)
		if !ok {
			panic(fmt.Sprintf("tensor: align target axis %q missing from %v", d, a.dims))
		}
		sizes[i] = n
	}
	out := NewArray(dims, sizes)
	sa := a.strideFor(dims)
	idx := make([]int, len(dims))
	for j := 0; ; j++ {
		off := 0
		for k, x := range idx {
			off += x * sa[k]
		}
		out.data[j] = a.data[off]
		if !odometer(idx, sizes) {
			break
		}
	}
	return out
}

func asIndex(v float64, n int, what string) int {
	i := int(math.Round(v))
	if math.Abs(v-float64(i)) > 1e-9 || i < 0 || i >= n {
		panic(fmt.Sprintf("tensor: %s index %v out of range [0,%d)", what, v, n))
	}
	return i
}

// Take performs gather-style advanced indexing on a positional table: the
// first len(idx) axes of table are indexed by the (broadcast) idx arrays and
// the remaining axes are labeled with outDims. This is the named equivalent
// of Vindex(table)[idx...].
func Take(table *Dense, outDims []string, idx ...*Array) *Array {
	if len(idx)+len(outDims) != table.Rank() {
		panic(fmt.Sprintf("tensor: take with %d indices and %d out axes on rank-%d table",
			len(idx), len(outDims), table.Rank()))
	}
	// Broadcast shape of the index arrays.
	bcast := Scalar(0)
	for _, ix := range idx {
		bcast = Binary(bcast, ix, func(x, _ float64) float64 { return x })
	}
	dims := append(bcast.Dims(), outDims...)
	sizes := append([]int(nil), bcast.sizes...)
	for i, d := range outDims {
		if bcast.HasDim(d) {
			panic(fmt.Sprintf("tensor: take output axis %q collides with index axis", d))
		}
		sizes = append(sizes, table.shape[len(idx)+i])
	}
	out := NewArray(dims, sizes)
	stIdx := make([][]int, len(idx))
	for i, ix := range idx {
		stIdx[i] = ix.strideFor(dims)
	}
	stTable := strides(table.shape)
	cur := make([]int, len(dims))
	for j := 0; ; j++ {
		off := 0
		for i, ix := range idx {
			p := 0
			for k, x := range cur {
				p += x * stIdx[i][k]
			}
			off += asIndex(ix.data[p], table.shape[i], "take") * stTable[i]
		}
		for i := range outDims {
			off += cur[len(bcast.sizes)+i] * stTable[len(idx)+i]
		}
		out.data[j] = table.data[off]
		if !odometer(cur, sizes) {
			break
		}
	}
	return out
}

// IndexDim gathers along one named axis of a: result[c] = a[..., dim=idx[c]].
// The result keeps a's other axes and gains idx's axes.
func IndexDim(a *Array, dim string, idx *Array) *Array {
	ax := a.axis(dim)
	keepDims, keepSizes := a.dropAxis(ax)
	dims := append([]string(nil), keepDims...)
	sizes := append([]int(nil), keepSizes...)
	for i, d := range idx.dims {
		if d == dim {
			panic(fmt.Sprintf("tensor: index array reuses axis %q", dim))
		}
		if n, ok := a.SizeOf(d); ok && d != dim {
			if n != idx.sizes[i] {
				panic(fmt.Sprintf("tensor: axis %q size mismatch: %d vs %d", d, n, idx.sizes[i]))
			}
			continue
		}
		dims = append(dims, d)
		sizes = append(sizes, idx.sizes[i])
	}
	out := NewArray(dims, sizes)
	sa := a.strideFor(dims)
	si := idx.strideFor(dims)
	stAx := strides(a.sizes)[ax]
	n := a.sizes[ax]
	cur := make([]int, len(dims))
	for j := 0; ; j++ {
		offA, offI := 0, 0
		for k, x := range cur {
			offA += x * sa[k]
			offI += x * si[k]
		}
		out.data[j] = a.data[offA+asIndex(idx.data[offI], n, dim)*stAx]
		if !odometer(cur, sizes) {
			break
		}
	}
	return out
}
