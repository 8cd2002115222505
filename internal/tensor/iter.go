package tensor

import "fmt"

// At returns the element addressed by named coordinates. Every axis of the
// array must be present in coords; extra entries are ignored.
func (a *Array) At(coords map[string]int) float64 {
	st := strides(a.sizes)
	off := 0
	for i, d := range a.dims {
		x, ok := coords[d]
		if !ok {
			panic(fmt.Sprintf("tensor: missing coordinate for axis %q", d))
		}
		if x < 0 || x >= a.sizes[i] {
			panic(fmt.Sprintf("tensor: coordinate %d out of range [0,%d) on axis %q", x, a.sizes[i], d))
		}
		off += x * st[i]
	}
	return a.data[off]
}

// EachCoord visits every element of an array shaped by dims/sizes in
// row-major order, passing the flat position and the named coordinates. The
// coords map is reused between calls.
func EachCoord(dims []string, sizes []int, f func(flat int, coords map[string]int)) {
	idx := make([]int, len(dims))
	coords := make(map[string]int, len(dims))
	for flat := 0; ; flat++ {
		for i, d := range dims {
			coords[d] = idx[i]
		}
		f(flat, coords)
		if !odometer(idx, sizes) {
			return
		}
	}
}

// Sizes returns a copy of the axis lengths in storage order.
func (a *Array) Sizes() []int { return append([]int(nil), a.sizes...) }
