// Package timeindex maps abstract sequence positions to the concrete array
// indices model code needs. A position is either a single step (sequential
// evaluation) or a contiguous span batched over a named axis (vectorized
// evaluation). Lag arithmetic and gather-index materialization live here so
// the two evaluation modes share one set of off-by-one decisions.
package timeindex

import (
	"fmt"

	"chaincheck/internal/tensor"
)

// Position is an immutable sequence position.
type Position struct {
	span  bool
	t     int    // step, when !span
	start int    // inclusive, when span
	stop  int    // exclusive, when span
	axis  string // batched axis name, when span
}

// At returns the scalar position t.
func At(t int) Position { return Position{t: t} }

// Span returns the batched position [start, stop) over the named axis.
func Span(axis string, start, stop int) Position {
	if stop <= start {
		panic(fmt.Sprintf("timeindex: empty span [%d,%d)", start, stop))
	}
	return Position{span: true, start: start, stop: stop, axis: axis}
}

// IsSpan reports whether the position is batched.
func (p Position) IsSpan() bool { return p.span }

// Step returns the concrete step of a scalar position.
func (p Position) Step() int {
	if p.span {
		panic("timeindex: Step on span position")
	}
	return p.t
}

// Bounds returns the [start, stop) range of a span position.
func (p Position) Bounds() (int, int) {
	if !p.span {
		panic("timeindex: Bounds on scalar position")
	}
	return p.start, p.stop
}

// Axis returns the batched axis name of a span position.
func (p Position) Axis() string {
	if !p.span {
		panic("timeindex: Axis on scalar position")
	}
	return p.axis
}

// Len returns the number of steps the position covers.
func (p Position) Len() int {
	if p.span {
		return p.stop - p.start
	}
	return 1
}

// Lag shifts the position k steps into the past. ok is false when the shift
// crosses the start of the sequence; the driver never auto-clamps, so model
// code must guard boundary references itself.
func (p Position) Lag(k int) (Position, bool) {
	if k < 0 {
		panic(fmt.Sprintf("timeindex: negative lag %d", k))
	}
	if p.span {
		if p.start-k < 0 {
			return Position{}, false
		}
		return Position{span: true, start: p.start - k, stop: p.stop - k, axis: p.axis}, true
	}
	if p.t-k < 0 {
		return Position{}, false
	}
	return Position{t: p.t - k}, true
}

// String renders "3" for scalar positions and "span(1,5)" for spans,
// matching the site-name convention used throughout.
func (p Position) String() string {
	if p.span {
		return fmt.Sprintf("span(%d,%d)", p.start, p.stop)
	}
	return fmt.Sprintf("%d", p.t)
}

// Indices materializes the concrete step indices covered by the position as
// a named array: a scalar for single steps, or an array over the span's
// axis. Position-indexed parameter tables are gathered with this instead of
// iterating, so the batched path touches exactly the index range the
// per-step path would.
func (p Position) Indices() *tensor.Array {
	if !p.span {
		return tensor.Scalar(float64(p.t))
	}
	out := tensor.NewArray([]string{p.axis}, []int{p.Len()})
	for i := range out.Data() {
		out.Data()[i] = float64(p.start + i)
	}
	return out
}

// SelectData picks the position's steps out of an observation tensor. dims
// names every axis of data; timeAxis is the axis indexed by position. For a
// scalar position the axis is dropped; for a span the axis is renamed to
// the span's batched axis and restricted to [start, stop).
func SelectData(data *tensor.Dense, dims []string, timeAxis int, p Position) *tensor.Array {
	shape := data.Shape()
	if timeAxis < 0 || timeAxis >= len(shape) {
		panic(fmt.Sprintf("timeindex: time axis %d out of range for rank-%d data", timeAxis, len(shape)))
	}
	full := tensor.FromDense(data, dims...)
	if !p.span {
		if p.t < 0 || p.t >= shape[timeAxis] {
			panic(fmt.Sprintf("timeindex: step %d out of range [0,%d)", p.t, shape[timeAxis]))
		}
		return full.Select(dims[timeAxis], p.t)
	}
	if p.start < 0 || p.stop > shape[timeAxis] {
		panic(fmt.Sprintf("timeindex: span [%d,%d) out of range [0,%d)", p.start, p.stop, shape[timeAxis]))
	}
	// The span axis usually reuses the data's time-axis name, so move the
	// positional axis out of the way before gathering.
	full = full.Rename(dims[timeAxis], "_steps")
	return tensor.IndexDim(full, "_steps", p.Indices())
}
