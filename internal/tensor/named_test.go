package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryBroadcastByName(t *testing.T) {
	a := ArrayOf([]string{"i"}, []int{2}, []float64{1, 2})
	b := ArrayOf([]string{"j"}, []int{3}, []float64{10, 20, 30})

	sum := Add(a, b)
	assert.Equal(t, []string{"i", "j"}, sum.Dims())
	assert.Equal(t, []float64{11, 21, 31, 12, 22, 32}, sum.Data())

	// Shared axes align by name regardless of storage order.
	c := ArrayOf([]string{"j", "i"}, []int{3, 2}, []float64{1, 2, 3, 4, 5, 6})
	got := Add(c, a)
	assert.Equal(t, []float64{2, 4, 4, 6, 6, 8}, got.Data())
}

func TestBinarySizeMismatchPanics(t *testing.T) {
	a := ArrayOf([]string{"i"}, []int{2}, []float64{1, 2})
	b := ArrayOf([]string{"i"}, []int{3}, []float64{1, 2, 3})
	assert.Panics(t, func() { Add(a, b) })
}

func TestSelectAndRename(t *testing.T) {
	a := ArrayOf([]string{"i", "j"}, []int{2, 3}, []float64{0, 1, 2, 3, 4, 5})

	row := a.Select("i", 1)
	assert.Equal(t, []string{"j"}, row.Dims())
	assert.Equal(t, []float64{3, 4, 5}, row.Data())

	col := a.Select("j", 2)
	assert.Equal(t, []float64{2, 5}, col.Data())

	r := a.Rename("i", "k")
	assert.Equal(t, []string{"k", "j"}, r.Dims())
	assert.Panics(t, func() { a.Rename("i", "j") })
}

func TestLogSumExp(t *testing.T) {
	a := ArrayOf([]string{"i", "j"}, []int{2, 2}, []float64{
		math.Log(1), math.Log(3),
		math.Log(2), math.Log(4),
	})
	got := a.LogSumExp("j")
	want := []float64{math.Log(4), math.Log(6)}
	assert.InDeltaSlice(t, want, got.Data(), 1e-12)

	// All -inf stays -inf without NaN.
	ninf := ArrayOf([]string{"i"}, []int{2}, []float64{math.Inf(-1), math.Inf(-1)})
	assert.True(t, math.IsInf(ninf.LogSumExp("i").Item(), -1))
}

func TestSumDimMatchesManual(t *testing.T) {
	a := ArrayOf([]string{"i", "j"}, []int{2, 3}, []float64{0, 1, 2, 3, 4, 5})
	got := a.SumDim("j")
	assert.Equal(t, []float64{3, 12}, got.Data())
}

func TestAlignTo(t *testing.T) {
	a := ArrayOf([]string{"i", "j"}, []int{2, 3}, []float64{0, 1, 2, 3, 4, 5})
	b := a.AlignTo([]string{"j", "i"})
	assert.Equal(t, []string{"j", "i"}, b.Dims())
	assert.Equal(t, []float64{0, 3, 1, 4, 2, 5}, b.Data())

	// Round trip.
	back := b.AlignTo([]string{"i", "j"})
	assert.Empty(t, cmp.Diff(a.Data(), back.Data(), cmpopts.EquateApprox(0, 0)))
}

func TestTakeGather(t *testing.T) {
	// table[s, c]: transition rows.
	table := DenseOf([]float64{
		1, 2, 3,
		4, 5, 6,
	}, 2, 3)

	idx := ArrayOf([]string{"prev"}, []int{2}, []float64{1, 0})
	got := Take(table, []string{"cat"}, idx)
	require.Equal(t, []string{"prev", "cat"}, got.Dims())
	assert.Equal(t, []float64{4, 5, 6, 1, 2, 3}, got.Data())

	// Two broadcast index arrays select single cells.
	rows := ArrayOf([]string{"a"}, []int{2}, []float64{0, 1})
	cols := ArrayOf([]string{"b"}, []int{2}, []float64{2, 0})
	cells := Take(table, nil, rows, cols)
	require.Equal(t, []string{"a", "b"}, cells.Dims())
	assert.Equal(t, []float64{3, 1, 6, 4}, cells.Data())
}

func TestIndexDim(t *testing.T) {
	a := ArrayOf([]string{"i", "cat"}, []int{2, 3}, []float64{
		10, 11, 12,
		20, 21, 22,
	})
	idx := ArrayOf([]string{"i"}, []int{2}, []float64{2, 0})
	got := IndexDim(a, "cat", idx)
	require.Equal(t, []string{"i"}, got.Dims())
	assert.Equal(t, []float64{12, 20}, got.Data())

	assert.Panics(t, func() {
		IndexDim(a, "cat", ArrayOf([]string{"cat"}, []int{2}, []float64{0, 1}))
	})
	assert.Panics(t, func() {
		IndexDim(a, "cat", Scalar(7))
	})
}

func TestRangeArrayAndScalar(t *testing.T) {
	r := RangeArray("x_3", 4)
	assert.Equal(t, []float64{0, 1, 2, 3}, r.Data())

	s := Scalar(2.5)
	assert.True(t, s.IsScalar())
	assert.Equal(t, 2.5, s.Item())
	assert.Panics(t, func() { r.Item() })
}

func TestAtCoords(t *testing.T) {
	a := ArrayOf([]string{"i", "j"}, []int{2, 3}, []float64{0, 1, 2, 3, 4, 5})
	assert.Equal(t, 5.0, a.At(map[string]int{"i": 1, "j": 2}))
	// Extra coordinates are ignored.
	assert.Equal(t, 1.0, a.At(map[string]int{"i": 0, "j": 1, "k": 9}))
}
