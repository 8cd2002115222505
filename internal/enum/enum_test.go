package enum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaincheck/internal/dist"
	"chaincheck/internal/faults"
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/trace"
)

var (
	tinyInit  = []float64{0.6, 0.4}
	tinyTrans = []float64{0.7, 0.3, 0.2, 0.8}
	tinyLocs  = []float64{-1, 1}
	tinyObs   = []float64{0.5, -0.3, 0.9}
)

// runTinyChain evaluates a 2-state, 3-step chain with Normal emissions under
// the requested driver mode.
func runTinyChain(t *testing.T, vectorized bool) *trace.Trace {
	t.Helper()
	init := tensor.DenseOf(tinyInit, 2)
	trans := tensor.DenseOf(tinyTrans, 2, 2)
	locs := tensor.DenseOf(tinyLocs, 2)
	data := tensor.DenseOf(tinyObs, 3)

	e := trace.NewEval(rng.NewKey(1), trace.NewParamSet(), trace.WithEnumeration())
	ps, err := e.Loop("time", 3, 1, vectorized)
	require.NoError(t, err)
	for _, p := range ps {
		var probs *tensor.Array
		var used []*trace.Value
		if prev, ok := e.Lagged("x", p, 1); ok {
			probs = tensor.Take(trans, []string{dist.CatAxis}, prev.Arr)
			used = append(used, prev)
		} else {
			probs = tensor.FromDense(init, dist.CatAxis)
		}
		x, err := e.Sample("x", p, dist.NewCategorical(probs), trace.Using(used...))
		require.NoError(t, err)
		loc := tensor.Take(locs, nil, x.Arr)
		obs := timeindex.SelectData(data, []string{"time"}, 0, p)
		_, err = e.Sample("y", p, dist.NewNormal(loc, tensor.Scalar(1)),
			trace.Obs(obs), trace.Using(x))
		require.NoError(t, err)
	}
	return e.Finish()
}

func normalLogPdf(x, mu float64) float64 {
	d := x - mu
	return -0.5*d*d - 0.9189385332046727
}

// bruteForceLogZ sums the joint over all 8 latent paths.
func bruteForceLogZ() float64 {
	total := 0.0
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			for c := 0; c < 2; c++ {
				p := tinyInit[a] * tinyTrans[2*a+b] * tinyTrans[2*b+c]
				p *= math.Exp(normalLogPdf(tinyObs[0], tinyLocs[a]))
				p *= math.Exp(normalLogPdf(tinyObs[1], tinyLocs[b]))
				p *= math.Exp(normalLogPdf(tinyObs[2], tinyLocs[c]))
				total += p
			}
		}
	}
	return math.Log(total)
}

func TestLogMarginalMatchesBruteForce(t *testing.T) {
	want := bruteForceLogZ()

	seq := runTinyChain(t, false)
	got, err := LogMarginal(seq)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-10)

	vec := runTinyChain(t, true)
	got, err = LogMarginal(vec)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-10)
}

func TestSliceFactorSubstitution(t *testing.T) {
	seq := runTinyChain(t, false)
	vec := runTinyChain(t, true)

	span := timeindex.Span("time", 1, 3)
	batched, ok := vec.Site("x", span)
	require.True(t, ok)
	// The transition table is time-invariant, so the batched transition
	// factor carries only the two enumeration axes.
	require.ElementsMatch(t, []string{"x_span(0,2)", "x_span(1,3)"}, batched.LogProb.Dims())

	for _, step := range []int{1, 2} {
		wantSite, ok := seq.Site("x", timeindex.At(step))
		require.True(t, ok)
		want := wantSite.LogProb
		got := SliceFactor(vec, batched, step).AlignTo(want.Dims())
		assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-12, "step %d", step)
	}

	assert.Panics(t, func() { SliceFactor(vec, batched, 0) })
}

func TestLogMarginalLeafPlate(t *testing.T) {
	// x ~ Cat(init); y_i ~ Normal(locs[x], 1) over a 2-element plate.
	init := tensor.DenseOf(tinyInit, 2)
	locs := tensor.DenseOf(tinyLocs, 2)
	obs := []float64{0.2, -0.7}

	e := trace.NewEval(rng.NewKey(1), trace.NewParamSet(), trace.WithEnumeration())
	require.NoError(t, e.Plate("obs", 2, -1))
	x, err := e.Sample("x", timeindex.At(0),
		dist.NewCategorical(tensor.FromDense(init, dist.CatAxis)))
	require.NoError(t, err)
	loc := tensor.Take(locs, nil, x.Arr)
	_, err = e.Sample("y", timeindex.At(0),
		dist.NewNormal(loc, tensor.Scalar(1)),
		trace.Obs(tensor.ArrayOf([]string{"obs"}, []int{2}, obs)),
		trace.Using(x), trace.InPlates("obs"))
	require.NoError(t, err)

	got, err := LogMarginal(e.Finish())
	require.NoError(t, err)

	want := 0.0
	for s := 0; s < 2; s++ {
		want += tinyInit[s] * math.Exp(normalLogPdf(obs[0], tinyLocs[s])+normalLogPdf(obs[1], tinyLocs[s]))
	}
	assert.InDelta(t, math.Log(want), got, 1e-10)
}

func TestLogMarginalRejectsSampledLatent(t *testing.T) {
	// Without enumeration the latent is drawn, so exact marginalization is
	// off the table.
	e := trace.NewEval(rng.NewKey(1), trace.NewParamSet())
	_, err := e.Sample("x", timeindex.At(0),
		dist.NewNormal(tensor.Scalar(0), tensor.Scalar(1)))
	require.NoError(t, err)

	_, err = LogMarginal(e.Finish())
	assert.ErrorIs(t, err, faults.ErrUnsupportedModel)
}

func TestLogJoint(t *testing.T) {
	e := trace.NewEval(rng.NewKey(4), trace.NewParamSet())
	x, err := e.Sample("x", timeindex.At(0),
		dist.NewNormal(tensor.Scalar(0), tensor.Scalar(1)))
	require.NoError(t, err)
	_, err = e.Sample("y", timeindex.At(0),
		dist.NewNormal(x.Arr, tensor.Scalar(1)), trace.Obs(tensor.Scalar(0.3)))
	require.NoError(t, err)

	tr := e.Finish()
	got, err := LogJoint(tr)
	require.NoError(t, err)

	xv := x.Arr.Item()
	want := normalLogPdf(xv, 0) + normalLogPdf(0.3, xv)
	assert.InDelta(t, want, got, 1e-12)
}

func TestLogJointRejectsEnumerated(t *testing.T) {
	probs := tensor.ArrayOf([]string{dist.CatAxis}, []int{2}, []float64{1, 1})
	e := trace.NewEval(rng.NewKey(1), trace.NewParamSet(), trace.WithEnumeration())
	_, err := e.Sample("x", timeindex.At(0), dist.NewCategorical(probs))
	require.NoError(t, err)

	_, err = LogJoint(e.Finish())
	assert.ErrorIs(t, err, faults.ErrUnsupportedModel)
}
