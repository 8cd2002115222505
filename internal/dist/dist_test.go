package dist

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
)

func TestCategoricalNormalizes(t *testing.T) {
	// Unnormalized weights must behave like their normalized counterpart.
	probs := tensor.ArrayOf([]string{CatAxis}, []int{3}, []float64{2, 6, 2})
	c := NewCategorical(probs)

	total := 0.0
	for i := 0; i < 3; i++ {
		v := tensor.Scalar(float64(i))
		total += math.Exp(c.LogProb(v).Item())
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	assert.InDelta(t, math.Log(0.6), c.LogProb(tensor.Scalar(1)).Item(), 1e-12)
}

func TestCategoricalBatchedLogProb(t *testing.T) {
	// One distribution per "prev" coordinate.
	probs := tensor.ArrayOf([]string{"prev", CatAxis}, []int{2, 2}, []float64{
		0.9, 0.1,
		0.3, 0.7,
	})
	c := NewCategorical(probs)
	value := tensor.RangeArray("cur", 2)
	lp := c.LogProb(value)
	require.ElementsMatch(t, []string{"prev", "cur"}, lp.Dims())
	assert.InDelta(t, math.Log(0.9), lp.At(map[string]int{"prev": 0, "cur": 0}), 1e-12)
	assert.InDelta(t, math.Log(0.7), lp.At(map[string]int{"prev": 1, "cur": 1}), 1e-12)
}

func TestCategoricalSampleFrequencies(t *testing.T) {
	probs := tensor.NewArray([]string{"n", CatAxis}, []int{4000, 2})
	for i := 0; i < 4000; i++ {
		probs.Data()[2*i] = 0.25
		probs.Data()[2*i+1] = 0.75
	}
	c := NewCategorical(probs)
	v := c.Sample(rng.NewKey(5))
	ones := 0.0
	for _, x := range v.Data() {
		ones += x
	}
	assert.InDelta(t, 0.75, ones/4000, 0.03)
}

func TestNormalLogProbMatchesGonum(t *testing.T) {
	n := NewNormal(tensor.Scalar(1.5), tensor.Scalar(0.7))
	ref := distuv.Normal{Mu: 1.5, Sigma: 0.7}
	for _, x := range []float64{-2, 0, 1.5, 3.3} {
		got := n.LogProb(tensor.Scalar(x)).Item()
		assert.InDelta(t, ref.LogProb(x), got, 1e-12, "x=%v", x)
	}
}

func TestBetaLogProbMatchesGonum(t *testing.T) {
	b := NewBeta(2, 5)
	ref := distuv.Beta{Alpha: 2, Beta: 5}
	for _, x := range []float64{0.1, 0.4, 0.9} {
		got := b.LogProb(tensor.Scalar(x)).Item()
		assert.InDelta(t, ref.LogProb(x), got, 1e-10, "x=%v", x)
	}
	assert.True(t, math.IsInf(b.LogProb(tensor.Scalar(1.5)).Item(), -1))
}

func TestLogNormalLogProbMatchesGonum(t *testing.T) {
	l := NewLogNormal(0.3, 1.2)
	ref := distuv.LogNormal{Mu: 0.3, Sigma: 1.2}
	for _, x := range []float64{0.2, 1, 3.7} {
		got := l.LogProb(tensor.Scalar(x)).Item()
		assert.InDelta(t, ref.LogProb(x), got, 1e-12, "x=%v", x)
	}
	assert.True(t, math.IsInf(l.LogProb(tensor.Scalar(-1)).Item(), -1))
}

func TestLogNormalSample(t *testing.T) {
	l := NewLogNormal(0, 1)
	key := rng.NewKey(17)
	v := l.Sample(key)
	assert.Greater(t, v.Item(), 0.0)
	// Seeded source: same key, same draw.
	assert.Equal(t, v.Data(), l.Sample(key).Data())
	assert.NotEqual(t, v.Data(), l.Sample(key.Fold(1)).Data())
}

func TestBernoulliLogProb(t *testing.T) {
	b := NewBernoulli(tensor.Scalar(0.2))
	assert.InDelta(t, math.Log(0.2), b.LogProb(tensor.Scalar(1)).Item(), 1e-12)
	assert.InDelta(t, math.Log(0.8), b.LogProb(tensor.Scalar(0)).Item(), 1e-12)
}

func TestEnumSupport(t *testing.T) {
	probs := tensor.ArrayOf([]string{CatAxis}, []int{4}, []float64{1, 1, 1, 1})
	n, ok := NewCategorical(probs).EnumSupport()
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = NewNormal(tensor.Scalar(0), tensor.Scalar(1)).EnumSupport()
	assert.False(t, ok)

	n, ok = NewBernoulli(tensor.Scalar(0.5)).EnumSupport()
	assert.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestSampleDeterminism(t *testing.T) {
	probs := tensor.ArrayOf([]string{"b", CatAxis}, []int{3, 2}, []float64{
		0.5, 0.5, 0.2, 0.8, 0.9, 0.1,
	})
	c := NewCategorical(probs)
	key := rng.NewKey(11)
	assert.Equal(t, c.Sample(key).Data(), c.Sample(key).Data())

	n := NewNormal(tensor.Scalar(0), tensor.Scalar(1))
	assert.Equal(t, n.Sample(key).Data(), n.Sample(key).Data())
}
