// Package dist defines the distribution capability interface the evaluator
// dispatches on, plus the concrete families the model corpus needs. New
// families are added by implementing Distribution, never by touching the
// evaluator.
package dist

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
)

// CatAxis is the reserved axis name carrying a categorical distribution's
// support before the site claims it. Site names never start with an
// underscore, so it cannot collide.
const CatAxis = "_cat"

// Support classifies a distribution's domain for guide construction.
type Support int

const (
	Real Support = iota
	Positive
	UnitInterval
	Discrete
)

// Distribution is the capability interface over distribution families:
// draw a value from an explicit key, score a value in log space, and
// describe the support.
type Distribution interface {
	// Sample draws a value. The result's axes are the parameter axes.
	Sample(key rng.Key) *tensor.Array
	// LogProb scores value elementwise with broadcasting; the result's
	// axes are the union of the value and parameter axes.
	LogProb(value *tensor.Array) *tensor.Array
	// Support reports the domain.
	Support() Support
	// EnumSupport reports the size of a finite support, if enumerable.
	EnumSupport() (int, bool)
}

// Categorical is a (batched) categorical distribution. Probs carries the
// support on the CatAxis axis plus any parameter batch axes; weights are
// normalized in log space, so unnormalized tables are fine.
type Categorical struct {
	probs *tensor.Array
}

// NewCategorical builds a categorical over probs' CatAxis axis.
func NewCategorical(probs *tensor.Array) *Categorical {
	if !probs.HasDim(CatAxis) {
		panic("dist: categorical probs missing the category axis")
	}
	return &Categorical{probs: probs}
}

// NumCat returns the support size.
func (c *Categorical) NumCat() int {
	n, _ := c.probs.SizeOf(CatAxis)
	return n
}

func (c *Categorical) logNormalized() *tensor.Array {
	lp := c.probs.Map(math.Log)
	logZ := lp.LogSumExp(CatAxis)
	return tensor.Sub(lp, logZ)
}

// LogProb scores integer-valued value arrays.
func (c *Categorical) LogProb(value *tensor.Array) *tensor.Array {
	return tensor.IndexDim(c.logNormalized(), CatAxis, value)
}

// Sample draws one category per batch coordinate by CDF inversion on a key
// folded with the element's flat position.
func (c *Categorical) Sample(key rng.Key) *tensor.Array {
	lp := c.logNormalized()
	dims, sizes := batchShape(lp, CatAxis)
	out := tensor.NewArray(dims, sizes)
	n := c.NumCat()
	tensor.EachCoord(dims, sizes, func(flat int, coords map[string]int) {
		u := key.Fold(uint64(flat)).Uniform()
		acc := 0.0
		pick := n - 1
		for i := 0; i < n; i++ {
			coords[CatAxis] = i
			acc += math.Exp(lp.At(coords))
			if u < acc {
				pick = i
				break
			}
		}
		delete(coords, CatAxis)
		out.Data()[flat] = float64(pick)
	})
	return out
}

// Support reports Discrete.
func (c *Categorical) Support() Support { return Discrete }

// EnumSupport reports the category count.
func (c *Categorical) EnumSupport() (int, bool) { return c.NumCat(), true }

// Normal is a (batched) normal distribution.
type Normal struct {
	loc   *tensor.Array
	scale *tensor.Array
}

// NewNormal builds a normal with broadcastable loc and scale.
func NewNormal(loc, scale *tensor.Array) *Normal {
	return &Normal{loc: loc, scale: scale}
}

const logSqrt2Pi = 0.9189385332046727

// LogProb scores value elementwise.
func (n *Normal) LogProb(value *tensor.Array) *tensor.Array {
	z := tensor.Binary(tensor.Sub(value, n.loc), n.scale, func(d, s float64) float64 {
		return d / s
	})
	logScale := n.scale.Map(math.Log)
	unscaled := z.Map(func(v float64) float64 { return -0.5*v*v - logSqrt2Pi })
	return tensor.Sub(unscaled, logScale)
}

// Sample draws loc + scale*eps with one folded key per element.
func (n *Normal) Sample(key rng.Key) *tensor.Array {
	base := tensor.Add(n.loc, tensor.Mul(n.scale, tensor.Scalar(0))) // broadcast shape
	dims, sizes := base.Dims(), base.Sizes()
	out := tensor.NewArray(dims, sizes)
	tensor.EachCoord(dims, sizes, func(flat int, coords map[string]int) {
		eps := key.Fold(uint64(flat)).Normal()
		out.Data()[flat] = n.loc.At(coords) + n.scale.At(coords)*eps
	})
	return out
}

// Support reports Real.
func (n *Normal) Support() Support { return Real }

// EnumSupport reports not enumerable.
func (n *Normal) EnumSupport() (int, bool) { return 0, false }

// Bernoulli is a (batched) Bernoulli distribution over {0, 1}.
type Bernoulli struct {
	probs *tensor.Array
}

// NewBernoulli builds a Bernoulli with success probability probs.
func NewBernoulli(probs *tensor.Array) *Bernoulli {
	return &Bernoulli{probs: probs}
}

// LogProb scores 0/1-valued arrays.
func (b *Bernoulli) LogProb(value *tensor.Array) *tensor.Array {
	return tensor.Binary(value, b.probs, func(v, p float64) float64 {
		if v >= 0.5 {
			return math.Log(p)
		}
		return math.Log1p(-p)
	})
}

// Sample draws one coin per element.
func (b *Bernoulli) Sample(key rng.Key) *tensor.Array {
	dims, sizes := b.probs.Dims(), b.probs.Sizes()
	out := tensor.NewArray(dims, sizes)
	tensor.EachCoord(dims, sizes, func(flat int, coords map[string]int) {
		if key.Fold(uint64(flat)).Uniform() < b.probs.At(coords) {
			out.Data()[flat] = 1
		}
	})
	return out
}

// Support reports Discrete.
func (b *Bernoulli) Support() Support { return Discrete }

// EnumSupport reports 2.
func (b *Bernoulli) EnumSupport() (int, bool) { return 2, true }

// Beta is a scalar beta distribution, used by guide and SVI tests.
type Beta struct {
	Alpha, BetaP float64
}

// NewBeta builds Beta(alpha, beta).
func NewBeta(alpha, beta float64) *Beta { return &Beta{Alpha: alpha, BetaP: beta} }

// LogProb scores values in (0, 1) elementwise.
func (b *Beta) LogProb(value *tensor.Array) *tensor.Array {
	lgab, _ := math.Lgamma(b.Alpha + b.BetaP)
	lga, _ := math.Lgamma(b.Alpha)
	lgb, _ := math.Lgamma(b.BetaP)
	logZ := lga + lgb - lgab
	return value.Map(func(v float64) float64 {
		if v <= 0 || v >= 1 {
			return math.Inf(-1)
		}
		return (b.Alpha-1)*math.Log(v) + (b.BetaP-1)*math.Log1p(-v) - logZ
	})
}

// Sample draws a scalar via the ratio of folded gamma draws.
func (b *Beta) Sample(key rng.Key) *tensor.Array {
	x := gammaDraw(key.Fold(1), b.Alpha)
	y := gammaDraw(key.Fold(2), b.BetaP)
	return tensor.Scalar(x / (x + y))
}

// Support reports UnitInterval.
func (b *Beta) Support() Support { return UnitInterval }

// EnumSupport reports not enumerable.
func (b *Beta) EnumSupport() (int, bool) { return 0, false }

// LogNormal is a scalar log-normal distribution, the positive-support
// family scale parameters are modeled with.
type LogNormal struct {
	Mu, Sigma float64
}

// NewLogNormal builds LogNormal(mu, sigma).
func NewLogNormal(mu, sigma float64) *LogNormal { return &LogNormal{Mu: mu, Sigma: sigma} }

// LogProb scores positive values elementwise.
func (l *LogNormal) LogProb(value *tensor.Array) *tensor.Array {
	return value.Map(func(v float64) float64 {
		if v <= 0 {
			return math.Inf(-1)
		}
		z := (math.Log(v) - l.Mu) / l.Sigma
		return -0.5*z*z - logSqrt2Pi - math.Log(l.Sigma) - math.Log(v)
	})
}

// Sample draws a scalar from gonum's generator seeded by the key.
func (l *LogNormal) Sample(key rng.Key) *tensor.Array {
	d := distuv.LogNormal{Mu: l.Mu, Sigma: l.Sigma, Src: key.Source()}
	return tensor.Scalar(d.Rand())
}

// Support reports Positive.
func (l *LogNormal) Support() Support { return Positive }

// EnumSupport reports not enumerable.
func (l *LogNormal) EnumSupport() (int, bool) { return 0, false }

// gammaDraw uses the Marsaglia-Tsang squeeze with deterministic folded
// draws. Good enough for test-scale sampling; exactness is not required
// because scoring, not sampling, carries the equivalence contract.
func gammaDraw(key rng.Key, shape float64) float64 {
	if shape < 1 {
		u := key.Fold(7).Uniform()
		return gammaDraw(key.Fold(8), shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for i := uint64(0); ; i++ {
		x := key.Fold(10 + 2*i).Normal()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := key.Fold(11 + 2*i).Uniform()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// batchShape drops one axis from an array's shape.
func batchShape(a *tensor.Array, drop string) ([]string, []int) {
	dims := make([]string, 0)
	sizes := make([]int, 0)
	allDims, allSizes := a.Dims(), a.Sizes()
	for i, d := range allDims {
		if d == drop {
			continue
		}
		dims = append(dims, d)
		sizes = append(sizes, allSizes[i])
	}
	return dims, sizes
}
