// Package guide builds variational guides automatically from a model's
// prototype trace. AutoDiagonalNormal fits an independent normal per latent
// coordinate in unconstrained space, mapped back to each site's support
// through a fixed bijection.
package guide

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"chaincheck/internal/dist"
	"chaincheck/internal/faults"
	"chaincheck/internal/model"
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/trace"
)

// InitStrategy selects how the location vector is initialized.
type InitStrategy int

const (
	// InitFeasible starts at zero in unconstrained space.
	InitFeasible InitStrategy = iota
	// InitMedian starts at an elementwise median of prior draws.
	InitMedian
	// InitSample starts at a single prior draw.
	InitSample
	// InitUniform starts uniformly in (-radius, radius) unconstrained.
	InitUniform
)

const (
	defaultInitScale     = 0.1
	defaultUniformRadius = 2.0
	medianDraws          = 15
)

// transform is a coordinatewise bijection from unconstrained space onto a
// site's support.
type transform struct {
	fwd       func(float64) float64
	inv       func(float64) float64
	logDetJac func(z float64) float64
}

var identityTF = transform{
	fwd:       func(z float64) float64 { return z },
	inv:       func(x float64) float64 { return x },
	logDetJac: func(z float64) float64 { return 0 },
}

var expTF = transform{
	fwd:       math.Exp,
	inv:       math.Log,
	logDetJac: func(z float64) float64 { return z },
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

var sigmoidTF = transform{
	fwd: sigmoid,
	inv: func(x float64) float64 { return math.Log(x) - math.Log1p(-x) },
	logDetJac: func(z float64) float64 {
		s := sigmoid(z)
		return math.Log(s) + math.Log1p(-s)
	},
}

func transformFor(key trace.SiteKey, s dist.Support) (transform, error) {
	switch s {
	case dist.Real:
		return identityTF, nil
	case dist.Positive:
		return expTF, nil
	case dist.UnitInterval:
		return sigmoidTF, nil
	case dist.Discrete:
		return transform{}, fmt.Errorf("%w: AutoDiagonalNormal cannot handle discrete latent site %q; marginalize it out or use a different guide",
			faults.ErrUnsupportedModel, key.Name())
	default:
		return transform{}, fmt.Errorf("%w: latent site %q has an unsupported support; consider reparameterizing the model",
			faults.ErrUnsupportedModel, key.Name())
	}
}

// protoSite is one latent site of the prototype trace with its slot in the
// flattened unconstrained vector.
type protoSite struct {
	key    trace.SiteKey
	dist   dist.Distribution
	dims   []string
	sizes  []int
	size   int
	offset int
	tf     transform
}

// AutoDiagonalNormal is a mean-field normal guide over a model's continuous
// latents.
type AutoDiagonalNormal struct {
	fn       model.Fn
	data     *tensor.Dense
	strategy InitStrategy
	scale    float64
	radius   float64

	sites []protoSite
	total int
}

// Option configures guide construction.
type Option func(*AutoDiagonalNormal)

// WithInit selects the location init strategy.
func WithInit(s InitStrategy) Option {
	return func(g *AutoDiagonalNormal) { g.strategy = s }
}

// WithInitScale sets the initial per-coordinate scale.
func WithInitScale(s float64) Option {
	return func(g *AutoDiagonalNormal) { g.scale = s }
}

// NewAutoDiagonalNormal builds a guide over fn's latents.
func NewAutoDiagonalNormal(fn model.Fn, data *tensor.Dense, opts ...Option) *AutoDiagonalNormal {
	g := &AutoDiagonalNormal{
		fn:       fn,
		data:     data,
		strategy: InitFeasible,
		scale:    defaultInitScale,
		radius:   defaultUniformRadius,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Setup runs the model once to record the prototype trace, validates every
// latent site's support, and registers the guide's parameters. Plate
// inconsistencies and unsupported sites surface here, before optimization
// starts.
func (g *AutoDiagonalNormal) Setup(key rng.Key, params *trace.ParamSet) error {
	e := trace.NewEval(key.Fold(1), params)
	if err := g.fn(e, g.data); err != nil {
		return err
	}
	proto := e.Finish()

	g.sites = g.sites[:0]
	g.total = 0
	for _, s := range proto.Sites() {
		if s.Observed {
			continue
		}
		tf, err := transformFor(s.Key, s.Dist.Support())
		if err != nil {
			return err
		}
		ps := protoSite{
			key:    s.Key,
			dist:   s.Dist,
			dims:   s.Value.Dims(),
			sizes:  s.Value.Sizes(),
			size:   len(s.Value.Data()),
			offset: g.total,
			tf:     tf,
		}
		g.sites = append(g.sites, ps)
		g.total += ps.size
	}
	if g.total == 0 {
		return fmt.Errorf("%w: model has no continuous latent sites to guide", faults.ErrUnsupportedModel)
	}

	params.GetOrInit("auto_loc", key.Fold(2), func(k rng.Key) *tensor.Dense {
		return g.initLoc(k)
	})
	params.GetOrInit("auto_scale", key.Fold(3), func(k rng.Key) *tensor.Dense {
		d := tensor.NewDense(g.total)
		for i := range d.Data() {
			d.Data()[i] = g.scale
		}
		return d
	})
	return nil
}

func (g *AutoDiagonalNormal) initLoc(key rng.Key) *tensor.Dense {
	d := tensor.NewDense(g.total)
	switch g.strategy {
	case InitFeasible:
		// zeros
	case InitUniform:
		for i := range d.Data() {
			d.Data()[i] = g.radius * (2*key.Fold(uint64(i)).Uniform() - 1)
		}
	case InitSample:
		for _, ps := range g.sites {
			v := ps.dist.Sample(key.FoldString("init:" + ps.key.Name()))
			for i, x := range v.Data() {
				d.Data()[ps.offset+i] = ps.tf.inv(x)
			}
		}
	case InitMedian:
		for _, ps := range g.sites {
			draws := make([][]float64, medianDraws)
			for j := range draws {
				v := ps.dist.Sample(key.FoldString("init:" + ps.key.Name()).Fold(uint64(j)))
				draws[j] = v.Data()
			}
			col := make([]float64, medianDraws)
			for i := 0; i < ps.size; i++ {
				for j := range draws {
					col[j] = draws[j][i]
				}
				sort.Float64s(col)
				d.Data()[ps.offset+i] = ps.tf.inv(col[medianDraws/2])
			}
		}
	}
	return d
}

func (g *AutoDiagonalNormal) vectors(params *trace.ParamSet) (loc, scale []float64, err error) {
	l, ok := params.Get("auto_loc")
	if !ok {
		return nil, nil, fmt.Errorf("%w: guide used before Setup", faults.ErrConfiguration)
	}
	s, ok := params.Get("auto_scale")
	if !ok {
		return nil, nil, fmt.Errorf("%w: guide used before Setup", faults.ErrConfiguration)
	}
	return l.Data(), s.Data(), nil
}

// Sample draws one set of latent values and returns them as a replay trace
// together with log q at the drawn values (Jacobian-corrected to the
// constrained space).
func (g *AutoDiagonalNormal) Sample(key rng.Key, params *trace.ParamSet) (*trace.Trace, float64, error) {
	loc, scale, err := g.vectors(params)
	if err != nil {
		return nil, 0, err
	}
	logQ := 0.0
	vals := make(map[trace.SiteKey]*tensor.Array, len(g.sites))
	for _, ps := range g.sites {
		out := tensor.NewArray(ps.dims, ps.sizes)
		for i := 0; i < ps.size; i++ {
			j := ps.offset + i
			sc := math.Abs(scale[j])
			eps := key.Fold(uint64(j)).Normal()
			z := loc[j] + sc*eps
			logQ += -0.5*eps*eps - logSqrt2Pi - math.Log(sc) - ps.tf.logDetJac(z)
			out.Data()[i] = ps.tf.fwd(z)
		}
		vals[ps.key] = out
	}
	return trace.ValueTrace(vals), logQ, nil
}

const logSqrt2Pi = 0.9189385332046727

// Median returns the guide's posterior median per site, keyed by site name.
func (g *AutoDiagonalNormal) Median(params *trace.ParamSet) (map[string]*tensor.Array, error) {
	loc, _, err := g.vectors(params)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*tensor.Array, len(g.sites))
	for _, ps := range g.sites {
		a := tensor.NewArray(ps.dims, ps.sizes)
		for i := 0; i < ps.size; i++ {
			a.Data()[i] = ps.tf.fwd(loc[ps.offset+i])
		}
		out[ps.key.Name()] = a
	}
	return out, nil
}

// Quantiles returns per-site posterior quantiles for each probability in qs.
func (g *AutoDiagonalNormal) Quantiles(params *trace.ParamSet, qs []float64) (map[string][]*tensor.Array, error) {
	loc, scale, err := g.vectors(params)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*tensor.Array, len(g.sites))
	for _, ps := range g.sites {
		arrs := make([]*tensor.Array, len(qs))
		for qi, q := range qs {
			z := distuv.UnitNormal.Quantile(q)
			a := tensor.NewArray(ps.dims, ps.sizes)
			for i := 0; i < ps.size; i++ {
				j := ps.offset + i
				a.Data()[i] = ps.tf.fwd(loc[j] + math.Abs(scale[j])*z)
			}
			arrs[qi] = a
		}
		out[ps.key.Name()] = arrs
	}
	return out, nil
}
