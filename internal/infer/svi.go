// Package infer optimizes guide parameters against a model by stochastic
// variational inference and draws predictive samples from the result.
package infer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"

	"chaincheck/internal/enum"
	"chaincheck/internal/guide"
	"chaincheck/internal/model"
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/trace"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// SVI owns one optimization run: the model, its guide, the parameter set
// being optimized, and the Adam state over the flattened parameters.
type SVI struct {
	fn    model.Fn
	data  *tensor.Dense
	guide *guide.AutoDiagonalNormal
	lr    float64

	params *trace.ParamSet
	m, v   []float64
	step   int
}

// SVIOption configures an SVI run.
type SVIOption func(*SVI)

// WithLearningRate overrides the Adam step size.
func WithLearningRate(lr float64) SVIOption {
	return func(s *SVI) { s.lr = lr }
}

// NewSVI builds an optimizer for fn under g.
func NewSVI(fn model.Fn, data *tensor.Dense, g *guide.AutoDiagonalNormal, opts ...SVIOption) *SVI {
	s := &SVI{fn: fn, data: data, guide: g, lr: 0.01}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init materializes model and guide parameters. Guide setup runs the model
// once, so model-side parameters register here too.
func (s *SVI) Init(seed uint64) error {
	s.params = trace.NewParamSet()
	if err := s.guide.Setup(rng.NewKey(seed), s.params); err != nil {
		return err
	}
	n := s.params.NumValues()
	s.m = make([]float64, n)
	s.v = make([]float64, n)
	s.step = 0
	return nil
}

// Params exposes the parameter set being optimized.
func (s *SVI) Params() *trace.ParamSet { return s.params }

// elbo estimates the evidence lower bound with a single guide sample:
// log p(data, z) - log q(z) at z drawn from the guide.
func (s *SVI) elbo(key rng.Key, params *trace.ParamSet) (float64, error) {
	gt, logQ, err := s.guide.Sample(key.Fold(1), params)
	if err != nil {
		return 0, err
	}
	e := trace.NewEval(key.Fold(2), params, trace.WithReplay(gt))
	if err := s.fn(e, s.data); err != nil {
		return 0, err
	}
	logP, err := enum.LogJoint(e.Finish())
	if err != nil {
		return 0, err
	}
	return logP - logQ, nil
}

// Update performs one Adam step against the single-sample negative ELBO at
// the given key and returns the loss before the step.
func (s *SVI) Update(key rng.Key) (float64, error) {
	if s.params == nil {
		return 0, fmt.Errorf("svi: Update before Init")
	}
	f := func(x []float64) float64 {
		p := s.params.Clone()
		p.SetFlat(x)
		elbo, err := s.elbo(key, p)
		if err != nil {
			return math.NaN()
		}
		return -elbo
	}
	x := s.params.Flatten()
	loss := f(x)
	if math.IsNaN(loss) {
		// Re-run once to surface the underlying error.
		p := s.params.Clone()
		p.SetFlat(x)
		if _, err := s.elbo(key, p); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("svi: loss is NaN at step %d", s.step)
	}
	grad := fd.Gradient(nil, f, x, &fd.Settings{Formula: fd.Central, Step: 1e-6})

	s.step++
	c1 := 1 - math.Pow(adamBeta1, float64(s.step))
	c2 := 1 - math.Pow(adamBeta2, float64(s.step))
	for i := range x {
		s.m[i] = adamBeta1*s.m[i] + (1-adamBeta1)*grad[i]
		s.v[i] = adamBeta2*s.v[i] + (1-adamBeta2)*grad[i]*grad[i]
		x[i] -= s.lr * (s.m[i] / c1) / (math.Sqrt(s.v[i]/c2) + adamEps)
	}
	s.params.SetFlat(x)
	return loss, nil
}

// Run performs n steps from seed and returns the per-step losses.
func (s *SVI) Run(seed uint64, n int) ([]float64, error) {
	if err := s.Init(seed); err != nil {
		return nil, err
	}
	key := rng.NewKey(seed)
	losses := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		loss, err := s.Update(key.Fold(uint64(i)))
		if err != nil {
			return losses, fmt.Errorf("svi step %d: %w", i, err)
		}
		losses = append(losses, loss)
	}
	return losses, nil
}
