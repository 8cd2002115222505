package infer

import (
	"fmt"

	"chaincheck/internal/guide"
	"chaincheck/internal/model"
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/trace"
)

// SampleAxis names the leading axis predictive draws are stacked over.
const SampleAxis = "_sample"

// Predictive draws repeated model evaluations and stacks every site's value
// over a leading sample axis. With a guide attached the latents are drawn
// from the guide (posterior predictive); without one they come from the
// model's priors.
type Predictive struct {
	fn         model.Fn
	guide      *guide.AutoDiagonalNormal
	params     *trace.ParamSet
	numSamples int
}

// NewPredictive builds a predictive sampler. guide may be nil.
func NewPredictive(fn model.Fn, g *guide.AutoDiagonalNormal, params *trace.ParamSet, numSamples int) *Predictive {
	return &Predictive{fn: fn, guide: g, params: params, numSamples: numSamples}
}

// Generate draws numSamples evaluations against data and returns each site's
// stacked values keyed by site name.
func (p *Predictive) Generate(seed uint64, data *tensor.Dense) (map[string]*tensor.Array, error) {
	if p.numSamples <= 0 {
		return nil, fmt.Errorf("predictive: numSamples %d must be > 0", p.numSamples)
	}
	key := rng.NewKey(seed)
	collected := make(map[string][]*tensor.Array)
	var order []string
	for i := 0; i < p.numSamples; i++ {
		k := key.Fold(uint64(i))
		opts := []trace.Option{}
		if p.guide != nil {
			gt, _, err := p.guide.Sample(k.Fold(1), p.params)
			if err != nil {
				return nil, err
			}
			opts = append(opts, trace.WithReplay(gt))
		}
		e := trace.NewEval(k.Fold(2), p.params, opts...)
		if err := p.fn(e, data); err != nil {
			return nil, err
		}
		for _, s := range e.Finish().Sites() {
			name := s.Key.Name()
			if _, seen := collected[name]; !seen {
				order = append(order, name)
			}
			collected[name] = append(collected[name], s.Value)
		}
	}

	out := make(map[string]*tensor.Array, len(order))
	for _, name := range order {
		draws := collected[name]
		if len(draws) != p.numSamples {
			return nil, fmt.Errorf("predictive: site %q appeared in %d of %d draws", name, len(draws), p.numSamples)
		}
		out[name] = stack(draws)
	}
	return out, nil
}

// stack prepends the sample axis. Row-major layout makes each draw a
// contiguous block.
func stack(draws []*tensor.Array) *tensor.Array {
	dims := append([]string{SampleAxis}, draws[0].Dims()...)
	sizes := append([]int{len(draws)}, draws[0].Sizes()...)
	out := tensor.NewArray(dims, sizes)
	n := len(draws[0].Data())
	for i, d := range draws {
		copy(out.Data()[i*n:(i+1)*n], d.Data())
	}
	return out
}
