package model

import (
	"chaincheck/internal/dist"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/trace"
)

// PlainNormal is a location model: loc ~ Normal(0, 10), observations drawn
// Normal(loc, 1) inside an "obs" plate. The simplest model the guide and
// SVI paths handle.
func PlainNormal() Fn {
	return func(e *trace.Eval, data *tensor.Dense) error {
		if err := e.Plate("obs", data.Shape()[0], -1); err != nil {
			return err
		}
		loc, err := e.Sample("loc", timeindex.At(0),
			dist.NewNormal(tensor.Scalar(0), tensor.Scalar(10)))
		if err != nil {
			return err
		}
		_, err = e.Sample("y", timeindex.At(0),
			dist.NewNormal(loc.Arr, tensor.Scalar(1)),
			trace.Obs(tensor.FromDense(data, "obs")),
			trace.Using(loc), trace.InPlates("obs"))
		return err
	}
}

// PlainBeta is a coin model: p ~ Beta(2, 2), observations Bernoulli(p).
// Exercises the unit-interval transform.
func PlainBeta() Fn {
	return func(e *trace.Eval, data *tensor.Dense) error {
		if err := e.Plate("obs", data.Shape()[0], -1); err != nil {
			return err
		}
		p, err := e.Sample("p", timeindex.At(0), dist.NewBeta(2, 2))
		if err != nil {
			return err
		}
		_, err = e.Sample("y", timeindex.At(0),
			dist.NewBernoulli(p.Arr),
			trace.Obs(tensor.FromDense(data, "obs")),
			trace.Using(p), trace.InPlates("obs"))
		return err
	}
}

// PlainLogNormal is a scale model: s ~ LogNormal(0, 1), observations
// Normal(0, s). Exercises the positive-support transform.
func PlainLogNormal() Fn {
	return func(e *trace.Eval, data *tensor.Dense) error {
		if err := e.Plate("obs", data.Shape()[0], -1); err != nil {
			return err
		}
		s, err := e.Sample("s", timeindex.At(0), dist.NewLogNormal(0, 1))
		if err != nil {
			return err
		}
		_, err = e.Sample("y", timeindex.At(0),
			dist.NewNormal(tensor.Scalar(0), s.Arr),
			trace.Obs(tensor.FromDense(data, "obs")),
			trace.Using(s), trace.InPlates("obs"))
		return err
	}
}

// PlainDiscrete has a discrete latent, which mean-field normal guides must
// reject.
func PlainDiscrete() Fn {
	return func(e *trace.Eval, data *tensor.Dense) error {
		probs := tensor.ArrayOf([]string{dist.CatAxis}, []int{2}, []float64{0.5, 0.5})
		z, err := e.Sample("z", timeindex.At(0), dist.NewCategorical(probs))
		if err != nil {
			return err
		}
		if err := e.Plate("obs", data.Shape()[0], -1); err != nil {
			return err
		}
		locs := tensor.ArrayOf([]string{dist.CatAxis}, []int{2}, []float64{-1, 1})
		loc := tensor.IndexDim(locs, dist.CatAxis, z.Arr)
		_, err = e.Sample("y", timeindex.At(0),
			dist.NewNormal(loc, tensor.Scalar(1)),
			trace.Obs(tensor.FromDense(data, "obs")),
			trace.Using(z), trace.InPlates("obs"))
		return err
	}
}
