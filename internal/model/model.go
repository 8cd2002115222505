// Package model holds the corpus of Markov-structured test models the
// equivalence harness runs. Every model evaluates under both the sequential
// and the vectorized driver from the same code path; the vectorized flag
// only selects the loop shape.
package model

import (
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/trace"
)

// Fn is a plain (non-markov) model function, used by guides and simple
// inference tests.
type Fn func(e *trace.Eval, data *tensor.Dense) error

// Model is one corpus entry.
type Model struct {
	Name string
	// Vars is the declared variable order. By convention the final entry
	// is the observed emission variable; every preceding entry is a latent
	// chain variable eligible for step-dependency extraction.
	Vars string
	// History is the model's Markov order.
	History int
	// Data is the default observation tensor.
	Data *tensor.Dense
	// Run evaluates the model against data under the given loop shape.
	Run func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error
}

// InitParams runs the model once sequentially to materialize its parameter
// set, then discards the trace.
func InitParams(m Model, key rng.Key) (*trace.ParamSet, error) {
	params := trace.NewParamSet()
	e := trace.NewEval(key, params, trace.WithEnumeration())
	if err := m.Run(e, m.Data, m.History, false); err != nil {
		return nil, err
	}
	e.Finish()
	return params, nil
}

// uniformTable initializes a parameter tensor with values in (0.1, 0.9),
// keyed deterministically so repeated evaluations see identical parameters.
func uniformTable(shape ...int) func(rng.Key) *tensor.Dense {
	return func(k rng.Key) *tensor.Dense {
		d := tensor.NewDense(shape...)
		for i := range d.Data() {
			d.Data()[i] = 0.1 + 0.8*k.Fold(uint64(i)).Uniform()
		}
		return d
	}
}

// uniformData builds a deterministic observation tensor with values in (0,1).
func uniformData(key rng.Key, shape ...int) *tensor.Dense {
	d := tensor.NewDense(shape...)
	for i := range d.Data() {
		d.Data()[i] = key.Fold(uint64(i)).Uniform()
	}
	return d
}

// categoryData builds a deterministic integer-valued observation tensor
// with categories in [0, ncat).
func categoryData(key rng.Key, ncat int, shape ...int) *tensor.Dense {
	d := tensor.NewDense(shape...)
	for i := range d.Data() {
		d.Data()[i] = float64(int(key.Fold(uint64(i)).Uniform() * float64(ncat)))
	}
	return d
}
