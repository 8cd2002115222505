package model

import (
	"chaincheck/internal/dist"
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/trace"
)

// Support sizes shared across the corpus, matching the shapes the original
// chain models were exercised with.
const (
	WDim = 2
	XDim = 3
	YDim = 2
)

func unplatedDims() []string { return []string{"time", "tones"} }

// GaussianHMM builds a hidden Markov chain with Normal emissions:
//
//	x[t-1] --> x[t]
//	   |         |
//	   v         v
//	y[t-1]     y[t]
//
// With plated=true the chain is additionally wrapped in a "sequences" plate
// carrying independent parallel chains.
func GaussianHMM(name string, xDim int, data *tensor.Dense, plated bool) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		init := e.Param("init", uniformTable(xDim))
		trans := e.Param("trans", uniformTable(xDim, xDim))
		locs := e.Param("locs", uniformTable(xDim))

		shape := data.Shape()
		dims := unplatedDims()
		timeAxis := 0
		xPlates := []string{}
		yPlates := []string{"tones"}
		if plated {
			dims = []string{"sequences", "time", "tones"}
			timeAxis = 1
			if err := e.Plate("sequences", shape[0], -3); err != nil {
				return err
			}
			xPlates = append(xPlates, "sequences")
			yPlates = append(yPlates, "sequences")
		}
		if err := e.Plate("tones", shape[len(shape)-1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[timeAxis], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			var probs *tensor.Array
			var used []*trace.Value
			if prev, ok := e.Lagged("x", p, 1); ok {
				probs = tensor.Take(trans, []string{dist.CatAxis}, prev.Arr)
				used = append(used, prev)
			} else {
				probs = tensor.FromDense(init, dist.CatAxis)
			}
			x, err := e.Sample("x", p, dist.NewCategorical(probs),
				trace.Using(used...), trace.InPlates(xPlates...))
			if err != nil {
				return err
			}
			loc := tensor.Take(locs, nil, x.Arr)
			obs := timeindex.SelectData(data, dims, timeAxis, p)
			if _, err := e.Sample("y", p, dist.NewNormal(loc, tensor.Scalar(1)),
				trace.Obs(obs), trace.Using(x), trace.InPlates(yPlates...)); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: name, Vars: "xy", History: 1, Data: data, Run: run}
}

// coupledHMM chains both the latent and the observed variable:
// y[t] depends on x[t] and on the previous observation y[t-1].
func coupledHMM(data *tensor.Dense) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		xInit := e.Param("x_init", uniformTable(XDim))
		xTrans := e.Param("x_trans", uniformTable(XDim, XDim))
		yInit := e.Param("y_init", uniformTable(XDim, YDim))
		yTrans := e.Param("y_trans", uniformTable(XDim, YDim, YDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			var probs *tensor.Array
			var used []*trace.Value
			if prev, ok := e.Lagged("x", p, 1); ok {
				probs = tensor.Take(xTrans, []string{dist.CatAxis}, prev.Arr)
				used = append(used, prev)
			} else {
				probs = tensor.FromDense(xInit, dist.CatAxis)
			}
			x, err := e.Sample("x", p, dist.NewCategorical(probs),
				trace.Using(used...))
			if err != nil {
				return err
			}
			var yProbs *tensor.Array
			if lagPos, ok := p.Lag(1); ok {
				yPrev := timeindex.SelectData(data, unplatedDims(), 0, lagPos)
				yProbs = tensor.Take(yTrans, []string{dist.CatAxis}, x.Arr, yPrev)
			} else {
				yProbs = tensor.Take(yInit, []string{dist.CatAxis}, x.Arr)
			}
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			if _, err := e.Sample("y", p, dist.NewCategorical(yProbs),
				trace.Obs(obs), trace.Using(x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "coupled-hmm", Vars: "xy", History: 1, Data: data, Run: run}
}

// factorialHMM runs two independent latent chains w and x with a joint
// emission y[t] ~ Categorical(yProbs[w[t], x[t]]).
func factorialHMM(data *tensor.Dense) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		wInit := e.Param("w_init", uniformTable(WDim))
		wTrans := e.Param("w_trans", uniformTable(WDim, WDim))
		xInit := e.Param("x_init", uniformTable(XDim))
		xTrans := e.Param("x_trans", uniformTable(XDim, XDim))
		yProbs := e.Param("y_probs", uniformTable(WDim, XDim, YDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			w, err := chainStep(e, "w", p, wInit, wTrans, nil)
			if err != nil {
				return err
			}
			x, err := chainStep(e, "x", p, xInit, xTrans, nil)
			if err != nil {
				return err
			}
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			probs := tensor.Take(yProbs, []string{dist.CatAxis}, w.Arr, x.Arr)
			if _, err := e.Sample("y", p, dist.NewCategorical(probs),
				trace.Obs(obs), trace.Using(w, x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "factorial-hmm", Vars: "wxy", History: 1, Data: data, Run: run}
}

// nestedHMM couples the chains: x's transition is selected by the current w.
func nestedHMM(data *tensor.Dense) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		wInit := e.Param("w_init", uniformTable(WDim))
		wTrans := e.Param("w_trans", uniformTable(WDim, WDim))
		xInit := e.Param("x_init", uniformTable(WDim, XDim))
		xTrans := e.Param("x_trans", uniformTable(WDim, XDim, XDim))
		yProbs := e.Param("y_probs", uniformTable(WDim, XDim, YDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			w, err := chainStep(e, "w", p, wInit, wTrans, nil)
			if err != nil {
				return err
			}
			var probs *tensor.Array
			used := []*trace.Value{w}
			if prev, ok := e.Lagged("x", p, 1); ok {
				probs = tensor.Take(xTrans, []string{dist.CatAxis}, w.Arr, prev.Arr)
				used = append(used, prev)
			} else {
				probs = tensor.Take(xInit, []string{dist.CatAxis}, w.Arr)
			}
			x, err := e.Sample("x", p, dist.NewCategorical(probs), trace.Using(used...))
			if err != nil {
				return err
			}
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			yp := tensor.Take(yProbs, []string{dist.CatAxis}, w.Arr, x.Arr)
			if _, err := e.Sample("y", p, dist.NewCategorical(yp),
				trace.Obs(obs), trace.Using(w, x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "nested-hmm", Vars: "wxy", History: 1, Data: data, Run: run}
}

// skipChain is a second-order chain: x[t] depends on x[t-1] and x[t-2].
func skipChain(data *tensor.Dense) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		xInit := e.Param("x_init", uniformTable(XDim))
		xInit2 := e.Param("x_init_2", uniformTable(XDim, XDim))
		xTrans := e.Param("x_trans", uniformTable(XDim, XDim, XDim))
		yProbs := e.Param("y_probs", uniformTable(XDim, YDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			var probs *tensor.Array
			var used []*trace.Value
			prev1, ok1 := e.Lagged("x", p, 1)
			if !ok1 {
				probs = tensor.FromDense(xInit, dist.CatAxis)
			} else if prev2, ok2 := e.Lagged("x", p, 2); !ok2 {
				probs = tensor.Take(xInit2, []string{dist.CatAxis}, prev1.Arr)
				used = append(used, prev1)
			} else {
				probs = tensor.Take(xTrans, []string{dist.CatAxis}, prev2.Arr, prev1.Arr)
				used = append(used, prev1, prev2)
			}
			x, err := e.Sample("x", p, dist.NewCategorical(probs), trace.Using(used...))
			if err != nil {
				return err
			}
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			yp := tensor.Take(yProbs, []string{dist.CatAxis}, x.Arr)
			if _, err := e.Sample("y", p, dist.NewCategorical(yp),
				trace.Obs(obs), trace.Using(x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "skip-chain", Vars: "xy", History: 2, Data: data, Run: run}
}

// timeTrans uses a position-indexed transition table, the case most exposed
// to gather off-by-one mistakes: batched evaluation must materialize
// exactly the rows t-1 that per-step evaluation reads.
func timeTrans(data *tensor.Dense) Model {
	length := data.Shape()[0]
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		xInit := e.Param("x_init", uniformTable(XDim))
		xTrans := e.Param("x_trans", uniformTable(length-1, XDim, XDim))
		locs := e.Param("locs", uniformTable(XDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			var probs *tensor.Array
			var used []*trace.Value
			if prev, ok := e.Lagged("x", p, 1); ok {
				lagPos, _ := p.Lag(1)
				probs = tensor.Take(xTrans, []string{dist.CatAxis}, lagPos.Indices(), prev.Arr)
				used = append(used, prev)
			} else {
				probs = tensor.FromDense(xInit, dist.CatAxis)
			}
			x, err := e.Sample("x", p, dist.NewCategorical(probs), trace.Using(used...))
			if err != nil {
				return err
			}
			loc := tensor.Take(locs, nil, x.Arr)
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			if _, err := e.Sample("y", p, dist.NewNormal(loc, tensor.Scalar(1)),
				trace.Obs(obs), trace.Using(x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "time-trans", Vars: "xy", History: 1, Data: data, Run: run}
}

// crossedChains swaps the couplings: w[t] depends on x[t-1] and x[t]
// depends on w[t-1].
func crossedChains(data *tensor.Dense) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		wInit := e.Param("w_init", uniformTable(WDim))
		wTrans := e.Param("w_trans", uniformTable(XDim, WDim))
		xInit := e.Param("x_init", uniformTable(XDim))
		xTrans := e.Param("x_trans", uniformTable(WDim, XDim))
		yProbs := e.Param("y_probs", uniformTable(WDim, XDim, YDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			var wProbs *tensor.Array
			var wUsed []*trace.Value
			if xPrev, ok := e.Lagged("x", p, 1); ok {
				wProbs = tensor.Take(wTrans, []string{dist.CatAxis}, xPrev.Arr)
				wUsed = append(wUsed, xPrev)
			} else {
				wProbs = tensor.FromDense(wInit, dist.CatAxis)
			}
			w, err := e.Sample("w", p, dist.NewCategorical(wProbs), trace.Using(wUsed...))
			if err != nil {
				return err
			}
			var xProbs *tensor.Array
			var xUsed []*trace.Value
			if wPrev, ok := e.Lagged("w", p, 1); ok {
				xProbs = tensor.Take(xTrans, []string{dist.CatAxis}, wPrev.Arr)
				xUsed = append(xUsed, wPrev)
			} else {
				xProbs = tensor.FromDense(xInit, dist.CatAxis)
			}
			x, err := e.Sample("x", p, dist.NewCategorical(xProbs), trace.Using(xUsed...))
			if err != nil {
				return err
			}
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			yp := tensor.Take(yProbs, []string{dist.CatAxis}, w.Arr, x.Arr)
			if _, err := e.Sample("y", p, dist.NewCategorical(yp),
				trace.Obs(obs), trace.Using(w, x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "crossed-chains", Vars: "wxy", History: 1, Data: data, Run: run}
}

// independent has no chain structure at all: history 0, one latent and one
// emission per position. The degenerate case the drivers must still agree on.
func independent(data *tensor.Dense) Model {
	run := func(e *trace.Eval, data *tensor.Dense, history int, vectorized bool) error {
		init := e.Param("init", uniformTable(XDim))
		locs := e.Param("locs", uniformTable(XDim))

		shape := data.Shape()
		if err := e.Plate("tones", shape[1], -1); err != nil {
			return err
		}
		positions, err := e.Loop("time", shape[0], history, vectorized)
		if err != nil {
			return err
		}
		for _, p := range positions {
			x, err := e.Sample("x", p, dist.NewCategorical(tensor.FromDense(init, dist.CatAxis)))
			if err != nil {
				return err
			}
			loc := tensor.Take(locs, nil, x.Arr)
			obs := timeindex.SelectData(data, unplatedDims(), 0, p)
			if _, err := e.Sample("y", p, dist.NewNormal(loc, tensor.Scalar(1)),
				trace.Obs(obs), trace.Using(x), trace.InPlates("tones")); err != nil {
				return err
			}
		}
		return nil
	}
	return Model{Name: "independent", Vars: "xy", History: 0, Data: data, Run: run}
}

// chainStep samples one step of a first-order chain with an unconditional
// init table and a square transition table.
func chainStep(e *trace.Eval, v string, p timeindex.Position, init, trans *tensor.Dense, plates []string) (*trace.Value, error) {
	var probs *tensor.Array
	var used []*trace.Value
	if prev, ok := e.Lagged(v, p, 1); ok {
		probs = tensor.Take(trans, []string{dist.CatAxis}, prev.Arr)
		used = append(used, prev)
	} else {
		probs = tensor.FromDense(init, dist.CatAxis)
	}
	return e.Sample(v, p, dist.NewCategorical(probs), trace.Using(used...), trace.InPlates(plates...))
}

// Corpus returns the standard model set with deterministic data derived
// from key.
func Corpus(key rng.Key) []Model {
	steps := 5
	return []Model{
		GaussianHMM("hmm-plated", XDim, uniformData(key.Fold(1), 3, steps, 4), true),
		GaussianHMM("hmm", XDim, uniformData(key.Fold(2), steps, 4), false),
		coupledHMM(categoryData(key.Fold(3), YDim, steps, 4)),
		factorialHMM(categoryData(key.Fold(4), YDim, steps, 4)),
		nestedHMM(categoryData(key.Fold(5), YDim, steps, 4)),
		skipChain(categoryData(key.Fold(6), YDim, steps, 4)),
		timeTrans(uniformData(key.Fold(7), steps, 4)),
		crossedChains(categoryData(key.Fold(8), YDim, steps, 4)),
		independent(uniformData(key.Fold(9), steps, 4)),
	}
}

// LongCorpus returns the 20-step variants used to catch length-dependent
// indexing mistakes.
func LongCorpus(key rng.Key) []Model {
	steps := 20
	return []Model{
		timeTrans(uniformData(key.Fold(10), steps, 4)),
		crossedChains(categoryData(key.Fold(11), YDim, steps, 4)),
	}
}
