// Package equiv checks that sequential and vectorized evaluation of a model
// are interchangeable: same trace structure, matching factors under span
// substitution, and matching marginal loss and parameter gradients.
package equiv

import (
	"fmt"
	"math"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"chaincheck/internal/enum"
	"chaincheck/internal/faults"
	"chaincheck/internal/model"
	"chaincheck/internal/rng"
	"chaincheck/internal/stepdeps"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/trace"
)

// Tolerance bounds the acceptable divergence between the two evaluation
// modes. Factors are computed by the same floating-point operations in a
// different order, so the factor bound is tight; loss and gradient bounds
// absorb finite-difference noise.
type Tolerance struct {
	FactorAbs float64
	LossAbs   float64
	GradAbs   float64
}

// DefaultTolerance matches the bounds the corpus is validated against.
func DefaultTolerance() Tolerance {
	return Tolerance{FactorAbs: 1e-9, LossAbs: 1e-4, GradAbs: 1e-4}
}

// Run evaluates a model under one driver mode with enumeration and returns
// the sealed trace.
func Run(m model.Model, key rng.Key, params *trace.ParamSet, history int, vectorized bool) (*trace.Trace, error) {
	e := trace.NewEval(key, params, trace.WithEnumeration())
	if err := m.Run(e, m.Data, history, vectorized); err != nil {
		return nil, err
	}
	return e.Finish(), nil
}

// CompareTraces checks a sequential trace against a vectorized trace of the
// same model run: identical variable sets and loop shape, and for every
// step, per-step factors equal to the corresponding slice of the batched
// factor within tol.FactorAbs.
func CompareTraces(seq, vec *trace.Trace, tol Tolerance) error {
	if seq.Length != vec.Length || seq.History != vec.History || seq.Axis != vec.Axis {
		return fmt.Errorf("%w: loop shape differs: (%s,%d,%d) vs (%s,%d,%d)",
			faults.ErrEquivalence, seq.Axis, seq.Length, seq.History, vec.Axis, vec.Length, vec.History)
	}
	if d := cmp.Diff(seq.Vars(), vec.Vars()); d != "" {
		return fmt.Errorf("%w: variable order differs:\n%s", faults.ErrEquivalence, d)
	}
	for _, ss := range seq.Sites() {
		t := ss.Key.Pos.Step()
		vs, ok := vec.SiteByKey(ss.Key)
		if !ok {
			// Interior step: covered by the batched site for the same var.
			span := timeindex.Span(vec.Axis, vec.History, vec.Length)
			vs, ok = vec.Site(ss.Key.Var, span)
			if !ok {
				return fmt.Errorf("%w: site %q has no vectorized counterpart", faults.ErrEquivalence, ss.Key.Name())
			}
		}
		want := enum.SliceFactor(seq, ss, t)
		got := enum.SliceFactor(vec, vs, t)
		if err := compareFactor(ss.Key.Name(), t, want, got, tol.FactorAbs); err != nil {
			return err
		}
	}
	return nil
}

func compareFactor(name string, t int, want, got *tensor.Array, atol float64) error {
	wd, gd := want.Dims(), got.Dims()
	if !sameDimSet(wd, gd) {
		return fmt.Errorf("%w: factor for %q at step %d has axes %v sequentially but %v vectorized",
			faults.ErrEquivalence, name, t, wd, gd)
	}
	aligned := got.AlignTo(wd)
	if len(want.Data()) == 0 {
		return nil
	}
	if dist := floats.Distance(want.Data(), aligned.Data(), math.Inf(1)); dist > atol {
		d := cmp.Diff(want.Data(), aligned.Data(), cmpopts.EquateApprox(0, atol))
		return fmt.Errorf("%w: factor for %q at step %d diverges by %g (> %g):\n%s",
			faults.ErrEquivalence, name, t, dist, atol, d)
	}
	return nil
}

func sameDimSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, d := range a {
		set[d] = true
	}
	for _, d := range b {
		if !set[d] {
			return false
		}
	}
	return true
}

// lossFn returns the negative log marginal likelihood as a function of the
// flattened parameter vector, for one driver mode. Evaluation failures
// surface as NaN, which no tolerance accepts.
func lossFn(m model.Model, key rng.Key, base *trace.ParamSet, history int, vectorized bool) func(x []float64) float64 {
	return func(x []float64) float64 {
		p := base.Clone()
		p.SetFlat(x)
		tr, err := Run(m, key, p, history, vectorized)
		if err != nil {
			return math.NaN()
		}
		lm, err := enum.LogMarginal(tr)
		if err != nil {
			return math.NaN()
		}
		return -lm
	}
}

// LossReport carries the numbers behind a loss comparison.
type LossReport struct {
	SeqLoss     float64
	VecLoss     float64
	MaxGradDiff float64
}

// CompareLoss checks that both modes produce the same negative log marginal
// likelihood and the same gradient with respect to every parameter, within
// tol. Gradients are central finite differences over the flattened
// parameter set.
func CompareLoss(m model.Model, key rng.Key, params *trace.ParamSet, history int, tol Tolerance) (*LossReport, error) {
	x := params.Flatten()
	seqF := lossFn(m, key, params, history, false)
	vecF := lossFn(m, key, params, history, true)

	seqLoss, vecLoss := seqF(x), vecF(x)
	rep := &LossReport{SeqLoss: seqLoss, VecLoss: vecLoss}
	if math.IsNaN(seqLoss) || math.IsNaN(vecLoss) {
		return rep, fmt.Errorf("%w: loss evaluation failed (sequential=%v vectorized=%v)",
			faults.ErrEquivalence, seqLoss, vecLoss)
	}
	if diff := math.Abs(seqLoss - vecLoss); diff > tol.LossAbs {
		return rep, fmt.Errorf("%w: loss differs by %g (> %g): sequential %g vs vectorized %g",
			faults.ErrEquivalence, diff, tol.LossAbs, seqLoss, vecLoss)
	}

	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	seqGrad := fd.Gradient(nil, seqF, x, settings)
	vecGrad := fd.Gradient(nil, vecF, x, settings)
	rep.MaxGradDiff = floats.Distance(seqGrad, vecGrad, math.Inf(1))
	if rep.MaxGradDiff > tol.GradAbs {
		d := cmp.Diff(seqGrad, vecGrad, cmpopts.EquateApprox(0, tol.GradAbs))
		return rep, fmt.Errorf("%w: gradient differs by %g (> %g):\n%s",
			faults.ErrEquivalence, rep.MaxGradDiff, tol.GradAbs, d)
	}
	return rep, nil
}

// Result summarizes one full model check.
type Result struct {
	Model   string
	History int
	LossReport
}

// CheckModel runs the complete equivalence check for one model at its
// declared history: trace comparison, then loss and gradient comparison.
func CheckModel(m model.Model, seed uint64, tol Tolerance) (*Result, error) {
	key := rng.NewKey(seed)
	params, err := model.InitParams(m, key)
	if err != nil {
		return nil, fmt.Errorf("init params for %s: %w", m.Name, err)
	}
	seq, err := Run(m, key, params, m.History, false)
	if err != nil {
		return nil, fmt.Errorf("sequential run of %s: %w", m.Name, err)
	}
	vec, err := Run(m, key, params, m.History, true)
	if err != nil {
		return nil, fmt.Errorf("vectorized run of %s: %w", m.Name, err)
	}
	res := &Result{Model: m.Name, History: m.History}
	if err := CompareTraces(seq, vec, tol); err != nil {
		return res, fmt.Errorf("%s: %w", m.Name, err)
	}
	if err := stepdeps.Verify(vec); err != nil {
		return res, fmt.Errorf("%s: %w", m.Name, err)
	}
	rep, err := CompareLoss(m, key, params, m.History, tol)
	if rep != nil {
		res.LossReport = *rep
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", m.Name, err)
	}
	return res, nil
}
