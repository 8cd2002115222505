// Package enum marginalizes enumerated discrete latents out of a recorded
// trace. Factors are named-axis log-prob arrays; enumeration axes carry site
// names, so variable elimination is axis bookkeeping rather than index
// arithmetic. The same elimination runs over sequential and vectorized
// traces: batched factors are sliced back to per-step factors first.
package enum

import (
	"fmt"

	"chaincheck/internal/faults"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/trace"
)

// SliceFactor extracts step t's factor from a recorded site. For a site at a
// scalar position this is its log-prob unchanged. For a batched site the
// sequence axis is fixed at the span offset of t and every span-named
// enumeration axis is renamed to the step-named axis it stands for, so the
// result is directly comparable to (and combinable with) per-step factors.
func SliceFactor(tr *trace.Trace, s *trace.Site, t int) *tensor.Array {
	f := s.LogProb
	p := s.Key.Pos
	if !p.IsSpan() {
		if p.Step() != t {
			panic(fmt.Sprintf("enum: slicing step %d from site %q", t, s.Key.Name()))
		}
		return f
	}
	start, stop := p.Bounds()
	if t < start || t >= stop {
		panic(fmt.Sprintf("enum: step %d outside span %q", t, s.Key.Name()))
	}
	if f.HasDim(tr.Axis) {
		f = f.Select(tr.Axis, t-start)
	}
	for _, v := range tr.Vars() {
		for j := 0; j <= tr.History; j++ {
			if start-j < 0 {
				continue
			}
			spanName := trace.SiteKey{Var: v, Pos: timeindex.Span(tr.Axis, start-j, stop-j)}.Name()
			if f.HasDim(spanName) {
				stepName := trace.SiteKey{Var: v, Pos: timeindex.At(t - j)}.Name()
				f = f.Rename(spanName, stepName)
			}
		}
	}
	return f
}

// factorsAt collects the per-step factors contributing at step t.
func factorsAt(tr *trace.Trace, t int) []*tensor.Array {
	var out []*tensor.Array
	for _, s := range tr.Sites() {
		p := s.Key.Pos
		if !p.IsSpan() {
			if p.Step() == t {
				out = append(out, SliceFactor(tr, s, t))
			}
			continue
		}
		if start, stop := p.Bounds(); t >= start && t < stop {
			out = append(out, SliceFactor(tr, s, t))
		}
	}
	return out
}

// enumDimsByStep maps each step to the enumeration axes introduced there.
// A batched enumerated site introduces one step-named axis per span element.
func enumDimsByStep(tr *trace.Trace) map[int][]string {
	out := make(map[int][]string)
	for _, s := range tr.Sites() {
		if !s.Enumerated {
			continue
		}
		p := s.Key.Pos
		if !p.IsSpan() {
			out[p.Step()] = append(out[p.Step()], s.Key.Name())
			continue
		}
		start, stop := p.Bounds()
		for t := start; t < stop; t++ {
			name := trace.SiteKey{Var: s.Key.Var, Pos: timeindex.At(t)}.Name()
			out[t] = append(out[t], name)
		}
	}
	return out
}

// LogMarginal computes the exact log marginal likelihood of a trace whose
// latent sites are enumerated: the log of the sum, over all joint
// assignments of the enumerated latents, of the joint probability.
//
// Elimination runs forward over the sequence: axes introduced at step t can
// only be referenced through step t+history, so they are summed out of the
// running factor as soon as that step has been absorbed. Leaf plates (plates
// holding only observed sites) are summed per factor on entry; latent plates
// survive to the end and are plain-summed last, after every enumeration axis
// is gone.
func LogMarginal(tr *trace.Trace) (float64, error) {
	for _, s := range tr.Sites() {
		if !s.Observed && !s.Enumerated && !s.Replayed {
			return 0, fmt.Errorf("%w: latent site %q was sampled, not enumerated; exact marginalization needs enumerable discrete latents",
				faults.ErrUnsupportedModel, s.Key.Name())
		}
	}
	plates := tr.Plates()
	latent := tr.LatentPlates()
	run := tensor.Scalar(0)
	absorb := func(f *tensor.Array) {
		for _, d := range f.Dims() {
			if _, isPlate := plates[d]; isPlate && !latent[d] {
				f = f.SumDim(d)
			}
		}
		run = tensor.Add(run, f)
	}

	if tr.Length == 0 {
		for _, s := range tr.Sites() {
			absorb(s.LogProb)
		}
	} else {
		introduced := enumDimsByStep(tr)
		for t := 0; t < tr.Length; t++ {
			for _, f := range factorsAt(tr, t) {
				absorb(f)
			}
			if done := t - tr.History; done >= 0 {
				for _, d := range introduced[done] {
					if run.HasDim(d) {
						run = run.LogSumExp(d)
					}
				}
			}
		}
	}

	// Trailing window, plus any enumeration axes of a loop-free trace.
	for _, d := range run.Dims() {
		if _, isPlate := plates[d]; !isPlate {
			run = run.LogSumExp(d)
		}
	}
	for _, d := range run.Dims() {
		run = run.SumDim(d)
	}
	return run.Item(), nil
}

// LogJoint computes the log density of a trace at its recorded values, with
// plate axes plain-summed. Enumerated placeholders have no single recorded
// value, so they are rejected.
func LogJoint(tr *trace.Trace) (float64, error) {
	total := tensor.Scalar(0)
	for _, s := range tr.Sites() {
		if s.Enumerated {
			return 0, fmt.Errorf("%w: site %q is an enumeration placeholder; joint density is undefined",
				faults.ErrUnsupportedModel, s.Key.Name())
		}
		f := s.LogProb
		for _, d := range f.Dims() {
			f = f.SumDim(d)
		}
		total = tensor.Add(total, f)
	}
	return total.Item(), nil
}
