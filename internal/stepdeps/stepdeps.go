// Package stepdeps recovers the step structure of a vectorized trace: which
// site instances each latent chain variable contributes across the boundary
// steps and the shifted spans. A correctly vectorized first-order chain of
// length L and history h must expose exactly the instances
// v_0 .. v_{h-1}, v_span(0,L-h), .., v_span(h,L) per latent variable.
package stepdeps

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"

	"chaincheck/internal/faults"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/trace"
)

// Extract collects, for each latent variable in first-appearance order, the
// site instances it participates in: its own recorded sites plus every
// lagged instance referenced as a dependency by any site. Observed variables
// carry no step structure and are skipped.
func Extract(tr *trace.Trace) [][]string {
	latent := make(map[string]bool)
	var order []string
	for _, s := range tr.Sites() {
		if s.Observed || latent[s.Key.Var] {
			continue
		}
		latent[s.Key.Var] = true
		order = append(order, s.Key.Var)
	}

	keys := make(map[string]map[trace.SiteKey]bool)
	add := func(k trace.SiteKey) {
		if !latent[k.Var] {
			return
		}
		if keys[k.Var] == nil {
			keys[k.Var] = make(map[trace.SiteKey]bool)
		}
		keys[k.Var][k] = true
	}
	for _, s := range tr.Sites() {
		if !s.Observed {
			add(s.Key)
		}
		for _, d := range s.Deps {
			add(d)
		}
	}

	out := make([][]string, 0, len(order))
	for _, v := range order {
		ks := make([]trace.SiteKey, 0, len(keys[v]))
		for k := range keys[v] {
			ks = append(ks, k)
		}
		sort.Slice(ks, func(i, j int) bool { return posLess(ks[i].Pos, ks[j].Pos) })
		tuple := make([]string, len(ks))
		for i, k := range ks {
			tuple[i] = k.Name()
		}
		out = append(out, tuple)
	}
	return out
}

// posLess orders boundary steps before spans, steps by time, spans by start.
func posLess(a, b timeindex.Position) bool {
	if a.IsSpan() != b.IsSpan() {
		return !a.IsSpan()
	}
	if !a.IsSpan() {
		return a.Step() < b.Step()
	}
	as, _ := a.Bounds()
	bs, _ := b.Bounds()
	return as < bs
}

// Expected builds the instance tuples a correctly vectorized chain exposes
// for the given latent variables, loop axis, length and history.
func Expected(latentVars []string, axis string, length, history int) [][]string {
	out := make([][]string, 0, len(latentVars))
	for _, v := range latentVars {
		var tuple []string
		for t := 0; t < history; t++ {
			tuple = append(tuple, trace.SiteKey{Var: v, Pos: timeindex.At(t)}.Name())
		}
		for j := 0; j <= history; j++ {
			span := timeindex.Span(axis, j, length-history+j)
			tuple = append(tuple, trace.SiteKey{Var: v, Pos: span}.Name())
		}
		out = append(out, tuple)
	}
	return out
}

// Verify checks a vectorized trace's extracted step structure against the
// expected tuples for its latent variables.
func Verify(tr *trace.Trace) error {
	got := Extract(tr)
	var latent []string
	seen := make(map[string]bool)
	for _, s := range tr.Sites() {
		if s.Observed || seen[s.Key.Var] {
			continue
		}
		seen[s.Key.Var] = true
		latent = append(latent, s.Key.Var)
	}
	want := Expected(latent, tr.Axis, tr.Length, tr.History)
	if d := cmp.Diff(want, got); d != "" {
		return fmt.Errorf("%w: step structure diverges from a correctly vectorized chain:\n%s",
			faults.ErrEquivalence, d)
	}
	return nil
}

// MeasureVars returns the names of the sites whose log-probs contribute to
// the density, i.e. everything not replayed from another trace.
func MeasureVars(tr *trace.Trace) []string {
	var out []string
	for _, s := range tr.Sites() {
		if s.Replayed {
			continue
		}
		out = append(out, s.Key.Name())
	}
	return out
}
