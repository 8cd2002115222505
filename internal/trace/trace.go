// Package trace records the sites produced by one model evaluation. A Trace
// is scoped to a single run, mutated only by the goroutine executing that
// run, and discarded afterwards; nothing here is shared or retried.
package trace

import (
	"fmt"

	"chaincheck/internal/dist"
	"chaincheck/internal/faults"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
)

// SiteKey identifies a random variable instance structurally by variable
// name and sequence position, instead of encoding the position into a
// formatted string.
type SiteKey struct {
	Var string
	Pos timeindex.Position
}

// Name renders the display form, e.g. "x_3" or "x_span(1,5)". Enumeration
// axes are named with this, so factor inputs read like site names.
func (k SiteKey) Name() string { return k.Var + "_" + k.Pos.String() }

// Site is one recorded random variable instance. Immutable after creation.
type Site struct {
	Key        SiteKey
	Dist       dist.Distribution
	Value      *tensor.Array
	LogProb    *tensor.Array
	Observed   bool
	Enumerated bool
	Replayed   bool
	// Deps is the used-site list threaded through the model call: the
	// sites whose values parameterized this site's distribution.
	Deps []SiteKey
	// Plates names the conditional-independence axes the site sits in.
	Plates []string
}

// PlateDecl records a plate declaration for consistency checking.
type PlateDecl struct {
	Size int
	Dim  int
}

// Trace is the insertion-ordered record of one evaluation.
type Trace struct {
	// Axis, Length and History describe the markov loop that produced the
	// trace; zero values mean no loop ran.
	Axis    string
	Length  int
	History int

	sites    []*Site
	index    map[SiteKey]*Site
	plates   map[string]PlateDecl
	supports map[string]int
	varOrder []string
}

func newTrace() *Trace {
	return &Trace{
		index:    make(map[SiteKey]*Site),
		plates:   make(map[string]PlateDecl),
		supports: make(map[string]int),
	}
}

func (t *Trace) add(s *Site) error {
	if _, ok := t.index[s.Key]; ok {
		return fmt.Errorf("%w: duplicate site %q", faults.ErrConfiguration, s.Key.Name())
	}
	t.index[s.Key] = s
	t.sites = append(t.sites, s)
	if !contains(t.varOrder, s.Key.Var) {
		t.varOrder = append(t.varOrder, s.Key.Var)
	}
	return nil
}

// Sites returns the recorded sites in insertion order.
func (t *Trace) Sites() []*Site { return t.sites }

// Site looks up a site by variable and position.
func (t *Trace) Site(v string, p timeindex.Position) (*Site, bool) {
	s, ok := t.index[SiteKey{Var: v, Pos: p}]
	return s, ok
}

// SiteByKey looks up a site by key.
func (t *Trace) SiteByKey(k SiteKey) (*Site, bool) {
	s, ok := t.index[k]
	return s, ok
}

// Vars returns variable names in order of first appearance.
func (t *Trace) Vars() []string { return append([]string(nil), t.varOrder...) }

// SupportOf reports the enumeration support size recorded for a variable.
func (t *Trace) SupportOf(v string) (int, bool) {
	n, ok := t.supports[v]
	return n, ok
}

// Plates returns the declared plates.
func (t *Trace) Plates() map[string]PlateDecl {
	out := make(map[string]PlateDecl, len(t.plates))
	for k, v := range t.plates {
		out[k] = v
	}
	return out
}

// LatentPlates returns the plate names that contain at least one
// non-observed site. Plates outside this set are leaf plates whose factors
// can be summed out as soon as they are recorded.
func (t *Trace) LatentPlates() map[string]bool {
	out := make(map[string]bool)
	for _, s := range t.sites {
		if s.Observed {
			continue
		}
		for _, p := range s.Plates {
			out[p] = true
		}
	}
	return out
}

// ValueTrace builds a minimal trace holding latent values for the given
// keys, for use as a replay source. Sites carry values only; the replaying
// evaluation rescores them under the model's distributions.
func ValueTrace(vals map[SiteKey]*tensor.Array) *Trace {
	t := newTrace()
	for k, v := range vals {
		// Keys come from a map built over distinct sites, so add cannot fail.
		_ = t.add(&Site{Key: k, Value: v})
	}
	return t
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
