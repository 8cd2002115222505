package trace

import (
	"fmt"

	"chaincheck/internal/dist"
	"chaincheck/internal/faults"
	"chaincheck/internal/markov"
	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
)

type evalState int

const (
	stateUnstarted evalState = iota
	stateRunning
	stateComplete
)

// Eval is the evaluation context for one model run: the seed key, the
// parameter context, the enumeration/replay configuration, and the trace
// being built. It replaces the usual implicit handler stack with an explicit
// object handed to the model function.
type Eval struct {
	key       rng.Key
	params    *ParamSet
	enumerate bool
	replay    *Trace
	tr        *Trace
	state     evalState
}

// Option configures an Eval.
type Option func(*Eval)

// WithEnumeration enumerates every discrete latent site instead of sampling
// it, the precondition for exact marginalization.
func WithEnumeration() Option {
	return func(e *Eval) { e.enumerate = true }
}

// WithReplay substitutes values recorded in guide for matching latent sites
// instead of drawing or enumerating fresh ones.
func WithReplay(guide *Trace) Option {
	return func(e *Eval) { e.replay = guide }
}

// NewEval builds an evaluation context.
func NewEval(key rng.Key, params *ParamSet, opts ...Option) *Eval {
	e := &Eval{key: key, params: params, tr: newTrace()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Key returns the evaluation's seed key.
func (e *Eval) Key() rng.Key { return e.key }

// Loop validates the markov-loop configuration and returns the positions to
// iterate, sequentially or vectorized. Configuration errors surface here,
// before any site is recorded.
func (e *Eval) Loop(axis string, length, history int, vectorized bool) ([]timeindex.Position, error) {
	ps, err := markov.Positions(axis, length, history, vectorized)
	if err != nil {
		return nil, err
	}
	e.tr.Axis, e.tr.Length, e.tr.History = axis, length, history
	e.state = stateRunning
	return ps, nil
}

// Plate declares a conditional-independence axis. Redeclaring a plate with
// a different size or dim is a DimensionMismatch error.
func (e *Eval) Plate(name string, size, dim int) error {
	if d, ok := e.tr.plates[name]; ok {
		if d.Size != size || d.Dim != dim {
			return fmt.Errorf("%w: plate %q has inconsistent dim or size: (%d,%d) vs (%d,%d)",
				faults.ErrDimensionMismatch, name, d.Size, d.Dim, size, dim)
		}
		return nil
	}
	e.tr.plates[name] = PlateDecl{Size: size, Dim: dim}
	return nil
}

// Param fetches a parameter from the explicit context, initializing it on
// first use with a key derived from the evaluation seed.
func (e *Eval) Param(name string, init func(rng.Key) *tensor.Dense) *tensor.Dense {
	return e.params.GetOrInit(name, e.key.FoldString("param:"+name), init)
}

// Value is a site value together with its provenance, so model code can
// thread the used-site list explicitly.
type Value struct {
	Arr *tensor.Array
	Key SiteKey
}

// Lagged returns the value of variable v at k steps before p. ok is false
// when the reference would cross the sequence start; the model guards that
// case itself (typically by switching to an initial distribution).
//
// At a span position the lagged value is a fresh enumeration placeholder
// named after the shifted span, which is what makes the batched factor's
// inputs line up with the unrolled factors under substitution.
func (e *Eval) Lagged(v string, p timeindex.Position, k int) (*Value, bool) {
	lp, ok := p.Lag(k)
	if !ok {
		return nil, false
	}
	key := SiteKey{Var: v, Pos: lp}
	if !p.IsSpan() {
		s, found := e.tr.SiteByKey(key)
		if !found {
			panic(fmt.Sprintf("trace: lagged reference to unrecorded site %q", key.Name()))
		}
		return &Value{Arr: s.Value, Key: key}, true
	}
	n, found := e.tr.supports[v]
	if !found {
		panic(fmt.Sprintf("trace: lagged reference to %q before any enumerated occurrence of %q", key.Name(), v))
	}
	return &Value{Arr: tensor.RangeArray(key.Name(), n), Key: key}, true
}

type sampleCfg struct {
	obs    *tensor.Array
	deps   []SiteKey
	plates []string
}

// SampleOption configures one Sample call.
type SampleOption func(*sampleCfg)

// Obs marks the site observed at the given value.
func Obs(v *tensor.Array) SampleOption {
	return func(c *sampleCfg) { c.obs = v }
}

// Using records the sites whose values parameterize this site.
func Using(vals ...*Value) SampleOption {
	return func(c *sampleCfg) {
		for _, v := range vals {
			if v != nil {
				c.deps = append(c.deps, v.Key)
			}
		}
	}
}

// InPlates places the site inside the named declared plates.
func InPlates(names ...string) SampleOption {
	return func(c *sampleCfg) { c.plates = append(c.plates, names...) }
}

// Sample records a site for variable v at position p under distribution d
// and returns its value. Depending on the evaluation configuration the
// value is the observation, a replayed value, an enumeration placeholder,
// or a fresh draw keyed by the site name.
func (e *Eval) Sample(v string, p timeindex.Position, d dist.Distribution, opts ...SampleOption) (*Value, error) {
	if e.state == stateComplete {
		return nil, fmt.Errorf("%w: sample %q after evaluation completed", faults.ErrConfiguration, v)
	}
	var cfg sampleCfg
	for _, o := range opts {
		o(&cfg)
	}
	for _, pl := range cfg.plates {
		if _, ok := e.tr.plates[pl]; !ok {
			return nil, fmt.Errorf("%w: site %q placed in undeclared plate %q", faults.ErrConfiguration, v, pl)
		}
	}
	key := SiteKey{Var: v, Pos: p}
	site := &Site{Key: key, Dist: d, Deps: cfg.deps, Plates: cfg.plates}

	switch {
	case cfg.obs != nil:
		site.Observed = true
		site.Value = cfg.obs
	case e.replay != nil:
		if rs, ok := e.replay.SiteByKey(key); ok && !rs.Observed {
			site.Replayed = true
			site.Enumerated = rs.Enumerated
			site.Value = rs.Value
			if n, known := e.replay.supports[v]; known {
				e.tr.supports[v] = n
			}
			break
		}
		fallthrough
	default:
		if n, ok := d.EnumSupport(); ok && e.enumerate {
			site.Enumerated = true
			site.Value = tensor.RangeArray(key.Name(), n)
			e.tr.supports[v] = n
			break
		}
		site.Value = d.Sample(e.key.FoldString("sample:" + key.Name()))
	}

	site.LogProb = d.LogProb(site.Value)
	if err := e.tr.add(site); err != nil {
		return nil, err
	}
	return &Value{Arr: site.Value, Key: key}, nil
}

// Finish seals the evaluation and returns the trace. The caller discards
// the trace if the model run returned an error; partial traces are never
// reused.
func (e *Eval) Finish() *Trace {
	e.state = stateComplete
	return e.tr
}
