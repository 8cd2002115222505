package trace

import (
	"fmt"

	"chaincheck/internal/rng"
	"chaincheck/internal/tensor"
)

// ParamSet is the explicit parameter context threaded through every
// evaluation. There is no ambient global store: each evaluation receives the
// set it should read, and optimizers own their copy.
type ParamSet struct {
	names []string
	vals  map[string]*tensor.Dense
}

// NewParamSet returns an empty parameter set.
func NewParamSet() *ParamSet {
	return &ParamSet{vals: make(map[string]*tensor.Dense)}
}

// Get returns the named parameter.
func (p *ParamSet) Get(name string) (*tensor.Dense, bool) {
	d, ok := p.vals[name]
	return d, ok
}

// Set stores a parameter, keeping first-insertion order for flattening.
func (p *ParamSet) Set(name string, d *tensor.Dense) {
	if _, ok := p.vals[name]; !ok {
		p.names = append(p.names, name)
	}
	p.vals[name] = d
}

// GetOrInit returns the named parameter, creating it with init on first use.
func (p *ParamSet) GetOrInit(name string, key rng.Key, init func(rng.Key) *tensor.Dense) *tensor.Dense {
	if d, ok := p.vals[name]; ok {
		return d
	}
	d := init(key)
	p.Set(name, d)
	return d
}

// Names returns parameter names in insertion order.
func (p *ParamSet) Names() []string { return append([]string(nil), p.names...) }

// Clone deep-copies the set.
func (p *ParamSet) Clone() *ParamSet {
	out := NewParamSet()
	for _, n := range p.names {
		out.Set(n, p.vals[n].Clone())
	}
	return out
}

// NumValues returns the total scalar count across all parameters.
func (p *ParamSet) NumValues() int {
	n := 0
	for _, name := range p.names {
		n += p.vals[name].Size()
	}
	return n
}

// Flatten concatenates all parameter values in insertion order, for
// finite-difference gradients and optimizer steps.
func (p *ParamSet) Flatten() []float64 {
	out := make([]float64, 0, p.NumValues())
	for _, name := range p.names {
		out = append(out, p.vals[name].Data()...)
	}
	return out
}

// SetFlat writes a flat vector back into the parameter tensors.
func (p *ParamSet) SetFlat(x []float64) {
	if len(x) != p.NumValues() {
		panic(fmt.Sprintf("trace: flat vector length %d does not match %d parameter values", len(x), p.NumValues()))
	}
	off := 0
	for _, name := range p.names {
		data := p.vals[name].Data()
		copy(data, x[off:off+len(data)])
		off += len(data)
	}
}
