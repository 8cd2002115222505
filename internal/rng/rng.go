// Package rng provides explicit, splittable random keys. Every stochastic
// operation takes a key and is a pure function of it; there is no global
// generator, so sequential and vectorized evaluation of the same model with
// the same seed draw identical randomness.
package rng

import (
	"math"

	"golang.org/x/exp/rand"
)

// Key is a value-type random seed. Keys are split, never advanced in place.
type Key uint64

// NewKey derives a key from a caller-chosen seed.
func NewKey(seed uint64) Key { return Key(splitmix(uint64(seed) + 0x9e3779b97f4a7c15)) }

// splitmix is splitmix64, the usual stateless mixer.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Split derives n statistically independent child keys.
func (k Key) Split(n int) []Key {
	out := make([]Key, n)
	for i := range out {
		out[i] = k.Fold(uint64(i) + 1)
	}
	return out
}

// Fold mixes data into the key, producing a derived key. Folding the same
// data always yields the same child.
func (k Key) Fold(data uint64) Key {
	return Key(splitmix(uint64(k) ^ splitmix(data)))
}

// FoldString folds a string label, used to derive per-site keys.
func (k Key) FoldString(s string) Key {
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return k.Fold(h)
}

// Source returns a rand source seeded from the key, for use with gonum's
// distuv distributions.
func (k Key) Source() rand.Source {
	return rand.NewSource(uint64(k))
}

// Uniform returns a deterministic draw in [0, 1).
func (k Key) Uniform() float64 {
	return float64(splitmix(uint64(k))>>11) / float64(uint64(1)<<53)
}

// Normal returns a deterministic standard normal draw (Box-Muller on two
// folded uniforms).
func (k Key) Normal() float64 {
	u1 := k.Fold(101).Uniform()
	u2 := k.Fold(202).Uniform()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
