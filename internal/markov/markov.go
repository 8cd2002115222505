// Package markov drives iteration over the positions of a Markov-structured
// model. Sequential mode yields every step; vectorized mode yields the
// boundary steps individually and one batched span covering the rest, which
// model code evaluates once with broadcasting over the sequence axis.
package markov

import (
	"fmt"

	"chaincheck/internal/faults"
	"chaincheck/internal/timeindex"
)

// Positions returns the evaluation order for a sequence of the given length
// under the given history window. In sequential mode that is the steps
// 0..length-1; in vectorized mode it is history boundary steps followed by
// one span [history, length) over axis. Invalid configuration is reported
// immediately, never deferred.
func Positions(axis string, length, history int, vectorized bool) ([]timeindex.Position, error) {
	if history < 0 {
		return nil, fmt.Errorf("%w: history %d must be >= 0", faults.ErrConfiguration, history)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: sequence length %d must be > 0", faults.ErrConfiguration, length)
	}
	if !vectorized {
		out := make([]timeindex.Position, length)
		for t := 0; t < length; t++ {
			out[t] = timeindex.At(t)
		}
		return out, nil
	}
	if length <= history {
		return nil, fmt.Errorf("%w: sequence length %d must exceed history %d for vectorized evaluation",
			faults.ErrConfiguration, length, history)
	}
	out := make([]timeindex.Position, 0, history+1)
	for t := 0; t < history; t++ {
		out = append(out, timeindex.At(t))
	}
	out = append(out, timeindex.Span(axis, history, length))
	return out, nil
}
