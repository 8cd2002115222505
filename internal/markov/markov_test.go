package markov

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaincheck/internal/faults"
	"chaincheck/internal/timeindex"
)

func TestSequentialPositions(t *testing.T) {
	ps, err := Positions("time", 4, 1, false)
	require.NoError(t, err)
	require.Len(t, ps, 4)
	for i, p := range ps {
		assert.False(t, p.IsSpan())
		assert.Equal(t, i, p.Step())
	}
}

func TestVectorizedPositions(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		history  int
		boundary int
	}{
		{"first order", 5, 1, 1},
		{"second order", 5, 2, 2},
		{"no history", 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := Positions("time", tt.length, tt.history, true)
			require.NoError(t, err)
			require.Len(t, ps, tt.boundary+1)
			for i := 0; i < tt.boundary; i++ {
				assert.Equal(t, i, ps[i].Step())
			}
			span := ps[len(ps)-1]
			require.True(t, span.IsSpan())
			start, stop := span.Bounds()
			assert.Equal(t, tt.history, start)
			assert.Equal(t, tt.length, stop)
			assert.Equal(t, "time", span.Axis())
		})
	}
}

func TestPositionErrors(t *testing.T) {
	_, err := Positions("time", 5, -1, false)
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	_, err = Positions("time", 0, 1, false)
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	// Vectorized evaluation needs at least one batched step.
	_, err = Positions("time", 2, 2, true)
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	// Sequential evaluation has no such constraint.
	ps, err := Positions("time", 2, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []timeindex.Position{timeindex.At(0), timeindex.At(1)}, ps)
}
