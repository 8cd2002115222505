package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaincheck/internal/rng"
	"chaincheck/internal/trace"
)

func TestCorpusShapes(t *testing.T) {
	corpus := Corpus(rng.NewKey(1))
	require.NotEmpty(t, corpus)

	names := make(map[string]bool)
	for _, m := range corpus {
		assert.False(t, names[m.Name], "duplicate model name %q", m.Name)
		names[m.Name] = true
		assert.NotNil(t, m.Data)
		assert.NotNil(t, m.Run)
		assert.GreaterOrEqual(t, m.History, 0)
		assert.GreaterOrEqual(t, len(m.Vars), 2)
	}
	for _, want := range []string{"hmm-plated", "hmm", "coupled-hmm", "factorial-hmm",
		"nested-hmm", "skip-chain", "time-trans", "crossed-chains", "independent"} {
		assert.True(t, names[want], "missing model %q", want)
	}
}

func TestInitParamsDeterministic(t *testing.T) {
	corpus := Corpus(rng.NewKey(2))
	m := corpus[1] // unplated hmm
	key := rng.NewKey(5)

	p1, err := InitParams(m, key)
	require.NoError(t, err)
	p2, err := InitParams(m, key)
	require.NoError(t, err)
	assert.Equal(t, p1.Names(), p2.Names())
	assert.Equal(t, p1.Flatten(), p2.Flatten())

	p3, err := InitParams(m, rng.NewKey(6))
	require.NoError(t, err)
	assert.NotEqual(t, p1.Flatten(), p3.Flatten())
}

func TestCorpusRunsBothModes(t *testing.T) {
	key := rng.NewKey(3)
	for _, m := range Corpus(key) {
		t.Run(m.Name, func(t *testing.T) {
			params, err := InitParams(m, key)
			require.NoError(t, err)
			for _, vectorized := range []bool{false, true} {
				e := trace.NewEval(key, params, trace.WithEnumeration())
				require.NoError(t, m.Run(e, m.Data, m.History, vectorized))
				tr := e.Finish()
				assert.NotEmpty(t, tr.Sites())
				assert.Equal(t, "time", tr.Axis)
			}
		})
	}
}

func TestCategoryDataInRange(t *testing.T) {
	d := categoryData(rng.NewKey(4), 2, 5, 4)
	for _, v := range d.Data() {
		assert.Contains(t, []float64{0, 1}, v)
	}
}
