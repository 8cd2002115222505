package equiv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaincheck/internal/enum"
	"chaincheck/internal/faults"
	"chaincheck/internal/model"
	"chaincheck/internal/rng"
	"chaincheck/internal/trace"
)

const testSeed = 20240817

// TestCorpusEquivalence is the main property of the whole package: every
// corpus model evaluates identically under the sequential and vectorized
// drivers.
func TestCorpusEquivalence(t *testing.T) {
	for _, m := range model.Corpus(rng.NewKey(testSeed)) {
		t.Run(m.Name, func(t *testing.T) {
			res, err := CheckModel(m, testSeed, DefaultTolerance())
			require.NoError(t, err)
			assert.Equal(t, m.Name, res.Model)
			assert.InDelta(t, res.SeqLoss, res.VecLoss, DefaultTolerance().LossAbs)
			assert.LessOrEqual(t, res.MaxGradDiff, DefaultTolerance().GradAbs)
		})
	}
}

func TestLongCorpusEquivalence(t *testing.T) {
	if testing.Short() {
		t.Skip("long sequences are slow under finite differences")
	}
	for _, m := range model.LongCorpus(rng.NewKey(testSeed)) {
		t.Run(m.Name, func(t *testing.T) {
			_, err := CheckModel(m, testSeed, DefaultTolerance())
			require.NoError(t, err)
		})
	}
}

func TestSeedIdempotence(t *testing.T) {
	m := corpusModel(t, "hmm")
	key := rng.NewKey(testSeed)
	params, err := model.InitParams(m, key)
	require.NoError(t, err)

	run := func() []float64 {
		tr, err := Run(m, key, params.Clone(), m.History, true)
		require.NoError(t, err)
		lm, err := enum.LogMarginal(tr)
		require.NoError(t, err)
		return []float64{lm}
	}
	// Bit-identical, not merely close.
	assert.Equal(t, run(), run())
}

func TestCompareTracesDetectsDivergence(t *testing.T) {
	m := corpusModel(t, "hmm")
	key := rng.NewKey(testSeed)
	params, err := model.InitParams(m, key)
	require.NoError(t, err)

	seq, err := Run(m, key, params, m.History, false)
	require.NoError(t, err)

	// A vectorized run under perturbed parameters must be flagged.
	bad := params.Clone()
	flat := bad.Flatten()
	flat[0] += 0.05
	bad.SetFlat(flat)
	vec, err := Run(m, key, bad, m.History, true)
	require.NoError(t, err)

	err = CompareTraces(seq, vec, DefaultTolerance())
	assert.ErrorIs(t, err, faults.ErrEquivalence)
}

// A first-order chain may run under a wider history window; the drivers
// must still agree, for every order-1 model in the corpus.
func TestCompareTracesAcceptsWiderHistory(t *testing.T) {
	key := rng.NewKey(testSeed)
	for _, m := range model.Corpus(key) {
		if m.History != 1 {
			continue
		}
		t.Run(m.Name, func(t *testing.T) {
			for _, history := range []int{1, 2} {
				params, err := model.InitParams(m, key)
				require.NoError(t, err)

				seq, err := Run(m, key, params, history, false)
				require.NoError(t, err)
				vec, err := Run(m, key, params, history, true)
				require.NoError(t, err)
				assert.NoError(t, CompareTraces(seq, vec, DefaultTolerance()), "history=%d", history)
			}
		})
	}
}

// Replaying a recorded vectorized trace through a fresh evaluation leaves
// the factors intact: the replayed run still matches the sequential one.
func TestCompareTracesWithReplayedTrace(t *testing.T) {
	m := corpusModel(t, "hmm")
	key := rng.NewKey(testSeed)
	params, err := model.InitParams(m, key)
	require.NoError(t, err)

	seq, err := Run(m, key, params, m.History, false)
	require.NoError(t, err)
	vec, err := Run(m, key, params, m.History, true)
	require.NoError(t, err)

	e := trace.NewEval(key, params, trace.WithEnumeration(), trace.WithReplay(vec))
	require.NoError(t, m.Run(e, m.Data, m.History, true))
	replayed := e.Finish()

	assert.NoError(t, CompareTraces(seq, replayed, DefaultTolerance()))
	for _, s := range replayed.Sites() {
		if !s.Observed {
			assert.True(t, s.Replayed, "site %s", s.Key.Name())
		}
	}
}

func TestCompareLossDetectsLossGap(t *testing.T) {
	m := corpusModel(t, "hmm")
	key := rng.NewKey(testSeed)
	params, err := model.InitParams(m, key)
	require.NoError(t, err)

	tight := Tolerance{FactorAbs: 0, LossAbs: -1, GradAbs: 1}
	_, err = CompareLoss(m, key, params, m.History, tight)
	assert.ErrorIs(t, err, faults.ErrEquivalence)
}

func corpusModel(t *testing.T, name string) model.Model {
	t.Helper()
	for _, m := range model.Corpus(rng.NewKey(testSeed)) {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("no corpus model %q", name)
	return model.Model{}
}
