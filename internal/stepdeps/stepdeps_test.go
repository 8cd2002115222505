package stepdeps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaincheck/internal/dist"
	"chaincheck/internal/model"
	"chaincheck/internal/tensor"
	"chaincheck/internal/timeindex"
	"chaincheck/internal/rng"
	"chaincheck/internal/trace"
)

func vectorizedTrace(t *testing.T, m model.Model) *trace.Trace {
	t.Helper()
	key := rng.NewKey(7)
	params, err := model.InitParams(m, key)
	require.NoError(t, err)
	e := trace.NewEval(key, params, trace.WithEnumeration())
	require.NoError(t, m.Run(e, m.Data, m.History, true))
	return e.Finish()
}

func TestExpectedFirstOrder(t *testing.T) {
	got := Expected([]string{"x"}, "time", 5, 1)
	want := [][]string{{"x_0", "x_span(0,4)", "x_span(1,5)"}}
	assert.Equal(t, want, got)
}

func TestExpectedSecondOrder(t *testing.T) {
	got := Expected([]string{"x"}, "time", 5, 2)
	want := [][]string{{"x_0", "x_1", "x_span(0,3)", "x_span(1,4)", "x_span(2,5)"}}
	assert.Equal(t, want, got)
}

func TestExpectedNoHistory(t *testing.T) {
	got := Expected([]string{"x"}, "time", 5, 0)
	want := [][]string{{"x_span(0,5)"}}
	assert.Equal(t, want, got)
}

func TestExtractChain(t *testing.T) {
	m := corpusModel(t, "hmm")
	tr := vectorizedTrace(t, m)
	got := Extract(tr)
	assert.Equal(t, [][]string{{"x_0", "x_span(0,4)", "x_span(1,5)"}}, got)
}

func TestExtractCrossCoupledChains(t *testing.T) {
	// Each chain's lagged instance is referenced only by the other chain,
	// yet both full tuples must be recovered.
	m := corpusModel(t, "crossed-chains")
	tr := vectorizedTrace(t, m)
	got := Extract(tr)
	want := [][]string{
		{"w_0", "w_span(0,4)", "w_span(1,5)"},
		{"x_0", "x_span(0,4)", "x_span(1,5)"},
	}
	assert.Equal(t, want, got)
}

func TestExtractSecondOrderChain(t *testing.T) {
	m := corpusModel(t, "skip-chain")
	tr := vectorizedTrace(t, m)
	got := Extract(tr)
	want := [][]string{{"x_0", "x_1", "x_span(0,3)", "x_span(1,4)", "x_span(2,5)"}}
	assert.Equal(t, want, got)
}

func TestVerifyCorpus(t *testing.T) {
	for _, m := range model.Corpus(rng.NewKey(7)) {
		t.Run(m.Name, func(t *testing.T) {
			tr := vectorizedTrace(t, m)
			assert.NoError(t, Verify(tr))
		})
	}
}

func TestMeasureVarsExcludesReplayed(t *testing.T) {
	guide := trace.ValueTrace(map[trace.SiteKey]*tensor.Array{
		{Var: "x", Pos: timeindex.At(0)}: tensor.Scalar(0.5),
	})
	e := trace.NewEval(rng.NewKey(1), trace.NewParamSet(), trace.WithReplay(guide))
	std := dist.NewNormal(tensor.Scalar(0), tensor.Scalar(1))
	_, err := e.Sample("x", timeindex.At(0), std)
	require.NoError(t, err)
	_, err = e.Sample("y", timeindex.At(0), std, trace.Obs(tensor.Scalar(0.1)))
	require.NoError(t, err)
	tr := e.Finish()

	assert.Equal(t, []string{"y_0"}, MeasureVars(tr))
}

func corpusModel(t *testing.T, name string) model.Model {
	t.Helper()
	for _, m := range model.Corpus(rng.NewKey(7)) {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("no corpus model %q", name)
	return model.Model{}
}
