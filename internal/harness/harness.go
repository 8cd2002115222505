// Package harness runs the model corpus through the equivalence checks,
// in parallel, and records the outcome.
package harness

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chaincheck/internal/config"
	"chaincheck/internal/equiv"
	"chaincheck/internal/model"
	"chaincheck/internal/rng"
	"chaincheck/internal/store"
)

// ModelResult is one model's outcome.
type ModelResult struct {
	Model       string
	History     int
	SeqLoss     float64
	VecLoss     float64
	MaxGradDiff float64
	Err         error
	Duration    time.Duration
}

// Report is one full harness run.
type Report struct {
	ID       string
	Started  time.Time
	Seed     uint64
	Results  []ModelResult
	Failures int
	Duration time.Duration
}

// Harness owns one configured check suite.
type Harness struct {
	log   *zap.Logger
	store *store.RunStore
	tol   equiv.Tolerance
	seed  uint64
	limit int
}

// New builds a harness from config. rs may be nil to skip persistence.
func New(cfg *config.Config, log *zap.Logger, rs *store.RunStore) *Harness {
	return &Harness{
		log:   log,
		store: rs,
		tol: equiv.Tolerance{
			FactorAbs: cfg.Tolerance.FactorAbs,
			LossAbs:   cfg.Tolerance.LossAbs,
			GradAbs:   cfg.Tolerance.GradAbs,
		},
		seed:  cfg.Seed,
		limit: cfg.Corpus.Parallelism,
	}
}

// Models resolves the corpus selection from config.
func Models(cfg *config.Config) []model.Model {
	key := rng.NewKey(cfg.Seed)
	all := model.Corpus(key)
	if cfg.Corpus.IncludeLong {
		all = append(all, model.LongCorpus(key)...)
	}
	if len(cfg.Corpus.Models) == 0 {
		return all
	}
	want := make(map[string]bool, len(cfg.Corpus.Models))
	for _, name := range cfg.Corpus.Models {
		want[name] = true
	}
	var out []model.Model
	for _, m := range all {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

// Run checks every model and returns the aggregated report. Model failures
// are collected in the report, not returned as an error; the returned error
// covers context cancellation and persistence only.
func (h *Harness) Run(ctx context.Context, models []model.Model) (*Report, error) {
	report := &Report{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Seed:    h.seed,
		Results: make([]ModelResult, len(models)),
	}
	h.log.Info("starting check run",
		zap.String("run_id", report.ID),
		zap.Uint64("seed", h.seed),
		zap.Int("models", len(models)))

	g, ctx := errgroup.WithContext(ctx)
	if h.limit > 0 {
		g.SetLimit(h.limit)
	}
	for i, m := range models {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := equiv.CheckModel(m, h.seed, h.tol)
			mr := ModelResult{Model: m.Name, History: m.History, Err: err, Duration: time.Since(start)}
			if res != nil {
				mr.SeqLoss = res.SeqLoss
				mr.VecLoss = res.VecLoss
				mr.MaxGradDiff = res.MaxGradDiff
			}
			report.Results[i] = mr
			if err != nil {
				h.log.Warn("model check failed",
					zap.String("model", m.Name),
					zap.Error(err))
				return nil
			}
			h.log.Info("model check passed",
				zap.String("model", m.Name),
				zap.Int("history", m.History),
				zap.Float64("loss", mr.SeqLoss),
				zap.Float64("max_grad_diff", mr.MaxGradDiff),
				zap.Duration("took", mr.Duration))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, r := range report.Results {
		if r.Err != nil {
			report.Failures++
		}
	}
	report.Duration = time.Since(report.Started)
	h.log.Info("check run finished",
		zap.String("run_id", report.ID),
		zap.Int("failures", report.Failures),
		zap.Duration("took", report.Duration))

	if h.store != nil {
		if err := h.persist(report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (h *Harness) persist(report *Report) error {
	run := store.RunRecord{
		ID:       report.ID,
		Started:  report.Started,
		Seed:     report.Seed,
		Models:   len(report.Results),
		Failures: report.Failures,
		Duration: report.Duration,
	}
	results := make([]store.ResultRecord, 0, len(report.Results))
	for _, r := range report.Results {
		rec := store.ResultRecord{
			RunID:       report.ID,
			Model:       r.Model,
			History:     r.History,
			SeqLoss:     r.SeqLoss,
			VecLoss:     r.VecLoss,
			MaxGradDiff: r.MaxGradDiff,
			Passed:      r.Err == nil,
			Duration:    r.Duration,
		}
		if r.Err != nil {
			rec.Detail = r.Err.Error()
		}
		results = append(results, rec)
	}
	return h.store.SaveRun(run, results)
}

// FirstFailure returns the first failed result, if any.
func (r *Report) FirstFailure() (ModelResult, bool) {
	for _, res := range r.Results {
		if res.Err != nil {
			return res, true
		}
	}
	return ModelResult{}, false
}

// Err flattens every model failure into one error.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
