// chaincheck validates that sequential and vectorized evaluation of
// Markov-structured probabilistic models agree: factor by factor, loss and
// gradients, and step structure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chaincheck/internal/config"
	"chaincheck/internal/guide"
	"chaincheck/internal/harness"
	"chaincheck/internal/infer"
	"chaincheck/internal/logging"
	"chaincheck/internal/model"
	"chaincheck/internal/store"
	"chaincheck/internal/tensor"
)

var (
	// Global flags
	configPath string
	seedFlag   uint64
	noStore    bool
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chaincheck",
	Short: "Equivalence checker for vectorized Markov model evaluation",
	Long: `chaincheck runs a corpus of Markov-structured models under both the
sequential and the vectorized evaluation driver and verifies that the two
agree: per-step factors match the slices of the batched factors, marginal
loss and parameter gradients coincide, and the vectorized trace exposes the
expected step structure.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("seed") {
			cfg.Seed = seedFlag
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [model...]",
	Short: "Run the equivalence suite over the model corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			cfg.Corpus.Models = args
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		report, err := runSuite(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		if report.Failures > 0 {
			return fmt.Errorf("%d of %d models failed", report.Failures, len(report.Results))
		}
		return nil
	},
}

var (
	sviModel string
	sviSteps int
	sviRate  float64
)

var sviCmd = &cobra.Command{
	Use:   "svi",
	Short: "Fit an automatic guide to a demo model",
	RunE: func(cmd *cobra.Command, args []string) error {
		var fn model.Fn
		var data *tensor.Dense
		switch sviModel {
		case "normal":
			fn = model.PlainNormal()
			data = tensor.DenseOf([]float64{2.1, 1.8, 2.4, 2.0, 1.6, 2.2}, 6)
		case "beta":
			fn = model.PlainBeta()
			data = tensor.DenseOf([]float64{1, 1, 0, 1, 1, 1, 0, 1}, 8)
		default:
			return fmt.Errorf("unknown model %q (want normal or beta)", sviModel)
		}

		g := guide.NewAutoDiagonalNormal(fn, data)
		svi := infer.NewSVI(fn, data, g, infer.WithLearningRate(sviRate))
		losses, err := svi.Run(cfg.Seed, sviSteps)
		if err != nil {
			return err
		}
		logger.Info("svi finished",
			zap.String("model", sviModel),
			zap.Int("steps", len(losses)),
			zap.Float64("initial_loss", losses[0]),
			zap.Float64("final_loss", losses[len(losses)-1]))

		median, err := g.Median(svi.Params())
		if err != nil {
			return err
		}
		for name, v := range median {
			fmt.Printf("%s median: %v\n", name, v.Data())
		}
		return nil
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored check runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer rs.Close()
		runs, err := rs.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			status := "PASS"
			if r.Failures > 0 {
				status = fmt.Sprintf("FAIL(%d)", r.Failures)
			}
			fmt.Printf("%s  %s  seed=%d  models=%d  %s  %s\n",
				r.Started.Format(time.RFC3339), r.ID, r.Seed, r.Models, status, r.Duration.Round(time.Millisecond))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the suite whenever watched files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		debounce, err := time.ParseDuration(cfg.Watch.Debounce)
		if err != nil {
			return fmt.Errorf("invalid watch debounce: %w", err)
		}
		paths := cfg.Watch.Paths
		if len(paths) == 0 {
			paths = []string{configPath}
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		for _, p := range paths {
			if err := watcher.Add(p); err != nil {
				return fmt.Errorf("failed to watch %s: %w", p, err)
			}
			logger.Info("watching", zap.String("path", p))
		}

		run := func() {
			report, err := runSuite(ctx)
			if err != nil {
				logger.Error("run failed", zap.Error(err))
				return
			}
			printReport(report)
		}
		run()

		var timer *time.Timer
		pending := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				logger.Debug("change detected", zap.String("path", ev.Name))
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watch error", zap.Error(err))
			case <-pending:
				// Config may have changed; reload before rerunning.
				if fresh, err := config.Load(configPath); err == nil {
					cfg = fresh
				}
				run()
			}
		}
	},
}

func runSuite(ctx context.Context) (*harness.Report, error) {
	var rs *store.RunStore
	if !noStore && cfg.Store.Path != "" {
		var err error
		rs, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		defer rs.Close()
	}
	h := harness.New(cfg, logger, rs)
	return h.Run(ctx, harness.Models(cfg))
}

func printReport(report *harness.Report) {
	for _, r := range report.Results {
		if r.Err != nil {
			fmt.Printf("FAIL  %-16s h=%d  %v\n", r.Model, r.History, r.Err)
			continue
		}
		fmt.Printf("ok    %-16s h=%d  loss=%.6f  grad_diff=%.2e  %s\n",
			r.Model, r.History, r.SeqLoss, r.MaxGradDiff, r.Duration.Round(time.Millisecond))
	}
	fmt.Printf("%d models, %d failures (run %s, %s)\n",
		len(report.Results), report.Failures, report.ID, report.Duration.Round(time.Millisecond))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "chaincheck.yaml", "config file")
	rootCmd.PersistentFlags().Uint64Var(&seedFlag, "seed", 0, "override the run seed")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "skip persisting results")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	sviCmd.Flags().StringVar(&sviModel, "model", "normal", "demo model (normal or beta)")
	sviCmd.Flags().IntVar(&sviSteps, "steps", 200, "optimization steps")
	sviCmd.Flags().Float64Var(&sviRate, "lr", 0.05, "learning rate")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")

	rootCmd.AddCommand(checkCmd, sviCmd, runsCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
