package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/export"
	"github.com/logflow/dqengine/pkg/metrics"
	"github.com/logflow/dqengine/pkg/results"
	"github.com/logflow/dqengine/pkg/suite"
	"github.com/logflow/dqengine/pkg/telemetry"
	"github.com/logflow/dqengine/pkg/tui"
	"github.com/logflow/dqengine/pkg/watch"
)

// Validate flags
var (
	readerMethod string
	rowLimit     int
	directOnly   bool
	watchMode    bool
	watchDelay   time.Duration
	exportPath   string
	storeRuns    bool
	showProgress bool
)

// errValidationFailed marks a completed run with failed expectations.
var errValidationFailed = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate <suite.yaml> [data-file...]",
	Short: "Validate data files against an expectation suite",
	Long: `Evaluate every expectation of a suite against each data file.

Without data files the suite's own batch source is used. Expectations that
share a column domain are resolved through the metric graph in a minimal number
of queries; the rest are evaluated one at a time.

The exit code is 0 when every expectation passed, 2 when one failed and 1 on error.

Examples:
  dqengine validate orders.yaml orders.csv
  dqengine validate orders.yaml jan.parquet feb.parquet --export runs.xlsx
  dqengine validate orders.yaml --watch orders.csv
  dqengine validate orders.yaml --store -c prod.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&readerMethod, "reader", "", "Reader method for data files (read_csv, read_parquet, read_json) - auto-detected if not specified")
	validateCmd.Flags().IntVar(&rowLimit, "limit", 0, "Only load the first N rows of each batch")
	validateCmd.Flags().BoolVar(&directOnly, "direct", false, "Evaluate every expectation on its own")
	validateCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Re-validate when a data file changes")
	validateCmd.Flags().DurationVar(&watchDelay, "debounce", 500*time.Millisecond, "Quiet period before re-validating in watch mode")
	validateCmd.Flags().StringVarP(&exportPath, "export", "o", "", "Write results to a .xlsx, .parquet, .csv or .json file")
	validateCmd.Flags().BoolVar(&storeRuns, "store", false, "Persist runs to the configured results backend")
	validateCmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress bar")

	rootCmd.AddCommand(validateCmd)
}

func batchSpecs(s *suite.Suite, files []string) ([]batch.Spec, error) {
	if len(files) == 0 {
		if s.Batch == nil {
			return nil, fmt.Errorf("suite %q has no batch source, pass data files", s.Name)
		}
		spec, err := s.Batch.Spec()
		if err != nil {
			return nil, err
		}
		return []batch.Spec{spec}, nil
	}
	specs := make([]batch.Spec, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f, "s3://") {
			spec, err := suite.Source{S3: f, ReaderMethod: readerMethod, Limit: rowLimit}.Spec()
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("input file does not exist: %s", f)
		}
		specs = append(specs, batch.PathSpec{Path: f, ReaderMethod: readerMethod, Limit: rowLimit})
	}
	return specs, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := suite.Load(args[0])
	if err != nil {
		return err
	}
	specs, err := batchSpecs(s, args[1:])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdown, err := telemetry.Setup(ctx, a.cfg.Telemetry, version)
	if err != nil {
		a.logger.WithError(err).Warn("tracing disabled")
	} else {
		defer shutdown(context.Background())
	}
	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		go func() {
			if err := telemetry.Serve(ctx, addr, a.logger); err != nil {
				a.logger.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	var store results.Store
	if storeRuns {
		store, err = results.Open(ctx, a.cfg.Results)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}
	}

	defaults, err := suite.DefaultsFrom(a.cfg.Validation)
	if err != nil {
		return err
	}

	v := &validation{
		app:   a,
		suite: s,
		store: store,
		out:   cmd.OutOrStdout(),
		opts: suite.Options{
			Defaults:    defaults,
			Concurrency: a.cfg.Validation.Concurrency,
			DirectOnly:  directOnly,
			Logger:      a.logger,
		},
	}

	if !watchMode {
		return v.run(ctx, specs)
	}
	return v.watch(ctx, specs, args[1:])
}

type validation struct {
	app   *app
	suite *suite.Suite
	store results.Store
	opts  suite.Options
	out   io.Writer
}

func (v *validation) run(ctx context.Context, specs []batch.Spec) error {
	opts := v.opts
	if showProgress {
		bar := tui.ShowProgress(os.Stderr, len(specs)*len(v.suite.Expectations), "validating")
		opts.Progress = func() { bar.Add(1) }
		defer bar.Finish()
	}

	runner := suite.NewRunner(v.app.rt, v.app.loader, metrics.Defaults(), opts)
	runs, err := runner.RunAll(ctx, v.suite, specs)
	if err != nil {
		return err
	}

	failed := false
	for _, run := range runs {
		telemetry.ObserveRun(run)
		tui.PrintRun(v.out, run, verbose)
		if v.store != nil {
			if err := v.store.Save(ctx, run); err != nil {
				return err
			}
			v.app.logger.WithField("run_id", run.ID).WithField("store", v.store.Name()).Debug("run saved")
		}
		if !run.Success {
			failed = true
		}
	}

	if exportPath != "" {
		if err := writeExport(ctx, v.app, runs, exportPath); err != nil {
			return err
		}
		fmt.Fprintf(v.out, "Results written to %s\n", exportPath)
	}

	if failed {
		return errValidationFailed
	}
	return nil
}

func writeExport(ctx context.Context, a *app, runs []*suite.Run, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return export.WriteXLSX(path, runs)
	}
	return export.WriteTable(ctx, a.rt, runs, path)
}

// watch validates once, then again for each data file that changes.
func (v *validation) watch(ctx context.Context, specs []batch.Spec, files []string) error {
	if len(files) == 0 {
		if v.suite.Batch == nil || v.suite.Batch.Path == "" {
			return fmt.Errorf("watch mode needs local data files")
		}
		files = []string{v.suite.Batch.Path}
	}

	byPath := make(map[string]batch.Spec, len(files))
	for i, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		byPath[abs] = specs[i]
	}

	w, err := watch.New(watch.Options{
		Debounce: watchDelay,
		Logger:   v.app.logger,
		OnChange: func(ctx context.Context, path string) error {
			spec, ok := byPath[path]
			if !ok {
				return nil
			}
			v.app.loader.Unload(batch.ID(spec))
			fmt.Fprintf(v.out, "[%s] Change detected in %s\n", time.Now().Format("15:04:05"), filepath.Base(path))
			err := v.run(ctx, []batch.Spec{spec})
			if errors.Is(err, errValidationFailed) {
				return nil
			}
			return err
		},
		OnError: func(path string, err error) {
			v.app.logger.WithError(err).WithField("path", path).Error("validation failed")
		},
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for path := range byPath {
		if err := w.Watch(path); err != nil {
			return err
		}
	}

	if err := v.run(ctx, specs); err != nil && !errors.Is(err, errValidationFailed) {
		return err
	}
	fmt.Fprintf(v.out, "Watching %d file(s), press Ctrl+C to stop\n", len(byPath))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func exitCode(err error) int {
	if errors.Is(err, errValidationFailed) {
		return 2
	}
	return 1
}
