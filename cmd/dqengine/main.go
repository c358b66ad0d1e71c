// dqengine - data quality expectations over DuckDB
// Validates CSV, Parquet, JSON and S3 batches against YAML expectation suites.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/config"
	"github.com/logflow/dqengine/pkg/engine"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFiles []string
	logLevel    string
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "dqengine",
	Short: "dqengine - Validate data batches against expectation suites",
	Long: `dqengine evaluates data quality expectations against batches loaded into an
embedded DuckDB engine. Suites are YAML files listing expectations and their kwargs.

Configuration is read from /etc/dqengine, ~/.dqengine and ./.dqengine.yaml, then
DQENGINE_* environment variables, then --config files.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Additional config file (repeatable)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show every expectation result")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dqengine %s (%s)\n", version, commit)
	},
}

// app holds the wiring shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	rt     *engine.Runtime
	loader *batch.Loader
}

func loadConfig() (*config.Config, error) {
	m := config.NewManager()
	var err error
	if len(configFiles) > 0 {
		err = m.LoadFrom(configFiles...)
	} else {
		err = m.Load()
	}
	if err != nil {
		return nil, err
	}
	cfg := m.Get()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newApp loads configuration and opens the engine. Callers must close it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	if cfg.Engine.TempDir != "" {
		if err := os.MkdirAll(cfg.Engine.TempDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}

	rt, err := engine.New(engine.Options{
		Threads:     cfg.Engine.Threads,
		MemoryLimit: cfg.Engine.MemoryLimit,
		TempDir:     cfg.Engine.TempDir,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	opts := batch.LoaderOptions{
		Persist:  cfg.Engine.PersistEnabled(),
		TempDir:  cfg.Engine.TempDir,
		MaxCache: cfg.Cache.MaxBatches,
		MaxAge:   cfg.Cache.MaxAge,
		Logger:   logger,
	}
	if fetcher, err := batch.NewS3Fetcher(ctx, cfg.S3); err != nil {
		logger.WithError(err).Debug("S3 sources disabled")
	} else {
		opts.Fetcher = fetcher
	}

	return &app{cfg: cfg, logger: logger, rt: rt, loader: batch.NewLoader(rt, opts)}, nil
}

func (a *app) Close() {
	a.loader.Close()
	if err := a.rt.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close engine")
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
