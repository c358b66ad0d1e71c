package main

import (
	"github.com/spf13/cobra"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/telemetry"
)

var metricsAddr string

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Expose Prometheus metrics over HTTP",
	Long: `Serve /metrics until interrupted. Validation runs started by this process
through --watch share the same registry.

Examples:
  dqengine serve-metrics
  dqengine serve-metrics --addr :9187`,
	RunE: runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().StringVar(&metricsAddr, "addr", "", "Listen address (defaults to telemetry.metrics_addr or :9187)")

	rootCmd.AddCommand(serveMetricsCmd)
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, cmd.ErrOrStderr())

	addr := metricsAddr
	if addr == "" {
		addr = cfg.Telemetry.MetricsAddr
	}
	if addr == "" {
		addr = ":9187"
	}
	return telemetry.Serve(ctx, addr, logger)
}
