package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/suite"
)

var (
	expectationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqengine_expectations_total",
			Help: "Expectations evaluated, by type and outcome",
		},
		[]string{"expectation_type", "success"},
	)
	expectationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqengine_expectation_exceptions_total",
			Help: "Expectations that raised and were caught",
		},
		[]string{"expectation_type"},
	)
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dqengine_run_duration_seconds",
			Help:    "Suite run latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"suite"},
	)
	lastSuccessPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dqengine_run_success_percent",
			Help: "Success percent of the latest run of a suite",
		},
		[]string{"suite"},
	)
)

// ObserveRun records the outcome of a suite run.
func ObserveRun(run *suite.Run) {
	for _, res := range run.Results {
		typ := ""
		if res.ExpectationConfig != nil {
			typ = res.ExpectationConfig.ExpectationType
		}
		expectationsTotal.WithLabelValues(typ, strconv.FormatBool(res.Success)).Inc()
		if res.ExceptionInfo != nil && res.ExceptionInfo.RaisedException {
			expectationErrors.WithLabelValues(typ).Inc()
		}
	}
	runDuration.WithLabelValues(run.Suite).Observe(float64(run.DurationMs) / 1000)
	if p := run.Statistics.SuccessPercent; p != nil {
		lastSuccessPercent.WithLabelValues(run.Suite).Set(*p)
	}
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	logger = logging.OrDiscard(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
