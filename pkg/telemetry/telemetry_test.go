package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/logflow/dqengine/pkg/config"
	"github.com/logflow/dqengine/pkg/result"
	"github.com/logflow/dqengine/pkg/suite"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if shutdown == nil {
		t.Fatal("shutdown should never be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{ServiceName: "dq", Endpoint: "collector:4317", SampleRate: 0.25}, "1.2.3")
	if cfg.Endpoint != "collector:4317" || cfg.ServiceName != "dq" || cfg.ServiceVersion != "1.2.3" || cfg.SamplingRatio != 0.25 {
		t.Errorf("FromConfig() = %+v", cfg)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, sdktrace.AlwaysSample().Description()},
		{0, sdktrace.NeverSample().Description()},
		{0.5, sdktrace.TraceIDRatioBased(0.5).Description()},
	}
	for _, tt := range tests {
		if got := Sampler(tt.ratio).Description(); got != tt.want {
			t.Errorf("Sampler(%v) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	e := NewExporter(DefaultOTLPConfig("dqengine-test"))
	first, err := e.Init(context.Background())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.IsInitialized() {
		t.Error("exporter should be initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_ = first(ctx)
	if e.IsInitialized() {
		t.Error("shutdown should reset the exporter")
	}
}

func TestObserveRun(t *testing.T) {
	p := 50.0
	run := &suite.Run{
		Suite:      "metrics-test",
		DurationMs: 1500,
		Statistics: suite.Statistics{Evaluated: 2, Successful: 1, SuccessPercent: &p},
		Results: []*result.Result{
			{Success: true, ExpectationConfig: &result.ExpectationConfig{ExpectationType: "expect_metrics_test"}},
			{
				ExpectationConfig: &result.ExpectationConfig{ExpectationType: "expect_metrics_test"},
				ExceptionInfo:     &result.ExceptionInfo{RaisedException: true},
			},
		},
	}
	ObserveRun(run)

	if got := testutil.ToFloat64(expectationsTotal.WithLabelValues("expect_metrics_test", "true")); got != 1 {
		t.Errorf("successful = %v, want 1", got)
	}
	if got := testutil.ToFloat64(expectationErrors.WithLabelValues("expect_metrics_test")); got != 1 {
		t.Errorf("exceptions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lastSuccessPercent.WithLabelValues("metrics-test")); got != 50 {
		t.Errorf("success percent = %v, want 50", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `dqengine_run_duration_seconds_count{suite="metrics-test"} 1`) {
		t.Errorf("metrics output lacks the run histogram")
	}
}
