// Package telemetry wires OpenTelemetry trace export and Prometheus metrics.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/logflow/dqengine/pkg/config"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// OTLPConfig configures the OpenTelemetry OTLP gRPC exporter.
type OTLPConfig struct {
	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Insecure disables TLS for the gRPC connection
	Insecure bool

	// Headers are sent with each export request (e.g., auth tokens)
	Headers map[string]string

	BatchTimeout  time.Duration
	MaxBatchSize  int
	MaxQueueSize  int
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64
}

// DefaultOTLPConfig returns sensible defaults for OTLP configuration.
func DefaultOTLPConfig(serviceName string) OTLPConfig {
	return OTLPConfig{
		Endpoint:       "localhost:4317",
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Environment:    "development",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		MaxQueueSize:   2048,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// FromConfig derives the exporter configuration from the telemetry section.
func FromConfig(cfg config.TelemetryConfig, version string) OTLPConfig {
	out := DefaultOTLPConfig(cfg.ServiceName)
	if cfg.Endpoint != "" {
		out.Endpoint = cfg.Endpoint
	}
	if version != "" {
		out.ServiceVersion = version
	}
	out.SamplingRatio = cfg.SampleRate
	return out
}

// Sampler maps a sampling ratio to a sampler.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Exporter manages the OTLP exporter lifecycle.
type Exporter struct {
	mu sync.Mutex

	cfg            OTLPConfig
	tracerProvider *sdktrace.TracerProvider
	shutdown       func(context.Context) error
	initialized    bool
}

// NewExporter creates an exporter. Nothing is exported until Init.
func NewExporter(cfg OTLPConfig) *Exporter {
	return &Exporter{cfg: cfg}
}

// Init creates the exporter and installs the global tracer provider. The
// returned function flushes and closes it.
func (e *Exporter) Init(ctx context.Context) (func(context.Context) error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return e.shutdown, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(e.cfg.Endpoint),
		otlptracegrpc.WithTimeout(e.cfg.ExportTimeout),
	}
	if e.cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(e.cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(e.cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeConfiguration, "failed to create OTLP exporter")
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(e.cfg.ServiceName),
			semconv.ServiceVersion(e.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(e.cfg.Environment),
		),
	)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeConfiguration, "failed to create resource")
	}

	e.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(e.cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(e.cfg.MaxBatchSize),
			sdktrace.WithMaxQueueSize(e.cfg.MaxQueueSize),
			sdktrace.WithExportTimeout(e.cfg.ExportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(e.cfg.SamplingRatio)),
	)
	otel.SetTracerProvider(e.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	e.shutdown = func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.initialized {
			return nil
		}
		e.initialized = false
		return e.tracerProvider.Shutdown(ctx)
	}
	e.initialized = true
	return e.shutdown, nil
}

// Tracer returns a tracer of the installed provider, or the global one before Init.
func (e *Exporter) Tracer(name string) trace.Tracer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracerProvider == nil {
		return otel.Tracer(name)
	}
	return e.tracerProvider.Tracer(name)
}

// IsInitialized returns whether the exporter has been initialized.
func (e *Exporter) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Setup initializes tracing when enabled. The shutdown function is never nil.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	return NewExporter(FromConfig(cfg, version)).Init(ctx)
}
