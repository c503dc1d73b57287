// Package observability provides OpenTelemetry tracing and metrics for
// the enforcement engine: per-job run counters and durations,
// settlement counters, and spans around scheduled work. Everything is
// exported over OTLP gRPC.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "stakebound.core"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stakebound",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers plus the engine's
// instruments. A disabled provider is a safe no-op everywhere.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	jobRuns     metric.Int64Counter
	jobDuration metric.Float64Histogram
	jobItems    metric.Int64Counter
	settlements metric.Int64Counter
}

// New creates the observability provider and registers it globally.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("initializing trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("initializing metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("initializing instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.jobRuns, err = p.meter.Int64Counter("stakebound.jobs.total",
		metric.WithDescription("Scheduled job runs by job and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	p.jobDuration, err = p.meter.Float64Histogram("stakebound.job.duration",
		metric.WithDescription("Scheduled job duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0),
	)
	if err != nil {
		return err
	}

	p.jobItems, err = p.meter.Int64Counter("stakebound.job.items.total",
		metric.WithDescription("Per-job item counters (marked, reminded, failed, ...)"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return err
	}

	p.settlements, err = p.meter.Int64Counter("stakebound.settlements.total",
		metric.WithDescription("Stake settlements by kind"),
		metric.WithUnit("{settlement}"),
	)
	return err
}

// RegisterActiveContracts registers an observable gauge backed by the
// given count function, typically a store query. No-op when disabled.
func (p *Provider) RegisterActiveContracts(count func(context.Context) (int64, error)) error {
	if p.meter == nil {
		return nil
	}
	gauge, err := p.meter.Int64ObservableGauge("stakebound.contracts.active",
		metric.WithDescription("Contracts currently in ACTIVE status"),
		metric.WithUnit("{contract}"),
	)
	if err != nil {
		return err
	}
	_, err = p.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := count(ctx)
		if err != nil {
			p.logger.WarnContext(ctx, "active contract count failed", "error", err)
			return nil
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// StartJobSpan opens a span around one scheduled job run.
func (p *Provider) StartJobSpan(ctx context.Context, job string) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "job."+job,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("job.name", job)),
	)
}

// RecordJobRun records one job run with its outcome ("completed",
// "skipped", "failed") and duration.
func (p *Provider) RecordJobRun(ctx context.Context, job, outcome string, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("job.name", job),
		attribute.String("job.outcome", outcome),
	)
	if p.jobRuns != nil {
		p.jobRuns.Add(ctx, 1, attrs)
	}
	if p.jobDuration != nil {
		p.jobDuration.Record(ctx, took.Seconds(), attrs)
	}
}

// RecordJobItems records a named per-job counter, e.g. how many
// contracts an enforcement run failed.
func (p *Provider) RecordJobItems(ctx context.Context, job, counter string, n int) {
	if p.jobItems == nil || n == 0 {
		return
	}
	p.jobItems.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("job.name", job),
		attribute.String("counter", counter),
	))
}

// RecordSettlement counts one stake settlement by kind (released,
// forfeited, donated, refunded).
func (p *Provider) RecordSettlement(ctx context.Context, kind string) {
	if p.settlements == nil {
		return
	}
	p.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("settlement.kind", kind)))
}
