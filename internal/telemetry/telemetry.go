// Package telemetry sets up OpenTelemetry tracing and metrics for decom.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/yairfalse/decom/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

type options struct {
	prometheus bool
	readers    []sdkmetric.Reader
}

// Option tunes NewProvider.
type Option func(*options)

// WithPrometheus registers a Prometheus exporter on the default registry,
// to be served by promhttp.
func WithPrometheus() Option {
	return func(o *options) { o.prometheus = true }
}

// WithReader adds a metric reader. Used by tests.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// NewProvider creates a new telemetry provider and installs it globally.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, o); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, o options) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if o.prometheus {
		exp, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	for _, r := range o.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// MeterProvider returns the meter provider for instrument creation.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
