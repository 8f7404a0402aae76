// Package telemetry initializes OpenTelemetry providers for the pipeline.
// Disabled telemetry yields a no-op instance; exporter failures mark the
// instance degraded instead of failing startup.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config controls exporter wiring.
type Config struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Endpoint is the OTLP collector endpoint, host:port.
	Endpoint string `json:"endpoint" koanf:"endpoint"`

	// Protocol is "grpc" or "http".
	Protocol string `json:"protocol" koanf:"protocol"`

	// SampleRatio is the trace sampling ratio in [0, 1].
	SampleRatio float64 `json:"sample_ratio" koanf:"sample_ratio"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `json:"insecure" koanf:"insecure"`

	ServiceName    string `json:"service_name" koanf:"service_name"`
	ServiceVersion string `json:"service_version" koanf:"service_version"`
}

// DefaultConfig returns a disabled config with sane exporter settings.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "localhost:4317",
		Protocol:    "grpc",
		SampleRatio: 1.0,
		ServiceName: "codesweep",
	}
}

// Validate checks exporter settings.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry endpoint is required when enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http" {
		return fmt.Errorf("invalid telemetry protocol %q (grpc or http)", c.Protocol)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample ratio %v out of range [0, 1]", c.SampleRatio)
	}
	return nil
}

// Telemetry owns the global tracer and meter providers and their shutdown.
type Telemetry struct {
	config Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded atomic.Bool
}

// New initializes providers per config and installs them globally. With
// telemetry disabled the returned instance is a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		t.degraded.Store(true)
		return t, nil
	}

	if err := t.initTraces(ctx, res); err != nil {
		t.degraded.Store(true)
	}
	if err := t.initMetrics(ctx, res); err != nil {
		t.degraded.Store(true)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return t, nil
}

func (t *Telemetry) initTraces(ctx context.Context, res *resource.Resource) error {
	var exporter sdktrace.SpanExporter
	var err error
	switch t.config.Protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.config.Endpoint)}
		if t.config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.config.Endpoint)}
		if t.config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	t.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.config.SampleRatio))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(t.tracerProvider)
	return nil
}

func (t *Telemetry) initMetrics(ctx context.Context, res *resource.Resource) error {
	var exporter sdkmetric.Exporter
	var err error
	switch t.config.Protocol {
	case "grpc":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(t.config.Endpoint)}
		if t.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(t.config.Endpoint)}
		if t.config.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(t.meterProvider)
	return nil
}

// Degraded reports whether any provider failed to initialize.
func (t *Telemetry) Degraded() bool {
	return t.degraded.Load()
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
