// Package telemetry wires OpenTelemetry traces, metrics and logs plus
// Pyroscope profiling for the sync service, and records sync-specific
// measurements.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

const (
	instrumentationName = "github.com/konozy/ordersync"
	shutdownTimeout     = 10 * time.Second
	metricsInterval     = 60 * time.Second
)

// Providers owns every telemetry pipeline started by Setup
type Providers struct {
	config   config.TelemetryConfig
	logger   *zap.Logger
	tracer   *sdktrace.TracerProvider
	meter    *sdkmetric.MeterProvider
	logs     *sdklog.LoggerProvider
	profiler *Profiler
}

// Setup starts the OTLP exporters and the profiler described by cfg.
// With telemetry disabled every provider is the global no-op.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	p := &Providers{config: cfg, logger: logger}

	if cfg.ProfilingEnabled {
		profiler, err := StartProfiler(ProfilerConfig{
			ServerAddress:   cfg.PyroscopeServerURL,
			ApplicationName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, err
		}
		p.profiler = profiler
	}

	if !cfg.Enabled {
		logger.Info("Telemetry disabled, using no-op providers")
		return p, nil
	}

	res, err := newResource(cfg.ServiceName, version)
	if err != nil {
		return nil, err
	}

	if p.tracer, err = newTracerProvider(ctx, cfg, res); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	if p.meter, err = newMeterProvider(ctx, cfg, res, metricsInterval); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	if p.logs, err = newLoggerProvider(ctx, cfg, res); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	otel.SetTracerProvider(p.tracerProvider())
	otel.SetMeterProvider(p.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Float64("sampling_ratio", cfg.SamplingRatio),
		zap.String("service_name", cfg.ServiceName),
		zap.Bool("span_profiles", p.profiler != nil),
	)
	return p, nil
}

// tracerProvider links spans to CPU profiles when the profiler is running
func (p *Providers) tracerProvider() trace.TracerProvider {
	if p.profiler != nil {
		return p.profiler.WrapTracerProvider(p.tracer)
	}
	return p.tracer
}

// Enabled reports whether OTLP export is active
func (p *Providers) Enabled() bool {
	return p.tracer != nil
}

// Tracer returns a tracer from the global provider
func (p *Providers) Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns a meter from the configured provider
func (p *Providers) Meter() metric.Meter {
	if p.meter == nil {
		return otel.GetMeterProvider().Meter(instrumentationName)
	}
	return p.meter.Meter(instrumentationName)
}

// Shutdown flushes and stops every pipeline, returning all errors joined
func (p *Providers) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	if p.logs != nil {
		if err := p.logs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown logger provider: %w", err))
		}
	}
	if p.profiler != nil {
		if err := p.profiler.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		p.logger.Debug("Telemetry shut down")
	}
	return errors.Join(errs...)
}

func newResource(serviceName, version string) (*resource.Resource, error) {
	if version == "" {
		version = "dev"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
