// Package telemetry installs OpenTelemetry trace and metric providers that
// export over OTLP/gRPC when a collector endpoint is configured.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

// EnvEndpoint enables export when set. The exporters read it themselves.
const EnvEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

// metricInterval is short because a watch exits soon after firing; the
// final values are flushed on shutdown anyway.
const metricInterval = 15 * time.Second

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Config names the service in exported telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Getenv looks up EnvEndpoint; nil means os.Getenv.
	Getenv func(string) string
}

// Enabled reports whether an OTLP endpoint is configured.
func (c Config) Enabled() bool {
	getenv := c.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return getenv(EnvEndpoint) != ""
}

// Setup installs global trace and metric providers. Without an endpoint it
// leaves the no-op globals in place and returns a no-op shutdown.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled() {
		return noopShutdown, nil
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithTelemetrySDK(),
		sdkresource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("create OTEL resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithCompressor("gzip"))
	if err != nil {
		return noopShutdown, fmt.Errorf("create OTEL trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithCompressor("gzip"))
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return noopShutdown, fmt.Errorf("create OTEL metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return joinShutdown(tp.Shutdown, mp.Shutdown), nil
}

// joinShutdown runs every fn concurrently and returns the first error.
func joinShutdown(fns ...ShutdownFunc) ShutdownFunc {
	return func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, fn := range fns {
			g.Go(func() error { return fn(ctx) })
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("shutting down telemetry: %w", err)
		}
		return nil
	}
}
