// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"

	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/soyeahso/dialdeck/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a global tracer provider exporting over OTLP gRPC. When
// tracing is disabled or no endpoint is set, the global no-op provider stays
// in place and the returned shutdown does nothing.
func Init(ctx context.Context, cfg config.TelemetryConfig, log *logging.Logger) (ShutdownFunc, error) {
	log = log.Sub("telemetry")
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Debug().Msg("tracing disabled")
		return noop, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).
		Msg("tracing initialized")

	return tp.Shutdown, nil
}
