package otel

import (
	"context"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupConfig configures the global OTLP trace pipeline.
type SetupConfig struct {
	// Endpoint is the OTLP HTTP collector endpoint, host:port. Empty
	// disables export.
	Endpoint string

	// Insecure uses plain HTTP instead of TLS.
	Insecure bool
}

// Setup installs a global tracer provider exporting over OTLP HTTP. The
// returned shutdown function flushes and stops the provider. When no
// endpoint is configured it returns a no-op shutdown and leaves the global
// provider untouched.
func Setup(ctx context.Context, cfg SetupConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otelapi.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
