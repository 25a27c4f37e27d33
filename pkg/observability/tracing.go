// Package observability provides OpenTelemetry tracing for shopgraph
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/shopgraph/shopgraph"

var (
	tracer   trace.Tracer
	initOnce sync.Once
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	BatchTimeout   time.Duration
}

// Initialize sets up the tracer provider. Spans are exported via the stdout
// exporter; production deployments replace the exporter through the standard
// OTEL environment configuration.
func Initialize(cfg TracingConfig) error {
	var initErr error

	initOnce.Do(func() {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("failed to create trace exporter: %w", err)
			return
		}

		if cfg.SamplingRate <= 0 {
			cfg.SamplingRate = 0.1
		}
		if cfg.BatchTimeout <= 0 {
			cfg.BatchTimeout = 5 * time.Second
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		)
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(tracerName)
	})

	return initErr
}

// Tracer returns the shopgraph tracer. A no-op tracer is returned when
// Initialize has not been called.
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.GetTracerProvider().Tracer(tracerName)
	}
	return tracer
}

// StartSpan starts a span with common attributes applied.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan ends a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Shutdown flushes and stops the tracer provider.
func Shutdown(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer: %w", err)
		}
	}
	return nil
}
