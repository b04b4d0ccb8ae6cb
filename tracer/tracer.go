package tracer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"recommendations/config"
)

// Provider owns the span pipeline and hands out the tracer and propagator
// used by the HTTP layer.
type Provider struct {
	sdk        *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

type options struct {
	exporter sdktrace.SpanExporter
}

type Option func(*options)

// WithExporter sends spans to exporter instead of the OTLP collector.
func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exporter
	}
}

// InitTracer builds the tracer provider described by cfg. It must be called
// before the listener accepts connections; an error means the service should
// not start.
func InitTracer(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.ServiceName == "" {
		return nil, errors.New("tracer: service name is required")
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.CollectorURL),
			otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
		)
		if err != nil {
			return nil, fmt.Errorf("tracer: failed to create OTLP exporter for %s: %w", cfg.CollectorURL, err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(newProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.TelemetrySDKLanguageGo,
		)),
	)

	return &Provider{
		sdk:        tp,
		tracer:     tp.Tracer(cfg.TracerName),
		propagator: propagation.TraceContext{},
	}, nil
}

// newProcessor hands every ended span to the exporter straight away. Export
// runs on the processor's goroutine so span.End never waits on the collector,
// and spans are dropped when the queue is full.
func newProcessor(exporter sdktrace.SpanExporter) sdktrace.SpanProcessor {
	return sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithMaxExportBatchSize(1),
	)
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// ForceFlush exports every span that has ended so far.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.sdk.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer: shutdown: %w", err)
	}
	return nil
}
