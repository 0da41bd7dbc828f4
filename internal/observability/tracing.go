// Package observability sets up OpenTelemetry tracing for retrievals.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of every campusrag span.
const TracerName = "campusrag"

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0).
	SampleRate float64
}

func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "campusrag",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing. It returns a no-op tracer
// if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartRetrievalSpan starts the span covering one coordinated retrieval.
func StartRetrievalSpan(ctx context.Context, retrievalID string, matchCount int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "retrieval",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("retrieval.id", retrievalID),
			attribute.Int("retrieval.match_count", matchCount),
		),
	)
}

// RecordRoute records the routing decision on a retrieval span.
func RecordRoute(span trace.Span, domains []string, broadcast bool, reason string) {
	span.SetAttributes(
		attribute.StringSlice("route.domains", domains),
		attribute.Bool("route.broadcast", broadcast),
		attribute.String("route.reason", reason),
	)
}

// RecordRetrieval records the final state of a retrieval.
func RecordRetrieval(span trace.Span, state string, results int, partial bool) {
	span.SetAttributes(
		attribute.String("retrieval.state", state),
		attribute.Int("retrieval.results", results),
		attribute.Bool("retrieval.partial", partial),
	)
}

// StartSearchSpan starts a span for one domain search.
func StartSearchSpan(ctx context.Context, domain string, matchCount int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "search."+domain,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("search.domain", domain),
			attribute.Int("search.match_count", matchCount),
		),
	)
}

// RecordSearchResult records how a domain search ended.
func RecordSearchResult(span trace.Span, status string, results int) {
	span.SetAttributes(
		attribute.String("search.status", status),
		attribute.Int("search.results", results),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
