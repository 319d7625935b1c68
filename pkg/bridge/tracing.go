package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingManager handles OpenTelemetry tracing setup and operations
type TracingManager struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	provider   *sdktrace.TracerProvider
	enabled    bool
}

// NewTracingManager creates a new tracing manager. A nil or disabled config
// yields a manager whose operations are no-ops.
func NewTracingManager(config *TracingConfig) (*TracingManager, error) {
	if config == nil || !config.Enabled {
		return &TracingManager{enabled: false}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	return newTracingManager(tp, propagator), nil
}

func newTracingManager(tp *sdktrace.TracerProvider, propagator propagation.TextMapPropagator) *TracingManager {
	return &TracingManager{
		tracer:     tp.Tracer("envbridge"),
		propagator: propagator,
		provider:   tp,
		enabled:    true,
	}
}

// Enabled reports whether spans are recorded
func (tm *TracingManager) Enabled() bool {
	return tm != nil && tm.enabled
}

// StartSpan starts a new span with the given name and attributes
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !tm.Enabled() {
		return ctx, trace.SpanFromContext(ctx)
	}

	return tm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// InjectProcessEnv injects trace context into process environment variables.
// Carrier keys are upper-cased (TRACEPARENT, TRACESTATE, BAGGAGE) so the
// worker can read them the way it reads any other variable. Entries already
// in env keep their order; injected ones are appended.
func (tm *TracingManager) InjectProcessEnv(ctx context.Context, env []string) []string {
	if !tm.Enabled() {
		return env
	}

	carrier := envCarrierFrom(env)
	tm.propagator.Inject(ctx, carrier)
	return carrier.slice()
}

// ExtractProcessEnv extracts trace context from process environment variables
func (tm *TracingManager) ExtractProcessEnv(ctx context.Context, env []string) context.Context {
	if !tm.Enabled() {
		return ctx
	}

	return tm.propagator.Extract(ctx, envCarrierFrom(env))
}

// AddSpanAttributes adds attributes to the current span
func (tm *TracingManager) AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if !tm.Enabled() {
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError records an error on the current span and marks it failed
func (tm *TracingManager) RecordError(ctx context.Context, err error) {
	if !tm.Enabled() || err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes pending spans and stops the exporter
func (tm *TracingManager) Shutdown(timeout time.Duration) error {
	if !tm.Enabled() || tm.provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return tm.provider.Shutdown(ctx)
}

// envCarrier implements propagation.TextMapCarrier over KEY=VALUE entries
type envCarrier struct {
	order  []string
	values map[string]string
}

func envCarrierFrom(env []string) *envCarrier {
	c := &envCarrier{values: make(map[string]string, len(env))}
	for _, e := range env {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if _, seen := c.values[key]; !seen {
			c.order = append(c.order, key)
		}
		c.values[key] = value
	}
	return c
}

func (c *envCarrier) Get(key string) string {
	return c.values[strings.ToUpper(key)]
}

func (c *envCarrier) Set(key, value string) {
	key = strings.ToUpper(key)
	if _, seen := c.values[key]; !seen {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

func (c *envCarrier) Keys() []string {
	keys := make([]string, 0, len(c.order))
	for _, k := range c.order {
		keys = append(keys, strings.ToLower(k))
	}
	return keys
}

func (c *envCarrier) slice() []string {
	out := make([]string, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, k+"="+c.values[k])
	}
	return out
}
