// Package tracing wires the gateway into OpenTelemetry: one trace per
// inbound message, with spans for the root agent turn, each provider call,
// and each tool execution nested underneath it. Grounded on a prior
// Postgres-backed span collector's span shape (root "agent" span parenting
// llm_call/tool_call children, one trace ID per turn), rebuilt here on the
// real go.opentelemetry.io/otel SDK rather than a bespoke store, since this
// gateway has no managed-mode Postgres trace table to write through.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/config"
)

const tracerName = "github.com/parleyhq/parley"

// noopShutdown is returned when telemetry is disabled, so callers can
// unconditionally defer the returned function.
func noopShutdown(context.Context) error { return nil }

// Init configures the global TracerProvider from cfg. When cfg.Enabled is
// false it leaves the existing (no-op) global provider in place and
// returns a no-op shutdown func, so callers always have something safe to
// defer.
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, fmt.Errorf("tracing: create exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "parley"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	client := otlptracegrpc.NewClient(opts...)
	return otlptrace.New(ctx, client)
}

// Tracer starts the spans the agent loop needs, narrowed to the three
// call sites it has (turn, provider call, tool call) so internal/agent
// depends on this interface rather than the otel API directly — the same
// narrow-dependency shape as agent.Dispatcher and agent.RoutineObserver.
type Tracer interface {
	StartTurn(ctx context.Context, traceID, roomID, botName string) (context.Context, func(err error))
	StartProviderCall(ctx context.Context, provider, model string, iteration int) (context.Context, func(err error))
	StartToolCall(ctx context.Context, toolName string) (context.Context, func(err error))
}

// otelTracer implements Tracer against the global TracerProvider set by
// Init (or the SDK's built-in no-op provider when tracing is disabled).
type otelTracer struct {
	tracer trace.Tracer
}

// New returns a Tracer bound to the current global TracerProvider. Safe to
// call whether or not Init configured a real exporter: with no exporter,
// spans are created and immediately discarded at effectively zero cost.
func New() Tracer {
	return &otelTracer{tracer: otel.Tracer(tracerName)}
}

// noopFinish is the finisher returned by Noop's span starters.
func noopFinish(error) {}

type noopTracer struct{}

func (noopTracer) StartTurn(ctx context.Context, _, _, _ string) (context.Context, func(error)) {
	return ctx, noopFinish
}

func (noopTracer) StartProviderCall(ctx context.Context, _, _ string, _ int) (context.Context, func(error)) {
	return ctx, noopFinish
}

func (noopTracer) StartToolCall(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, noopFinish
}

// Noop returns a Tracer that takes every span call but records nothing,
// used as Engine.Tracer's zero-value-safe default when a caller builds an
// Engine without going through an explicit wiring step.
func Noop() Tracer {
	return noopTracer{}
}

func (t *otelTracer) StartTurn(ctx context.Context, traceID, roomID, botName string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("parley.trace_id", traceID),
		attribute.String("parley.room_id", roomID),
		attribute.String("parley.bot", botName),
	))
	return ctx, finisher(span)
}

func (t *otelTracer) StartProviderCall(ctx context.Context, provider, model string, iteration int) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("parley.provider", provider),
		attribute.String("parley.model", model),
		attribute.Int("parley.iteration", iteration),
	))
	return ctx, finisher(span)
}

func (t *otelTracer) StartToolCall(ctx context.Context, toolName string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "tool."+toolName, trace.WithAttributes(
		attribute.String("parley.tool", toolName),
	))
	return ctx, finisher(span)
}

func finisher(span trace.Span) func(error) {
	start := time.Now()
	return func(err error) {
		span.SetAttributes(attribute.Int64("parley.duration_ms", time.Since(start).Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("parley.error", true))
		}
		span.End()
	}
}
