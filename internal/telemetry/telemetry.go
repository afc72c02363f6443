// Package telemetry wraps OpenTelemetry span creation behind a small
// interface, the same abstraction shape the retrieved goa-ai runtime uses to
// keep call sites agnostic of the underlying tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span is an in-flight trace span, narrowed to what a tools/call, resolve,
// or lifecycle event needs to record.
type Span interface {
	End()
	SetStatus(code codes.Code, description string)
	RecordError(err error)
	SetAttribute(key string, value any)
}

// Tracer starts spans for the hub's own operations: one span per
// tools/call, resources/read, or prompts/get routed through the Router,
// named and attributed so a trace backend can show which upstream served
// each downstream call.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
	Shutdown(ctx context.Context) error
}

type otelTracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewStdout builds a Tracer that writes spans to w as newline-delimited
// JSON, for deployments with no OTLP collector endpoint to send spans
// to. Passing a nil w disables span emission
// (io.Discard) while keeping span/context plumbing live, useful for tests
// that only want to assert on attributes set along the way.
func NewStdout(w io.Writer) (Tracer, error) {
	if w == nil {
		w = io.Discard
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return &otelTracer{tracer: provider.Tracer("hatago-hub"), provider: provider}, nil
}

func (t *otelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (t *otelTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End()                                      { s.span.End() }
func (s *otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s *otelSpan) RecordError(err error)                     { s.span.RecordError(err) }
func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// noopTracer is used when tracing is disabled entirely (spec's Non-goals
// permit running with no tracer configured).
type noopTracer struct{}

// NewNoop returns a Tracer whose spans do nothing, for deployments that
// opt out of tracing.
func NewNoop() Tracer { return noopTracer{} }

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopTracer) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End()                                  {}
func (noopSpan) SetStatus(codes.Code, string)          {}
func (noopSpan) RecordError(error)                     {}
func (noopSpan) SetAttribute(string, any)              {}
