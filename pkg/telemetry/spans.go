package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidSpanContext = errors.New("invalid exported span context")

// SpanAttributes is a small builder for span level attributes.
type SpanAttributes struct {
	attrs []attribute.KeyValue
}

func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{}
}

func (s *SpanAttributes) WithExtraAttribute(key string, value any) *SpanAttributes {
	s.attrs = append(s.attrs, toAttribute(key, value))
	return s
}

func (s *SpanAttributes) KeyValues() []attribute.KeyValue {
	if s == nil {
		return nil
	}
	return s.attrs
}

// EventAttributes are attached to a single span event.
type EventAttributes map[string]any

func (e EventAttributes) KeyValues() []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(e))
	for k, v := range e {
		kvs = append(kvs, toAttribute(k, v))
	}
	return kvs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	case error:
		return attribute.String(key, v.Error())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

type TelemetryTracer struct {
	ctx    context.Context
	tracer trace.Tracer
	name   string
	span   trace.Span
}

func NewTelemetryTracer(ctx context.Context, tracer trace.Tracer, spanName string) Tracer {
	return &TelemetryTracer{ctx: ctx, tracer: tracer, name: spanName}
}

// NewTelemetryTracerFrom rebuilds a tracer whose context carries the remote
// span produced by Export.
func NewTelemetryTracerFrom(ctx context.Context, tracer trace.Tracer, exported string) (Tracer, error) {
	carrier := propagation.MapCarrier{"traceparent": exported}
	remote := propagation.TraceContext{}.Extract(ctx, carrier)
	if !trace.SpanContextFromContext(remote).IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSpanContext, exported)
	}
	return &TelemetryTracer{ctx: remote, tracer: tracer, name: "remote"}, nil
}

func (t *TelemetryTracer) Start() {
	if t.span != nil {
		return
	}
	t.ctx, t.span = t.tracer.Start(t.ctx, t.name)
}

func (t *TelemetryTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	if t.span != nil {
		t.span.SetAttributes(attributes.KeyValues()...)
	}
	return t
}

func (t *TelemetryTracer) AddEvent(name string, attributes EventAttributes) {
	if t.span != nil {
		t.span.AddEvent(name, trace.WithAttributes(attributes.KeyValues()...))
	}
}

func (t *TelemetryTracer) SetStatus(code codes.Code, message string) {
	if t.span != nil {
		t.span.SetStatus(code, message)
	}
}

// Spawn returns an unstarted child of this span.
func (t *TelemetryTracer) Spawn(spanName string) Tracer {
	return &TelemetryTracer{ctx: t.ctx, tracer: t.tracer, name: spanName}
}

// Export serializes the current span context as a W3C traceparent.
func (t *TelemetryTracer) Export() string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(t.ctx, carrier)
	return carrier.Get("traceparent")
}

func (t *TelemetryTracer) End() {
	if t.span != nil {
		t.span.End()
	}
}
