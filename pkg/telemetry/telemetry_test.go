package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type fakeTelemetry struct {
	tracer trace.Tracer
}

func (f *fakeTelemetry) GetTracer() trace.Tracer { return f.tracer }
func (f *fakeTelemetry) GetLogger() log.Logger   { return nil }

func TestFactoryWithoutTelemetryReturnsDummy(t *testing.T) {
	factory := NewTracerFactory(TracerFactoryParams{})
	tracer := factory.NewTracer(context.Background(), "worker")
	assert.IsType(t, &DummyTracer{}, tracer)
	assert.Empty(t, tracer.Export())
}

func TestFromContextFallsBack(t *testing.T) {
	assert.IsType(t, &DummyTracer{}, FromContext(context.Background()))

	factory := NewTracerFactory(TracerFactoryParams{})
	tracer := factory.NewTracer(context.Background(), "worker")
	ctx := context.WithValue(context.Background(), TracerKey{}, tracer)
	assert.Same(t, tracer, FromContext(ctx))
}

func TestExportAndSpawnFrom(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	factory := NewTracerFactory(TracerFactoryParams{Telemetry: &fakeTelemetry{provider.Tracer("test")}})

	parent := factory.NewTracer(context.Background(), "launcher")
	parent.Start()
	exported := parent.Export()
	require.NotEmpty(t, exported)

	child := factory.NewTracerSpawnedFrom(context.Background(), exported, "worker")
	child.Start()
	child.WithAttributes(EmptySpanAttributes().WithExtraAttribute("worker_id", 3))
	child.AddEvent("seeded", EventAttributes{"count": 1})
	child.End()
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "worker", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().TraceID(), spans[0].Parent().TraceID())
}

func TestSpawnFromGarbageStartsRoot(t *testing.T) {
	provider := sdktrace.NewTracerProvider()
	factory := NewTracerFactory(TracerFactoryParams{Telemetry: &fakeTelemetry{provider.Tracer("test")}})
	tracer := factory.NewTracerSpawnedFrom(context.Background(), "garbage", "worker")
	tracer.Start()
	defer tracer.End()
	assert.NotEmpty(t, tracer.Export())
}
