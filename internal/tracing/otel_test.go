package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	attrs := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	return attrs
}

func TestStartSpanStampsRunContext(t *testing.T) {
	recorder := newSpanRecorder(t)

	ctx := WithInvocationID(context.Background(), "inv-1")
	ctx = WithAgentName(ctx, "billing")

	ctx, span := StartSpan(ctx, "runner.run", attribute.String("session_id", "s1"))
	span.End()

	assert.NotEmpty(t, GetTraceID(ctx), "trace id is mirrored into the context")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "runner.run", spans[0].Name())

	attrs := spanAttributes(spans[0])
	assert.Equal(t, "inv-1", attrs["invocation_id"])
	assert.Equal(t, "billing", attrs["agent"])
	assert.Equal(t, "s1", attrs["session_id"])
}

func TestStartSpanWithoutRunContext(t *testing.T) {
	recorder := newSpanRecorder(t)

	_, span := StartSpan(context.Background(), "session.get")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Empty(t, spans[0].Attributes())
}
