package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "chatty", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))

	ctx, span := TraceEvent(context.Background(), "groups:getAll", "c1", "alice")
	defer span.End()
	assert.Empty(t, TraceID(ctx))
}

func TestTraceEvent_Recorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := TraceEvent(context.Background(), "channels:message", "c1", "alice")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(ctx, errors.New("boom"))
	span.End()

	_, storeSpan := TraceStoreOperation(ctx, "put", "groups")
	storeSpan.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "ws.channels:message", ended[0].Name())
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Equal(t, "store.put", ended[1].Name())
	assert.Equal(t, ended[0].SpanContext().TraceID(), ended[1].Parent().TraceID())
}
