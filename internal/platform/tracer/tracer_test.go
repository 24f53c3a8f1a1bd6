package tracer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"privacyhub/internal/platform/config"
	"privacyhub/internal/platform/tracer"
)

func TestNoopTracer(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanDSRVerify, tracer.String(tracer.AttrRequestID, "r-1"))
	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Bool("flag", true))
	span.AddEvent(tracer.EventMailSent, tracer.Int64("attempt", 1))
	span.End(errors.New("boom"))
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tr := tracer.NewOTel(tracer.WithOTelTracer(provider.Tracer("test")))

	_, span := tr.Start(context.Background(), tracer.SpanDSRSubmit,
		tracer.String(tracer.AttrRegulation, "GDPR"),
		tracer.Int64("sla_days", 30),
	)
	span.AddEvent(tracer.EventMailSent)
	span.End(nil)

	_, failed := tr.Start(context.Background(), tracer.SpanDSRVerify)
	failed.End(errors.New("invalid token"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, tracer.SpanDSRSubmit, ended[0].Name())
	assert.Len(t, ended[0].Attributes(), 2)
	assert.Len(t, ended[0].Events(), 1)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)

	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "invalid token", ended[1].Status().Description)
}

func TestAttributeConstructors(t *testing.T) {
	assert.Equal(t, tracer.Attribute{Key: "k", Value: "v"}, tracer.String("k", "v"))
	assert.Equal(t, int64(150), tracer.Duration("latency", 150_000_000).Value)
	assert.Equal(t, 0.5, tracer.Float64("ratio", 0.5).Value)
}

func TestSetup(t *testing.T) {
	t.Run("disabled installs noop", func(t *testing.T) {
		shutdown, err := tracer.Setup(context.Background(), config.Tracing{})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout exporter", func(t *testing.T) {
		shutdown, err := tracer.Setup(context.Background(), config.Tracing{Enabled: true, Exporter: "stdout", SampleRatio: 1})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := tracer.Setup(context.Background(), config.Tracing{Enabled: true, Exporter: "zipkin"})
		assert.Error(t, err)
	})
}
