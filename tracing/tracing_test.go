package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInit_WithoutEndpoint(t *testing.T) {
	// GIVEN no collector endpoint
	tp, err := Init("pointd-test", "")
	require.NoError(t, err)
	require.NotNil(t, tp)
	defer Shutdown(context.Background(), tp)

	// WHEN a span is started through the global provider
	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	// THEN it is sampled and its context propagates through headers
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))

	tp, err := Init("pointd-test", "")
	require.NoError(t, err)
	assert.NoError(t, Shutdown(context.Background(), tp))
}
