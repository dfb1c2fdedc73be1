package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/point-engine/point"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() point.Event {
	return point.Event{
		Operation: point.OpCancelUse,
		UserID:    "user-1",
		WalletID:  "w-1",
		Balance:   1400,
		Entries: []point.LedgerEntry{
			{ID: "e-1", WalletID: "w-1", Kind: point.EntryUseCancel, Amount: 100},
			{ID: "e-2", WalletID: "w-1", Kind: point.EntryEarn, Amount: 1000},
		},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "user-1", string(msg.Key))

	var got LedgerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "cancel_use", got.Operation)
	assert.Equal(t, "w-1", got.WalletID)
	assert.Equal(t, int64(1400), got.Balance)
	assert.Equal(t, []EntryRecord{
		{ID: "e-1", Kind: "USE_CANCEL", Amount: 100},
		{ID: "e-2", Kind: "EARN", Amount: 1000},
	}, got.Entries)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	err := NewKafkaPublisher(w).Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "broker down")
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafkaPublisher(w).Close())
	assert.True(t, w.closed)
}

func TestHeaderCarrier_CarriesTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var headers []kafka.Header
	prop := propagation.TraceContext{}
	prop.Inject(ctx, headerCarrier{&headers})

	require.NotEmpty(t, headers)
	extracted := prop.Extract(context.Background(), headerCarrier{&headers})
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}
