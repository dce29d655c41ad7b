package clients

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"discshop/internal/purchase"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestSalePublisherWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	publisher := NewSalePublisherWithWriter(writer)
	sale := purchase.Sale{ItemID: 42, Artist: "Hole", Title: "Live Through This", Quantity: 1}

	require.NoError(t, publisher.NotifySale(context.Background(), sale))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	var got purchase.Sale
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, sale, got)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte("ItemSold")})

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestSalePublisherPropagatesTraceContext(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(previous)

	provider := sdktrace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "purchase")
	defer span.End()

	writer := &fakeWriter{}
	require.NoError(t, NewSalePublisherWithWriter(writer).NotifySale(ctx, purchase.Sale{ItemID: 1, Quantity: 1}))

	headers := map[string]string{}
	for _, h := range writer.messages[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Contains(t, headers["traceparent"], span.SpanContext().TraceID().String())
}

func TestSalePublisherWrapsWriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	err := NewSalePublisherWithWriter(writer).NotifySale(context.Background(), purchase.Sale{ItemID: 1})
	assert.ErrorContains(t, err, "broker unavailable")
}
