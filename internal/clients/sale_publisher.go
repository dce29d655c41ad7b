// internal/clients/sale_publisher.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"discshop/internal/purchase"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var _ purchase.SaleNotifier = (*SalePublisher)(nil)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SalePublisher publishes completed sales to a Kafka topic, carrying the
// trace context in the message headers.
type SalePublisher struct {
	writer MessageWriter
}

func NewSalePublisher(broker, topic string) *SalePublisher {
	return NewSalePublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		AllowAutoTopicCreation: true,
	})
}

func NewSalePublisherWithWriter(writer MessageWriter) *SalePublisher {
	return &SalePublisher{writer: writer}
}

func (p *SalePublisher) NotifySale(ctx context.Context, sale purchase.Sale) error {
	payload, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("failed to marshal sale: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte("ItemSold")})
	for key, value := range carrier {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	msg := kafka.Message{
		Key:     []byte(strconv.FormatInt(sale.ItemID, 10)),
		Value:   payload,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish sale: %w", err)
	}
	return nil
}

func (p *SalePublisher) Close() error {
	return p.writer.Close()
}
