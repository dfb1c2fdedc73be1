/*
Package events publishes committed ledger entries to Kafka.

MESSAGE:
  key     user id, so one partition carries a user's history in order
  value   JSON LedgerEvent
  headers W3C trace context of the operation that committed the entries

Publishing happens after commit. A lost message never loses points: the
database remains the source of truth and consumers can rebuild from it.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/warp/point-engine/point"
)

// Writer is the part of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that hashes keys onto partitions.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// LedgerEvent is the wire form of point.Event.
type LedgerEvent struct {
	Operation  string        `json:"operation"`
	UserID     string        `json:"user_id"`
	WalletID   string        `json:"wallet_id"`
	Balance    int64         `json:"balance"`
	Entries    []EntryRecord `json:"entries"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type EntryRecord struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

func toLedgerEvent(ev point.Event) LedgerEvent {
	out := LedgerEvent{
		Operation:  ev.Operation,
		UserID:     ev.UserID,
		WalletID:   string(ev.WalletID),
		Balance:    ev.Balance,
		Entries:    make([]EntryRecord, 0, len(ev.Entries)),
		OccurredAt: ev.OccurredAt.UTC(),
	}
	for _, e := range ev.Entries {
		out.Entries = append(out.Entries, EntryRecord{ID: string(e.ID), Kind: string(e.Kind), Amount: e.Amount})
	}
	return out
}

// KafkaPublisher implements point.Publisher.
type KafkaPublisher struct {
	writer Writer
}

var _ point.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev point.Event) error {
	value, err := json.Marshal(toLedgerEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	msg := kafka.Message{Key: []byte(ev.UserID), Value: value}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{&msg.Headers})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write ledger event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts Kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
