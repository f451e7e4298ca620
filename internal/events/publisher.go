// Package events publishes settlement notifications after a ledger
// transaction has committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TransferCompleted   = "transfer.completed"
	DepositCompleted    = "deposit.completed"
	WithdrawalCompleted = "withdrawal.completed"
	P2POrderCreated     = "p2p.order.created"
	P2POrderPaid        = "p2p.order.paid"
	P2POrderCompleted   = "p2p.order.completed"
	P2POrderCancelled   = "p2p.order.cancelled"
	P2POrderDisputed    = "p2p.order.disputed"
	P2POrderResolved    = "p2p.order.resolved"
	TradeMarketFilled   = "trade.market.filled"
	TradeLimitPlaced    = "trade.limit.placed"
	TradeLimitFilled    = "trade.limit.filled"
	TradeLimitCancelled = "trade.limit.cancelled"
)

type Event struct {
	Type        string            `json:"type"`
	ReferenceID string            `json:"reference_id"`
	Subject     string            `json:"subject,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by reference id, so
// every event of one settlement lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.ReferenceID),
			Value: b,
			Time:  ev.OccurredAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d events: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
