// Package checkout hands cart snapshots to the order pipeline and clears carts
// once the pipeline reports a completed checkout.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_cart/cart-session/internal/domain"
)

const (
	SnapshotTopic  = "cart-checkout-requested"
	CompletedTopic = "checkout-outbox"
)

// Snapshot is the copy of the cart taken when the customer starts checkout.
type Snapshot struct {
	CheckoutID string            `json:"checkout_id"`
	UserID     string            `json:"user_id"`
	Items      []domain.LineItem `json:"items"`
	Total      float64           `json:"total_amount"`
	ItemCount  int               `json:"item_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  SnapshotTopic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(s.UserID), // per-user ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("CheckoutRequested")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish snapshot failed: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops snapshots. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Snapshot) error { return nil }
