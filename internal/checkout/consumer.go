package checkout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CartClearer empties every stored and live cart of a user.
type CartClearer interface {
	ClearOwner(ctx context.Context, owner string)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer listens for completed checkouts and clears the buyer's cart.
type Consumer struct {
	reader  messageReader
	clearer CartClearer
	log     *zap.Logger
}

func NewConsumer(clearer CartClearer, log *zap.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    CompletedTopic,
		GroupID:  "cart-session-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, clearer: clearer, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.Warn("error reading message", zap.Error(err))
		return
	}
	c.handle(ctx, m.Value)
}

func (c *Consumer) handle(ctx context.Context, value []byte) {
	var payload struct {
		CheckoutID string `json:"checkout_id"`
		UserID     string `json:"user_id"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		c.log.Warn("error parsing message", zap.Error(err))
		return
	}
	if payload.UserID == "" {
		c.log.Warn("missing or invalid user_id", zap.String("checkout_id", payload.CheckoutID))
		return
	}

	c.clearer.ClearOwner(ctx, payload.UserID)
	c.log.Info("cart cleared after checkout",
		zap.String("user_id", payload.UserID),
		zap.String("checkout_id", payload.CheckoutID),
	)
}
