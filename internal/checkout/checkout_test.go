package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-session/internal/domain"
)

type recordingWriter struct {
	msgs []kafkaGo.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type recordingClearer struct {
	mu     sync.Mutex
	owners []string
}

func (c *recordingClearer) ClearOwner(_ context.Context, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = append(c.owners, owner)
}

func (c *recordingClearer) Owners() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.owners...)
}

type scriptedReader struct {
	msgs []kafkaGo.Message
	err  error
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	if len(r.msgs) == 0 {
		if r.err != nil {
			return kafkaGo.Message{}, r.err
		}
		<-ctx.Done()
		return kafkaGo.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) Close() error { return nil }

func TestPublish_WritesSnapshotKeyedByUser(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w}

	snap := Snapshot{
		CheckoutID: "c-1",
		UserID:     "user-1",
		Items:      []domain.LineItem{{ID: 1, Name: "Croissant", UnitPrice: 2.5, Quantity: 2, Stock: 9}},
		Total:      5,
		ItemCount:  2,
		CreatedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), snap))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "user-1", string(w.msgs[0].Key))
	assert.Equal(t, "CheckoutRequested", string(w.msgs[0].Headers[0].Value))

	var got Snapshot
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, snap, got)
}

func TestPublish_WriterError(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), Snapshot{UserID: "u"})
	assert.ErrorContains(t, err, "publish snapshot failed")
}

func TestConsumer_ClearsCartForCompletedCheckout(t *testing.T) {
	clearer := &recordingClearer{}
	reader := &scriptedReader{msgs: []kafkaGo.Message{
		{Value: []byte(`{"checkout_id":"c-1","user_id":"user-1","items":[]}`)},
		{Value: []byte(`not json`)},
		{Value: []byte(`{"checkout_id":"c-2"}`)},
		{Value: []byte(`{"checkout_id":"c-3","user_id":"user-2"}`)},
	}}
	c := &Consumer{reader: reader, clearer: clearer, log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(clearer.Owners()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"user-1", "user-2"}, clearer.Owners())
}

func TestConsumer_ReadErrorIsLogged(t *testing.T) {
	clearer := &recordingClearer{}
	c := &Consumer{reader: &scriptedReader{err: errors.New("rebalance")}, clearer: clearer, log: zap.NewNop()}

	c.processMessage(context.Background())
	assert.Empty(t, clearer.Owners())
}

func TestKafkaRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Kafka container test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	defer func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}()

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	writer := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers...),
		Topic:                  CompletedTopic,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	payload := []byte(`{"checkout_id":"c-9","user_id":"user-9"}`)
	require.Eventually(t, func() bool {
		return writer.WriteMessages(ctx, kafkaGo.Message{Key: []byte("c-9"), Value: payload}) == nil
	}, 30*time.Second, 500*time.Millisecond)

	clearer := &recordingClearer{}
	consumer := NewConsumer(clearer, zap.NewNop(), brokers...)
	defer consumer.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go consumer.Run(runCtx)

	require.Eventually(t, func() bool { return len(clearer.Owners()) == 1 }, 60*time.Second, 200*time.Millisecond)
	assert.Equal(t, "user-9", clearer.Owners()[0])
}
