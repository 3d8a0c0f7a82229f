package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"agripredict/realtime"
)

// BroadcastNotifier pushes events to dashboard clients.
type BroadcastNotifier struct {
	broker *realtime.Broker
}

// NewBroadcastNotifier creates a notifier on top of broker
func NewBroadcastNotifier(broker *realtime.Broker) *BroadcastNotifier {
	return &BroadcastNotifier{broker: broker}
}

// Name implements Notifier
func (n *BroadcastNotifier) Name() string { return "realtime" }

// Notify implements Notifier
func (n *BroadcastNotifier) Notify(_ context.Context, event *PublishEvent) error {
	n.broker.Broadcast(realtime.EventModelPublished, event)
	return nil
}

// Publisher is the subset of cache.RedisClient used for pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisNotifier publishes events on a Redis channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

// NewRedisNotifier creates a notifier publishing to channel
func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Name implements Notifier
func (n *RedisNotifier) Name() string { return "redis" }

// Notify implements Notifier
func (n *RedisNotifier) Notify(ctx context.Context, event *PublishEvent) error {
	if err := n.client.Publish(ctx, n.channel, event); err != nil {
		return fmt.Errorf("redis publish to %s: %w", n.channel, err)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes events to a Kafka topic keyed by generation.
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
}

// NewKafkaNotifier creates a producer for topic on brokers
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}, topic)
}

// NewKafkaNotifierWithWriter wraps an existing writer
func NewKafkaNotifierWithWriter(w MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic}
}

// Name implements Notifier
func (n *KafkaNotifier) Name() string { return "kafka" }

// Notify implements Notifier
func (n *KafkaNotifier) Notify(ctx context.Context, event *PublishEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Generation),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("kafka write to %s: %w", n.topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
