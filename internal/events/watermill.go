package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// Watermill publishes events through any watermill message.Publisher.
type Watermill struct {
	publisher message.Publisher
	topic     string
}

// NewWatermill wraps publisher; every event goes to topic.
func NewWatermill(publisher message.Publisher, topic string) *Watermill {
	if topic == "" {
		topic = "wallet.verdicts"
	}
	return &Watermill{publisher: publisher, topic: topic}
}

// NewRedisStream publishes to a Redis stream named topic.
func NewRedisStream(client redis.UniversalClient, topic string) (*Watermill, error) {
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}
	return NewWatermill(publisher, topic), nil
}

// Publish implements Publisher.
func (w *Watermill) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", event.Type)
	msg.Metadata.Set("account", event.Account)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (w *Watermill) Close() error {
	return w.publisher.Close()
}
