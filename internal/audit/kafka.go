package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client the emitter uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaEmitter publishes events as JSON records keyed by subject, so one
// subject's decisions stay ordered within a partition.
type KafkaEmitter struct {
	producer Producer
	topic    string
}

func NewKafkaEmitter(producer Producer, topic string) *KafkaEmitter {
	return &KafkaEmitter{producer: producer, topic: topic}
}

func (k *KafkaEmitter) Emit(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	record := &kgo.Record{
		Topic:     k.topic,
		Key:       []byte(e.Subject),
		Value:     payload,
		Timestamp: e.Timestamp,
		Headers:   []kgo.RecordHeader{{Key: "action", Value: []byte(e.Action)}},
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// NewKafkaClient connects a producer for the audit topic.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}
