// Package kafka carries build requests and status records over Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Producer publishes messages to a single Kafka topic.
type Producer struct {
	producer *kafka.Producer
	topic    string
}

// NewProducer connects to the brokers at bootstrapServers and publishes
// to topic.
func NewProducer(bootstrapServers, topic string) (*Producer, error) {
	if bootstrapServers == "" {
		return nil, errors.New("empty kafka bootstrap servers")
	}
	if topic == "" {
		return nil, errors.New("empty kafka topic")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	// Drain the global event channel so transport-level errors are
	// logged. Per-message delivery reports go to Publish's own channel.
	go func() {
		for e := range p.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					slog.Error("kafka delivery failed", "topic", topic, "err", ev.TopicPartition.Error)
				}
			case kafka.Error:
				slog.Error("kafka producer error", "code", ev.Code(), "err", ev)
			}
		}
	}()

	return &Producer{producer: p, topic: topic}, nil
}

// Publish sends one message and waits for its delivery report, so a
// broker failure surfaces to the caller instead of being dropped in the
// background.
func (p *Producer) Publish(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", p.topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages for up to five seconds, then releases
// the producer.
func (p *Producer) Close() {
	p.producer.Flush(5000)
	p.producer.Close()
}
