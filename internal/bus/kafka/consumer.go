package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// MessageHandler processes one consumed record. Returning an error marks
// the record rejected; it does not stop consumption.
type MessageHandler func(key, value []byte) error

// Consumer reads records from a single Kafka topic.
type Consumer struct {
	consumer *kafka.Consumer
	topic    string
}

// NewConsumer joins the consumer group groupID at bootstrapServers and
// reads topic from the earliest unseen offset.
func NewConsumer(bootstrapServers, groupID, topic string) (*Consumer, error) {
	if bootstrapServers == "" {
		return nil, errors.New("empty kafka bootstrap servers")
	}
	if groupID == "" {
		return nil, errors.New("empty kafka group id")
	}
	if topic == "" {
		return nil, errors.New("empty kafka topic")
	}
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": "true",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{consumer: c, topic: topic}, nil
}

// Run polls the topic until ctx is cancelled, passing each record to
// handler. Handler errors are logged and consumption continues; the loop
// only stops on cancellation or when all brokers are down.
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	if err := c.consumer.SubscribeTopics([]string{c.topic}, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	for ctx.Err() == nil {
		ev := c.consumer.Poll(100)
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(e.Key, e.Value); err != nil {
				slog.Error("bus record rejected", "topic", c.topic, "err", err)
			}
		case kafka.Error:
			slog.Error("kafka consumer error", "code", e.Code(), "err", e)
			if e.Code() == kafka.ErrAllBrokersDown {
				return e
			}
		}
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
