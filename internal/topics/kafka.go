package topics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	kafka "github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the forwarder uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka forwarder
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int // -1 for all, 0 for none, 1 for leader
	WriteTimeout time.Duration
}

// KafkaForwarder publishes due messages to a Kafka topic, keyed by message ID
type KafkaForwarder struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaForwarder creates a forwarder with a synchronous kafka-go writer
func NewKafkaForwarder(config KafkaConfig, logger *slog.Logger) (*KafkaForwarder, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", domain.ErrValidationFailed)
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", domain.ErrValidationFailed)
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		WriteTimeout:           config.WriteTimeout,
		AllowAutoTopicCreation: false,
		Async:                  false,
	}
	return NewKafkaForwarderWithWriter(writer, config.Topic, logger), nil
}

// NewKafkaForwarderWithWriter creates a forwarder over an existing writer
func NewKafkaForwarderWithWriter(writer MessageWriter, topic string, logger *slog.Logger) *KafkaForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaForwarder{
		writer: writer,
		topic:  topic,
		logger: logger.With("component", "kafka_forwarder", "kafka_topic", topic),
	}
}

// Handle publishes msg; a write error fails the delivery so the message is retried
func (f *KafkaForwarder) Handle(ctx context.Context, msg *domain.Message) error {
	record := kafka.Message{
		Key:   []byte(msg.MessageID),
		Value: []byte(msg.Content),
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(msg.MessageID)},
			{Key: "topic", Value: []byte(msg.Topic)},
			{Key: "due_at", Value: []byte(msg.DueAt.UTC().Format(time.RFC3339Nano))},
		},
		Time: time.Now(),
	}

	if err := f.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("failed to publish message %s to kafka: %w", msg.MessageID, err)
	}

	f.logger.Info("Message forwarded to kafka", "message_id", msg.MessageID, "topic", msg.Topic)
	return nil
}

// Close flushes and closes the writer
func (f *KafkaForwarder) Close() error {
	if err := f.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
