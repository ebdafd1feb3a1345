package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter — часть kafka.Writer, используемая публикатором.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик Kafka в формате JSON.
// Ключ сообщения — Subject, поэтому события одной сущности попадают
// в одну партицию и сохраняют порядок.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaPublisher создаёт публикатор для брокеров brokers и топика topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaPublisher(w, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		timeout: 5 * time.Second,
		logger:  logger.With(slog.String("component", "kafka_publisher")),
	}
}

// Publish сериализует событие и синхронно записывает его в топик.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("сериализация события %s: %w", e.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Subject),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("запись события %s в Kafka: %w", e.Type, err)
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("type", e.Type),
		slog.String("subject", e.Subject),
		slog.String("topic", p.topic),
	)
	return nil
}

// Close закрывает writer, дожидаясь отправки буферизованных сообщений.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
