package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/moneta-app/wallet/backend/internal/entities"
)

// KafkaPublisher emits transaction events to a Kafka topic, keyed by user
// so each user's events stay ordered. Publishing is best-effort; a broker
// outage never fails the transfer that produced the event.
type KafkaPublisher struct {
	logger *slog.Logger
	writer *kafka.Writer
}

func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		logger: logger,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) PublishTransactionEvent(ctx context.Context, event entities.TransactionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to marshal transaction event",
			"transaction_id", event.TransactionID, "error", err)
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.UserID, 10)),
		Value: data,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish transaction event",
			"transaction_id", event.TransactionID, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
