// Package archive appends accepted rate updates to a Kafka topic for
// downstream analytics. Delivery is best-effort and the archive is
// entirely optional; the live pipeline never depends on it.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/pkg/models"
)

type KafkaArchiver struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaArchiver builds an async writer keyed by token so per-instrument
// ordering survives partitioning.
func NewKafkaArchiver(brokers []string, topic string, logger *zap.Logger) *KafkaArchiver {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}
	return &KafkaArchiver{writer: writer, logger: logger}
}

func (a *KafkaArchiver) Record(ctx context.Context, update models.APYUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.Token),
		Value: payload,
	})
}

// Close flushes buffered messages.
func (a *KafkaArchiver) Close() error {
	return a.writer.Close()
}
