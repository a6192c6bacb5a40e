package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// KafkaExporter publishes delivered leads as JSON records.
type KafkaExporter struct {
	producer sarama.SyncProducer
	topic    string
}

type exportRecord struct {
	ID         string    `json:"id"`
	ExportedAt time.Time `json:"exported_at"`
	Lead       Lead      `json:"lead"`
}

// NewKafkaExporter connects a synchronous producer to brokers.
func NewKafkaExporter(brokers []string, topic string) (*KafkaExporter, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka exporter: at least one broker is required")
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = "leadbot"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka exporter: create producer: %w", err)
	}
	return NewKafkaExporterWithProducer(p, topic), nil
}

// NewKafkaExporterWithProducer wraps an existing producer.
func NewKafkaExporterWithProducer(p sarama.SyncProducer, topic string) *KafkaExporter {
	if topic == "" {
		topic = "leads"
	}
	return &KafkaExporter{producer: p, topic: topic}
}

// Export sends l keyed by chat and message id, so one source message always
// lands in the same partition.
func (e *KafkaExporter) Export(ctx context.Context, l Lead) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(exportRecord{ID: uuid.NewString(), ExportedAt: time.Now().UTC(), Lead: l})
	if err != nil {
		return fmt.Errorf("encoding lead: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d:%d", l.ChatID, l.MessageID)),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := e.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka exporter: send: %w", err)
	}
	return nil
}

func (e *KafkaExporter) Close() error { return e.producer.Close() }
