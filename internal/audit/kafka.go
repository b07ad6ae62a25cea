package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"notifyrelay/internal/notify"
)

// Kafka publishes entries as JSON, keyed by contact id so a contact's history
// stays in one partition.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (k *Kafka) AppendAudit(ctx context.Context, e notify.AuditEntry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.ContactID), Value: value, Time: e.At}); err != nil {
		return fmt.Errorf("kafka audit: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }
