package reportsink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/go-petr/pet-ledger/internal/domain"
)

// Kafka publishes reports as JSON messages keyed by account id,
// so that per-account order is kept within a partition.
type Kafka struct {
	audit *kafka.Writer
	recon *kafka.Writer
}

// NewKafka returns a Kafka sink writing audit records and mismatches to separate topics.
func NewKafka(brokers []string, auditTopic, reconTopic string) *Kafka {
	return &Kafka{
		audit: newWriter(brokers, auditTopic),
		recon: newWriter(brokers, reconTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		WriteTimeout: time.Second,
	}
}

// EmitAudit implements Sink.
func (k *Kafka) EmitAudit(ctx context.Context, rec domain.AuditRecord) error {
	return publish(ctx, k.audit, rec.AccountID, rec)
}

// EmitMismatch implements Sink.
func (k *Kafka) EmitMismatch(ctx context.Context, m domain.Mismatch) error {
	return publish(ctx, k.recon, m.AccountID, m)
}

// Close flushes pending messages and closes both writers.
func (k *Kafka) Close() error {
	errAudit := k.audit.Close()
	errRecon := k.recon.Close()

	if errAudit != nil {
		return errAudit
	}

	return errRecon
}

func publish(ctx context.Context, w *kafka.Writer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msgf("publish to %s", w.Topic)
		return err
	}

	return nil
}
