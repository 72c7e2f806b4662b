// Package events publishes payment state changes for downstream consumers such as
// the booking and ledger services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StateChanged is published whenever a payment, hold or refund changes status.
type StateChanged struct {
	ID             string               `json:"id"`
	Operation      string               `json:"operation"`
	Provider       models.Provider      `json:"provider"`
	Status         status.PaymentStatus `json:"status"`
	PreviousStatus status.PaymentStatus `json:"previous_status,omitempty"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency"`
	Code           models.ErrorCode     `json:"code,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev *StateChanged) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by id so every change of one payment lands on the same partition.
type KafkaPublisher struct {
	w   messageWriter
	log *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *StateChanged) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(ev.Operation)},
			{Key: "provider", Value: []byte(ev.Provider)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s event for %s: %w", ev.Operation, ev.ID, err)
	}

	p.log.Debug("payment state published",
		zap.String("id", ev.ID),
		zap.String("operation", ev.Operation),
		zap.String("from_state", string(ev.PreviousStatus)),
		zap.String("to_state", string(ev.Status)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *StateChanged) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
