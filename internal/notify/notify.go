// Package notify pushes payment outcomes to the customer's realtime channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rental-payments/internal/status"
	"rental-payments/models"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notification is what the customer's app receives.
type Notification struct {
	CustomerID    string
	TransactionID string
	Provider      models.Provider
	Status        status.PaymentStatus
	Amount        decimal.Decimal
	Currency      string
	Message       string
}

type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Channel is user-<customer id>, or payment-<transaction id> for guest checkouts.
func Channel(n *Notification) string {
	if n.CustomerID != "" {
		return "user-" + n.CustomerID
	}
	return "payment-" + n.TransactionID
}

func message(n *Notification) map[string]interface{} {
	return map[string]interface{}{
		"type":           "payment_" + strings.ToLower(string(n.Status)),
		"transaction_id": n.TransactionID,
		"provider":       n.Provider.DisplayName(),
		"status":         n.Status,
		"amount":         n.Amount.StringFixed(2),
		"currency":       n.Currency,
		"message":        n.Message,
		"timestamp":      time.Now().Unix(),
	}
}

// PubNubNotifier publishes through PubNub.
type PubNubNotifier struct {
	publish func(channel string, msg interface{}) error
	log     *zap.Logger
}

func NewPubNubNotifier(publishKey, subscribeKey, secretKey string, log *zap.Logger) *PubNubNotifier {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId("rental-payments"))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	pn := pubnub.NewPubNub(cfg)

	return &PubNubNotifier{
		publish: func(channel string, msg interface{}) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(msg).
				Execute()
			return err
		},
		log: log,
	}
}

func (p *PubNubNotifier) Notify(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := Channel(n)
	if err := p.publish(ch, message(n)); err != nil {
		return fmt.Errorf("publish to %s: %w", ch, err)
	}
	p.log.Debug("customer notified",
		zap.String("channel", ch),
		zap.String("transaction_id", n.TransactionID),
		zap.String("status", string(n.Status)),
	)
	return nil
}

// NopNotifier is used when PubNub keys are not configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *Notification) error { return nil }
