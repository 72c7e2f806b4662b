package notify

import (
	"context"
	"errors"
	"testing"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPubNubNotifier_Notify(t *testing.T) {
	var channel string
	var payload map[string]interface{}
	p := &PubNubNotifier{
		publish: func(ch string, msg interface{}) error {
			channel = ch
			payload, _ = msg.(map[string]interface{})
			return nil
		},
		log: zap.NewNop(),
	}

	err := p.Notify(context.Background(), &Notification{
		CustomerID:    "cust-42",
		TransactionID: "MM_1",
		Provider:      models.ProviderAirtelMoney,
		Status:        status.Completed,
		Amount:        decimal.NewFromInt(75),
		Currency:      "ZMW",
	})
	require.NoError(t, err)
	assert.Equal(t, "user-cust-42", channel)
	require.NotNil(t, payload)
	assert.Equal(t, "payment_completed", payload["type"])
	assert.Equal(t, "75.00", payload["amount"])
	assert.Equal(t, "Airtel Money", payload["provider"])
}

func TestPubNubNotifier_Errors(t *testing.T) {
	p := &PubNubNotifier{
		publish: func(string, interface{}) error { return errors.New("403 forbidden") },
		log:     zap.NewNop(),
	}
	err := p.Notify(context.Background(), &Notification{TransactionID: "MM_2"})
	assert.ErrorContains(t, err, "payment-MM_2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Notify(ctx, &Notification{}), context.Canceled)
}
