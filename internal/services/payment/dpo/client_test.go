package dpo

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDPO answers API3G requests by Request name.
func fakeDPO(t *testing.T, replies map[string]string, seen *[]request) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/API/v6/", r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		var req request
		assert.NoError(t, xml.Unmarshal(body, &req))
		assert.Equal(t, "company-token", req.CompanyToken)
		if seen != nil {
			*seen = append(*seen, req)
		}

		reply, ok := replies[req.Request]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), &Config{BaseURL: srv.URL, CompanyToken: "company-token", ServiceType: "5525"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC) }
	return c
}

func TestClient_ChargeWithCard(t *testing.T) {
	var seen []request
	c := fakeDPO(t, map[string]string{
		"createToken":           `<API3G><Result>000</Result><ResultExplanation>Transaction created</ResultExplanation><TransToken>TT-1</TransToken><TransRef>R1</TransRef></API3G>`,
		"chargeTokenCreditCard": `<API3G><Result>000</Result><ResultExplanation>Transaction charged</ResultExplanation></API3G>`,
	}, &seen)

	res, err := c.Charge(context.Background(), &gateway.Charge{
		Reference: "PAY_1",
		Amount:    decimal.RequireFromString("99.5"),
		Currency:  "ZMW",
		Capture:   true,
		Card:      &models.CardDetails{Number: "5555555555554444", ExpiryMonth: 7, ExpiryYear: 2031, CVV: "321"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TT-1", res.ProviderReference)
	assert.Equal(t, status.Completed, res.Status)

	require.Len(t, seen, 2)
	assert.Equal(t, "99.50", seen[0].Transaction.PaymentAmount)
	assert.Equal(t, 1, seen[0].Transaction.TransactionChargeType)
	require.Len(t, seen[0].Services, 1)
	assert.Equal(t, "2025/03/01 10:30", seen[0].Services[0].ServiceDate)
	assert.Equal(t, "TT-1", seen[1].TransactionToken)
	assert.Equal(t, "0731", seen[1].CreditCardExpiry)
}

func TestClient_ChargeWithoutCardIsPending(t *testing.T) {
	c := fakeDPO(t, map[string]string{
		"createToken": `<API3G><Result>000</Result><TransToken>TT-2</TransToken></API3G>`,
	}, nil)

	res, err := c.Charge(context.Background(), &gateway.Charge{Reference: "HOLD_1", Amount: decimal.NewFromInt(10), Currency: "ZMW"})
	require.NoError(t, err)
	assert.Equal(t, status.Pending, res.Status)
	assert.Contains(t, res.Message, "payv2.php?ID=TT-2")
}

func TestClient_ChargeDeclined(t *testing.T) {
	c := fakeDPO(t, map[string]string{
		"createToken":           `<API3G><Result>000</Result><TransToken>TT-3</TransToken></API3G>`,
		"chargeTokenCreditCard": `<API3G><Result>901</Result><ResultExplanation>Transaction declined</ResultExplanation></API3G>`,
	}, nil)

	_, err := c.Charge(context.Background(), &gateway.Charge{
		Reference: "PAY_2", Amount: decimal.NewFromInt(10), Currency: "ZMW", Capture: true,
		Card: &models.CardDetails{Number: "4111111111111111", ExpiryMonth: 1, ExpiryYear: 2030},
	})
	require.Error(t, err)
	assert.True(t, gateway.IsDeclined(err))
	assert.NotContains(t, err.Error(), "4111111111111111")
}

func TestClient_Status(t *testing.T) {
	c := fakeDPO(t, map[string]string{
		"verifyToken": `<API3G><Result>001</Result><ResultExplanation>Authorized</ResultExplanation><TransactionAmount>250.00</TransactionAmount><TransactionCurrency>ZMW</TransactionCurrency></API3G>`,
	}, nil)

	res, err := c.Status(context.Background(), "TT-1")
	require.NoError(t, err)
	assert.Equal(t, status.Held, res.Status)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(250)))
}

func TestClient_TokenizeUnsupported(t *testing.T) {
	c := fakeDPO(t, nil, nil)
	_, err := c.Tokenize(context.Background(), &models.CardDetails{})
	assert.ErrorIs(t, err, gateway.ErrUnsupported)
}

func TestResultStatus(t *testing.T) {
	assert.Equal(t, status.Completed, resultStatus("000"))
	assert.Equal(t, status.Pending, resultStatus("900"))
	assert.Equal(t, status.Failed, resultStatus("901"))
	assert.Equal(t, status.Cancelled, resultStatus("904"))
}
