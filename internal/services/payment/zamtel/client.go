package zamtel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"

	"github.com/shopspring/decimal"
)

const replyOK = "00"

type reply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransactionID string `json:"transaction_id"`
		State         string `json:"state"`
		Amount        string `json:"amount"`
		Currency      string `json:"currency"`
	} `json:"data"`
}

// Collect pushes a debit prompt to the subscriber's handset.
func (c *Client) Collect(ctx context.Context, ch *gateway.Charge) (*gateway.Result, error) {
	r, err := c.do(ctx, http.MethodPost, "/v1/payments/push", map[string]string{
		"reference": ch.Reference,
		"msisdn":    gateway.MSISDN(ch.PhoneNumber),
		"amount":    ch.Amount.StringFixed(2),
		"currency":  ch.Currency,
		"narration": ch.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("zamtelPush: %w", err)
	}
	if r.Status != replyOK {
		return nil, fmt.Errorf("zamtelPush: status %s, %s: %w", r.Status, r.Message, gateway.ErrDeclined)
	}

	return &gateway.Result{
		ProviderReference: r.Data.TransactionID,
		Status:            status.Pending,
		Amount:            ch.Amount,
		Currency:          ch.Currency,
		Message:           r.Message,
	}, nil
}

func (c *Client) Status(ctx context.Context, reference string) (*gateway.Result, error) {
	r, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("zamtelStatus: %w", err)
	}

	res := &gateway.Result{
		ProviderReference: reference,
		Status:            stateStatus(r.Data.State),
		Currency:          r.Data.Currency,
		Message:           r.Message,
	}
	if amt, err := decimal.NewFromString(r.Data.Amount); err == nil {
		res.Amount = amt
	}
	return res, nil
}

func (c *Client) Refund(ctx context.Context, reference, phone string, amount decimal.Decimal, currency string) (*gateway.Result, error) {
	r, err := c.do(ctx, http.MethodPost, "/v1/payments/refund", map[string]string{
		"original_transaction_id": reference,
		"msisdn":                  gateway.MSISDN(phone),
		"amount":                  amount.StringFixed(2),
		"currency":                currency,
		"reference":               reference + "-R",
	})
	if err != nil {
		return nil, fmt.Errorf("zamtelRefund: %w", err)
	}
	if r.Status != replyOK {
		return nil, fmt.Errorf("zamtelRefund: status %s, %s: %w", r.Status, r.Message, gateway.ErrDeclined)
	}

	return &gateway.Result{
		ProviderReference: r.Data.TransactionID,
		Status:            status.Refunded,
		Amount:            amount,
		Currency:          currency,
		Message:           r.Message,
	}, nil
}

// do signs the body (or the path for bodiless requests) and decodes the reply envelope.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*reply, error) {
	signed := []byte(path)
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("json.Marshal: %w", err)
		}
		body, signed = b, b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("SignedHash", Hmac256(signed, []byte(c.hmacKey)))

	respBody, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		return nil, err
	}

	var r reply
	if err := json.Unmarshal(respBody, &r); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return &r, nil
}

func stateStatus(s string) status.PaymentStatus {
	switch s {
	case "SUCCESS":
		return status.Completed
	case "FAILED":
		return status.Failed
	case "CANCELLED":
		return status.Cancelled
	case "PROCESSING":
		return status.Processing
	default:
		return status.Pending
	}
}
