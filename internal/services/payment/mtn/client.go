package mtn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type (
	party struct {
		PartyIDType string `json:"partyIdType"`
		PartyID     string `json:"partyId"`
	}

	transferRequest struct {
		Amount       string `json:"amount"`
		Currency     string `json:"currency"`
		ExternalID   string `json:"externalId"`
		Payer        *party `json:"payer,omitempty"`
		Payee        *party `json:"payee,omitempty"`
		PayerMessage string `json:"payerMessage"`
		PayeeNote    string `json:"payeeNote"`
	}

	statusReply struct {
		Amount                 string `json:"amount"`
		Currency               string `json:"currency"`
		FinancialTransactionID string `json:"financialTransactionId"`
		ExternalID             string `json:"externalId"`
		Status                 string `json:"status"`
		Reason                 any    `json:"reason"`
	}
)

// connect fetches a bearer token for product (collection or disbursement).
func (c *Client) connect(ctx context.Context, product string) (string, error) {
	if t, ok := c.cachedToken(product); ok {
		return t, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+product+"/token/", nil)
	if err != nil {
		return "", fmt.Errorf("connectMTN: http.NewRequestWithContext: %w", err)
	}
	req.SetBasicAuth(c.apiUser, c.apiKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)

	body, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		return "", fmt.Errorf("connectMTN: %w", err)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("connectMTN: json.Unmarshal: %w", err)
	}
	if reply.AccessToken == "" {
		return "", errors.New("connectMTN: empty access token")
	}

	value := "Bearer " + reply.AccessToken
	c.storeToken(product, value, time.Duration(reply.ExpiresIn)*time.Second)
	return value, nil
}

// Collect issues a requesttopay. MoMo identifies the request by the X-Reference-Id we generate.
func (c *Client) Collect(ctx context.Context, ch *gateway.Charge) (*gateway.Result, error) {
	referenceID := uuid.NewString()
	note := ch.Description
	if note == "" {
		note = ch.Reference
	}

	err := c.send(ctx, productCollection, http.MethodPost, "/collection/v1_0/requesttopay", referenceID, &transferRequest{
		Amount:       ch.Amount.StringFixed(2),
		Currency:     ch.Currency,
		ExternalID:   ch.Reference,
		Payer:        &party{PartyIDType: "MSISDN", PartyID: gateway.MSISDN(ch.PhoneNumber)},
		PayerMessage: note,
		PayeeNote:    note,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("mtnRequestToPay: %w", err)
	}

	return &gateway.Result{
		ProviderReference: referenceID,
		Status:            status.Pending,
		Amount:            ch.Amount,
		Currency:          ch.Currency,
		Message:           "request to pay accepted",
	}, nil
}

func (c *Client) Status(ctx context.Context, reference string) (*gateway.Result, error) {
	var reply statusReply
	err := c.send(ctx, productCollection, http.MethodGet, "/collection/v1_0/requesttopay/"+url.PathEscape(reference), "", nil, &reply)
	if err != nil {
		return nil, fmt.Errorf("mtnStatus: %w", err)
	}
	return reply.result(reference), nil
}

// Refund transfers amount back to the payer through the disbursement product.
func (c *Client) Refund(ctx context.Context, reference, phone string, amount decimal.Decimal, currency string) (*gateway.Result, error) {
	referenceID := uuid.NewString()

	err := c.send(ctx, productDisbursement, http.MethodPost, "/disbursement/v1_0/transfer", referenceID, &transferRequest{
		Amount:       amount.StringFixed(2),
		Currency:     currency,
		ExternalID:   reference,
		Payee:        &party{PartyIDType: "MSISDN", PartyID: gateway.MSISDN(phone)},
		PayerMessage: "refund " + reference,
		PayeeNote:    "refund " + reference,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("mtnTransfer: %w", err)
	}

	return &gateway.Result{
		ProviderReference: referenceID,
		Status:            status.Refunded,
		Amount:            amount,
		Currency:          currency,
	}, nil
}

func (c *Client) send(ctx context.Context, product, method, path, referenceID string, payload, out any) error {
	auth, err := c.connect(ctx, product)
	if err != nil {
		return err
	}

	var b []byte
	if payload != nil {
		if b, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	req.Header.Set("X-Target-Environment", c.targetEnvironment)
	if referenceID != "" {
		req.Header.Set("X-Reference-Id", referenceID)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		var httpErr *gateway.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			c.dropToken(product)
		}
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return nil
}

func (r *statusReply) result(reference string) *gateway.Result {
	res := &gateway.Result{
		ProviderReference: reference,
		Currency:          r.Currency,
	}
	if amt, err := decimal.NewFromString(r.Amount); err == nil {
		res.Amount = amt
	}

	switch r.Status {
	case "SUCCESSFUL":
		res.Status = status.Completed
	case "FAILED", "REJECTED", "TIMEOUT":
		res.Status = status.Failed
		res.Message = fmt.Sprint(r.Reason)
	default:
		res.Status = status.Pending
	}
	return res
}
