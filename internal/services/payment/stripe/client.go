package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type (
	paymentIntent struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		Amount           int64  `json:"amount"`
		AmountReceived   int64  `json:"amount_received"`
		Currency         string `json:"currency"`
		LastPaymentError *struct {
			Message string `json:"message"`
		} `json:"last_payment_error"`
	}

	refund struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}

	paymentMethod struct {
		ID   string `json:"id"`
		Card struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	}

	errorReply struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
)

// Charge creates and confirms a PaymentIntent. Capture false leaves it in requires_capture.
func (c *Client) Charge(ctx context.Context, ch *gateway.Charge) (*gateway.Result, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(gateway.MinorUnits(ch.Amount), 10))
	form.Set("currency", strings.ToLower(ch.Currency))
	form.Set("payment_method", ch.PaymentMethod)
	form.Set("payment_method_types[]", "card")
	form.Set("confirm", "true")
	if ch.Capture {
		form.Set("capture_method", "automatic")
	} else {
		form.Set("capture_method", "manual")
	}
	if ch.Description != "" {
		form.Set("description", ch.Description)
	}
	form.Set("metadata[reference]", ch.Reference)
	if ch.CustomerID != "" {
		form.Set("metadata[customer_id]", ch.CustomerID)
	}
	for k, v := range ch.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var pi paymentIntent
	if err := c.post(ctx, "/v1/payment_intents", form, &pi); err != nil {
		return nil, fmt.Errorf("stripeCharge: %w", err)
	}
	return pi.result(), nil
}

func (c *Client) Capture(ctx context.Context, reference string, amount decimal.Decimal, _ string) (*gateway.Result, error) {
	form := url.Values{}
	form.Set("amount_to_capture", strconv.FormatInt(gateway.MinorUnits(amount), 10))

	var pi paymentIntent
	if err := c.post(ctx, "/v1/payment_intents/"+url.PathEscape(reference)+"/capture", form, &pi); err != nil {
		return nil, fmt.Errorf("stripeCapture: %w", err)
	}
	return pi.result(), nil
}

func (c *Client) Void(ctx context.Context, reference string) (*gateway.Result, error) {
	form := url.Values{}
	form.Set("cancellation_reason", "abandoned")

	var pi paymentIntent
	if err := c.post(ctx, "/v1/payment_intents/"+url.PathEscape(reference)+"/cancel", form, &pi); err != nil {
		return nil, fmt.Errorf("stripeVoid: %w", err)
	}
	return pi.result(), nil
}

func (c *Client) Refund(ctx context.Context, reference string, amount decimal.Decimal, _ string, reason string) (*gateway.Result, error) {
	form := url.Values{}
	form.Set("payment_intent", reference)
	form.Set("amount", strconv.FormatInt(gateway.MinorUnits(amount), 10))
	form.Set("reason", "requested_by_customer")
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	var r refund
	if err := c.post(ctx, "/v1/refunds", form, &r); err != nil {
		return nil, fmt.Errorf("stripeRefund: %w", err)
	}
	return &gateway.Result{
		ProviderReference: r.ID,
		Status:            refundStatus(r.Status),
		Amount:            gateway.FromMinorUnits(r.Amount),
		Currency:          strings.ToUpper(r.Currency),
	}, nil
}

func (c *Client) Status(ctx context.Context, reference string) (*gateway.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment_intents/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("stripeStatus: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	body, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		return nil, fmt.Errorf("stripeStatus: %w", describe(err))
	}

	var pi paymentIntent
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, fmt.Errorf("stripeStatus: json.Unmarshal: %w", err)
	}
	return pi.result(), nil
}

// Tokenize creates a PaymentMethod. Raw card data goes to Stripe and nowhere else.
func (c *Client) Tokenize(ctx context.Context, card *models.CardDetails) (*gateway.Token, error) {
	form := url.Values{}
	form.Set("type", "card")
	form.Set("card[number]", card.Number)
	form.Set("card[exp_month]", strconv.Itoa(card.ExpiryMonth))
	form.Set("card[exp_year]", strconv.Itoa(card.ExpiryYear))
	form.Set("card[cvc]", card.CVV)
	if card.HolderName != "" {
		form.Set("billing_details[name]", card.HolderName)
	}

	var pm paymentMethod
	if err := c.post(ctx, "/v1/payment_methods", form, &pm); err != nil {
		return nil, fmt.Errorf("stripeTokenize: %w", err)
	}
	return &gateway.Token{ID: pm.ID, Brand: pm.Card.Brand, Last4: pm.Card.Last4}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	body, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		return describe(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return nil
}

// describe replaces a raw error body with Stripe's own message when one is present.
func describe(err error) error {
	var httpErr *gateway.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	var reply errorReply
	if json.Unmarshal([]byte(httpErr.Body), &reply) != nil || reply.Error.Message == "" {
		return err
	}
	return fmt.Errorf("%s (%d): %w", reply.Error.Message, httpErr.StatusCode, httpErr)
}

func (pi *paymentIntent) result() *gateway.Result {
	res := &gateway.Result{
		ProviderReference: pi.ID,
		Status:            intentStatus(pi.Status),
		Amount:            gateway.FromMinorUnits(pi.Amount),
		Currency:          strings.ToUpper(pi.Currency),
	}
	if pi.Status == "succeeded" && pi.AmountReceived > 0 {
		res.Amount = gateway.FromMinorUnits(pi.AmountReceived)
	}
	if pi.LastPaymentError != nil {
		res.Message = pi.LastPaymentError.Message
	}
	if res.Status == status.Failed && res.Message == "" {
		res.Message = "card declined"
	}
	return res
}
