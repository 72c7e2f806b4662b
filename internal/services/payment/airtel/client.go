package airtel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"

	"github.com/shopspring/decimal"
)

const countryCode = "260"

type (
	statusBlock struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		ResultCode   string `json:"result_code"`
		ResponseCode string `json:"response_code"`
		Success      bool   `json:"success"`
	}

	transactionReply struct {
		Data struct {
			Transaction struct {
				ID            string `json:"id"`
				AirtelMoneyID string `json:"airtel_money_id"`
				Status        string `json:"status"`
				Message       string `json:"message"`
			} `json:"transaction"`
		} `json:"data"`
		Status statusBlock `json:"status"`
	}
)

// connect exchanges the client credentials for a bearer token.
func (c *Client) connect(ctx context.Context) (string, error) {
	b, _ := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/oauth2/token", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("connectAirtel: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		return "", fmt.Errorf("connectAirtel: %w", err)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("connectAirtel: json.Unmarshal: %w", err)
	}
	if reply.AccessToken == "" {
		return "", errors.New("connectAirtel: empty access token")
	}
	if reply.TokenType == "" {
		reply.TokenType = "Bearer"
	}

	return fmt.Sprintf("%s %s", reply.TokenType, reply.AccessToken), nil
}

// Collect sends a USSD push asking the subscriber to approve the debit.
func (c *Client) Collect(ctx context.Context, ch *gateway.Charge) (*gateway.Result, error) {
	payload := map[string]any{
		"reference": ch.Description,
		"subscriber": map[string]string{
			"country":  c.country,
			"currency": c.currency,
			"msisdn":   gateway.NationalNumber(ch.PhoneNumber, countryCode),
		},
		"transaction": map[string]string{
			"amount":   ch.Amount.StringFixed(2),
			"country":  c.country,
			"currency": ch.Currency,
			"id":       ch.Reference,
		},
	}

	var reply transactionReply
	if err := c.do(ctx, http.MethodPost, "/merchant/v1/payments/", payload, &reply); err != nil {
		return nil, fmt.Errorf("airtelCollect: %w", err)
	}
	if !reply.Status.Success {
		return nil, fmt.Errorf("airtelCollect: %s: %w", reply.Status.Message, gateway.ErrDeclined)
	}

	return &gateway.Result{
		// Airtel correlates by our transaction id.
		ProviderReference: ch.Reference,
		Status:            status.Pending,
		Amount:            ch.Amount,
		Currency:          ch.Currency,
		Message:           reply.Status.Message,
	}, nil
}

func (c *Client) Status(ctx context.Context, reference string) (*gateway.Result, error) {
	var reply transactionReply
	if err := c.do(ctx, http.MethodGet, "/standard/v1/payments/"+url.PathEscape(reference), nil, &reply); err != nil {
		return nil, fmt.Errorf("airtelStatus: %w", err)
	}

	return &gateway.Result{
		ProviderReference: reference,
		Status:            transactionStatus(reply.Data.Transaction.Status),
		Message:           reply.Data.Transaction.Message,
	}, nil
}

// Refund disburses amount back to the subscriber. Airtel's refund endpoint only reverses
// whole payments, so partial returns go through disbursement as well.
func (c *Client) Refund(ctx context.Context, reference, phone string, amount decimal.Decimal, currency string) (*gateway.Result, error) {
	payload := map[string]any{
		"payee": map[string]string{
			"msisdn": gateway.NationalNumber(phone, countryCode),
		},
		"reference": "refund " + reference,
		"transaction": map[string]string{
			"amount": amount.StringFixed(2),
			"id":     reference + "-R",
		},
	}

	var reply transactionReply
	if err := c.do(ctx, http.MethodPost, "/standard/v1/disbursements/", payload, &reply); err != nil {
		return nil, fmt.Errorf("airtelRefund: %w", err)
	}
	if !reply.Status.Success {
		return nil, fmt.Errorf("airtelRefund: %s: %w", reply.Status.Message, gateway.ErrDeclined)
	}

	ref := reply.Data.Transaction.AirtelMoneyID
	if ref == "" {
		ref = reference + "-R"
	}
	return &gateway.Result{
		ProviderReference: ref,
		Status:            status.Refunded,
		Amount:            amount,
		Currency:          currency,
		Message:           reply.Status.Message,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Country", c.country)
	req.Header.Set("X-Currency", c.currency)
	req.Header.Set("Authorization", c.getAccessToken())

	respBody, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		// toggle token refresher if unauthorized
		var httpErr *gateway.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			c.requestRefresh()
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return nil
}

// transactionStatus maps Airtel's TS/TF/TA/TIP codes.
func transactionStatus(s string) status.PaymentStatus {
	switch s {
	case "TS":
		return status.Completed
	case "TF", "TE":
		return status.Failed
	case "TIP":
		return status.Processing
	default:
		return status.Pending
	}
}
