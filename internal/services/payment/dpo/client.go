package dpo

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
)

type (
	service struct {
		ServiceType        string `xml:"ServiceType"`
		ServiceDescription string `xml:"ServiceDescription"`
		ServiceDate        string `xml:"ServiceDate"`
	}

	transaction struct {
		PaymentAmount         string `xml:"PaymentAmount"`
		PaymentCurrency       string `xml:"PaymentCurrency"`
		CompanyRef            string `xml:"CompanyRef"`
		CompanyRefUnique      int    `xml:"CompanyRefUnique"`
		PTL                   int    `xml:"PTL"`
		TransactionChargeType int    `xml:"TransactionChargeType"`
	}

	request struct {
		XMLName          xml.Name     `xml:"API3G"`
		CompanyToken     string       `xml:"CompanyToken"`
		Request          string       `xml:"Request"`
		TransactionToken string       `xml:"TransactionToken,omitempty"`
		Transaction      *transaction `xml:"Transaction,omitempty"`
		Services         []service    `xml:"Services>Service,omitempty"`

		// chargeTokenCreditCard
		CreditCardNumber string `xml:"CreditCardNumber,omitempty"`
		CreditCardExpiry string `xml:"CreditCardExpiry,omitempty"`
		CreditCardCVV    string `xml:"CreditCardCVV,omitempty"`
		CardHolderName   string `xml:"CardHolderName,omitempty"`

		// chargeTokenAuth, refundToken
		Amount        string `xml:"Amount,omitempty"`
		RefundAmount  string `xml:"refundAmount,omitempty"`
		RefundDetails string `xml:"refundDetails,omitempty"`
	}

	reply struct {
		XMLName           xml.Name `xml:"API3G"`
		Result            string   `xml:"Result"`
		ResultExplanation string   `xml:"ResultExplanation"`
		TransToken        string   `xml:"TransToken"`
		TransRef          string   `xml:"TransRef"`
		TransactionAmount string   `xml:"TransactionAmount"`
		TransactionCurr   string   `xml:"TransactionCurrency"`
	}
)

// Charge creates a transaction token. With card data it is charged immediately, otherwise the
// customer completes it on the hosted page and the result is Pending.
func (c *Client) Charge(ctx context.Context, ch *gateway.Charge) (*gateway.Result, error) {
	chargeType := 1
	if !ch.Capture {
		chargeType = 2
	}
	desc := ch.Description
	if desc == "" {
		desc = ch.Reference
	}

	created, err := c.call(ctx, &request{
		Request: "createToken",
		Transaction: &transaction{
			PaymentAmount:         ch.Amount.StringFixed(2),
			PaymentCurrency:       ch.Currency,
			CompanyRef:            ch.Reference,
			CompanyRefUnique:      1,
			PTL:                   15,
			TransactionChargeType: chargeType,
		},
		Services: []service{{
			ServiceType:        c.serviceType,
			ServiceDescription: desc,
			ServiceDate:        c.now().Format("2006/01/02 15:04"),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("dpoCreateToken: %w", err)
	}
	if created.Result != resultOK {
		return nil, fmt.Errorf("dpoCreateToken: result %s, %s: %w", created.Result, created.ResultExplanation, gateway.ErrDeclined)
	}

	if ch.Card == nil {
		return &gateway.Result{
			ProviderReference: created.TransToken,
			Status:            status.Pending,
			Amount:            ch.Amount,
			Currency:          ch.Currency,
			Message:           "complete payment at " + c.PayURL(created.TransToken),
		}, nil
	}

	charged, err := c.call(ctx, &request{
		Request:          "chargeTokenCreditCard",
		TransactionToken: created.TransToken,
		CreditCardNumber: ch.Card.Number,
		CreditCardExpiry: fmt.Sprintf("%02d%02d", ch.Card.ExpiryMonth, ch.Card.ExpiryYear%100),
		CreditCardCVV:    ch.Card.CVV,
		CardHolderName:   ch.Card.HolderName,
	})
	if err != nil {
		return nil, fmt.Errorf("dpoChargeTokenCreditCard: %w", err)
	}
	if charged.Result != resultOK {
		return nil, fmt.Errorf("dpoChargeTokenCreditCard: result %s, %s: %w", charged.Result, charged.ResultExplanation, gateway.ErrDeclined)
	}

	st := status.Completed
	if !ch.Capture {
		st = status.Held
	}
	return &gateway.Result{
		ProviderReference: created.TransToken,
		Status:            st,
		Amount:            ch.Amount,
		Currency:          ch.Currency,
		Message:           charged.ResultExplanation,
	}, nil
}

func (c *Client) Capture(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*gateway.Result, error) {
	r, err := c.call(ctx, &request{
		Request:          "chargeTokenAuth",
		TransactionToken: reference,
		Amount:           amount.StringFixed(2),
	})
	if err != nil {
		return nil, fmt.Errorf("dpoChargeTokenAuth: %w", err)
	}
	if r.Result != resultOK {
		return nil, fmt.Errorf("dpoChargeTokenAuth: result %s, %s: %w", r.Result, r.ResultExplanation, gateway.ErrDeclined)
	}
	return &gateway.Result{ProviderReference: reference, Status: status.Completed, Amount: amount, Currency: currency, Message: r.ResultExplanation}, nil
}

func (c *Client) Void(ctx context.Context, reference string) (*gateway.Result, error) {
	r, err := c.call(ctx, &request{Request: "cancelToken", TransactionToken: reference})
	if err != nil {
		return nil, fmt.Errorf("dpoCancelToken: %w", err)
	}
	if r.Result != resultOK {
		return nil, fmt.Errorf("dpoCancelToken: result %s, %s: %w", r.Result, r.ResultExplanation, gateway.ErrDeclined)
	}
	return &gateway.Result{ProviderReference: reference, Status: status.Cancelled, Message: r.ResultExplanation}, nil
}

func (c *Client) Refund(ctx context.Context, reference string, amount decimal.Decimal, currency, reason string) (*gateway.Result, error) {
	if reason == "" {
		reason = "customer refund"
	}
	r, err := c.call(ctx, &request{
		Request:          "refundToken",
		TransactionToken: reference,
		RefundAmount:     amount.StringFixed(2),
		RefundDetails:    reason,
	})
	if err != nil {
		return nil, fmt.Errorf("dpoRefundToken: %w", err)
	}
	if r.Result != resultOK {
		return nil, fmt.Errorf("dpoRefundToken: result %s, %s: %w", r.Result, r.ResultExplanation, gateway.ErrDeclined)
	}
	return &gateway.Result{ProviderReference: reference, Status: status.Refunded, Amount: amount, Currency: currency, Message: r.ResultExplanation}, nil
}

func (c *Client) Status(ctx context.Context, reference string) (*gateway.Result, error) {
	r, err := c.call(ctx, &request{Request: "verifyToken", TransactionToken: reference})
	if err != nil {
		return nil, fmt.Errorf("dpoVerifyToken: %w", err)
	}

	res := &gateway.Result{
		ProviderReference: reference,
		Status:            resultStatus(r.Result),
		Currency:          r.TransactionCurr,
		Message:           r.ResultExplanation,
	}
	if amt, err := decimal.NewFromString(r.TransactionAmount); err == nil {
		res.Amount = amt
	}
	return res, nil
}

// Tokenize is not offered: DPO card charges carry the card data on chargeTokenCreditCard.
func (c *Client) Tokenize(context.Context, *models.CardDetails) (*gateway.Token, error) {
	return nil, fmt.Errorf("dpo tokenize: %w", gateway.ErrUnsupported)
}

func (c *Client) call(ctx context.Context, r *request) (*reply, error) {
	r.CompanyToken = c.companyToken

	b, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("xml.Marshal: %w", err)
	}
	body := append([]byte(xml.Header), b...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/API/v6/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	respBody, err := gateway.Send(ctx, c.hc, c.cb, req)
	if err != nil {
		return nil, err
	}

	var out reply
	if err := xml.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("xml.Unmarshal: %w", err)
	}
	return &out, nil
}
