package dpo

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/utils"
)

var _ gateway.Card = (*Client)(nil)

const (
	resultOK         = "000"
	resultAuthorized = "001"
	resultNotPaid    = "900"
	resultDeclined   = "901"
	resultCancelled  = "904"
)

type (
	Config struct {
		BaseURL      string        `json:"base_url" mapstructure:"base_url"`
		CompanyToken string        `json:"company_token" mapstructure:"company_token"`
		ServiceType  string        `json:"service_type" mapstructure:"service_type"`
		Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	Client struct {
		baseURL      string
		companyToken string

		// serviceType is the DPO product code every transaction is booked against.
		serviceType string

		hc *http.Client
		cb *utils.CircuitBreaker

		// now is swapped in tests.
		now func() time.Time
	}
)

// New creates new instance of DPO client.
func New(_ context.Context, cfg *Config) (*Client, error) {
	if cfg.CompanyToken == "" {
		return nil, errors.New("dpo: company token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		companyToken: cfg.CompanyToken,
		serviceType:  cfg.ServiceType,
		hc: &http.Client{
			Timeout: timeout,
		},
		cb:  utils.NewCircuitBreaker("dpo"),
		now: time.Now,
	}, nil
}

// PayURL is the hosted page where a customer completes a token created without card data.
func (c *Client) PayURL(transToken string) string {
	return c.baseURL + "/payv2.php?ID=" + transToken
}

func resultStatus(code string) status.PaymentStatus {
	switch code {
	case resultOK:
		return status.Completed
	case resultAuthorized:
		return status.Held
	case resultNotPaid:
		return status.Pending
	case resultCancelled:
		return status.Cancelled
	default:
		return status.Failed
	}
}
