package stripe

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

type (
	Config struct {
		BaseURL   string        `json:"base_url" mapstructure:"base_url"`
		SecretKey string        `json:"secret_key" mapstructure:"secret_key"`
		Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	Client struct {
		baseURL string

		// secretKey authenticates every call as a Bearer token.
		secretKey string

		// hc is the http client.
		hc *http.Client

		cb *utils.CircuitBreaker
	}
)

// New creates new instance of Stripe client.
func New(_ context.Context, cfg *Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		hc: &http.Client{
			Timeout: timeout,
		},
		cb: utils.NewCircuitBreaker("stripe"),
	}, nil
}

// intentStatus maps a PaymentIntent status onto the shared lifecycle.
func intentStatus(s string) status.PaymentStatus {
	switch s {
	case "succeeded":
		return status.Completed
	case "requires_capture":
		return status.Held
	case "processing":
		return status.Processing
	case "canceled":
		return status.Cancelled
	case "requires_payment_method":
		return status.Failed
	default:
		// requires_action, requires_confirmation
		return status.Pending
	}
}

func refundStatus(s string) status.PaymentStatus {
	switch s {
	case "succeeded":
		return status.Refunded
	case "failed", "canceled":
		return status.Failed
	default:
		return status.Processing
	}
}
