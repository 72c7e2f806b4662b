package mtn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/utils"
)

var _ gateway.Mobile = (*Client)(nil)

const (
	productCollection   = "collection"
	productDisbursement = "disbursement"
)

type (
	Config struct {
		BaseURL           string        `json:"base_url" mapstructure:"base_url"`
		APIUser           string        `json:"api_user" mapstructure:"api_user"`
		APIKey            string        `json:"api_key" mapstructure:"api_key"`
		SubscriptionKey   string        `json:"subscription_key" mapstructure:"subscription_key"`
		TargetEnvironment string        `json:"target_environment" mapstructure:"target_environment"`
		Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	token struct {
		value     string
		expiresAt time.Time
	}

	Client struct {
		baseURL string

		// apiUser and apiKey authenticate token requests with basic auth.
		apiUser string
		apiKey  string

		subscriptionKey   string
		targetEnvironment string

		// tokens caches one bearer token per MoMo product.
		tokens map[string]token
		mu     sync.Mutex

		hc *http.Client
		cb *utils.CircuitBreaker

		now func() time.Time
	}
)

// New creates new instance of MTN MoMo client. Tokens are fetched on first use.
func New(_ context.Context, cfg *Config) (*Client, error) {
	if cfg.APIUser == "" || cfg.APIKey == "" || cfg.SubscriptionKey == "" {
		return nil, errors.New("mtn: api user, api key and subscription key are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	env := cfg.TargetEnvironment
	if env == "" {
		env = "sandbox"
	}

	return &Client{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		apiUser:           cfg.APIUser,
		apiKey:            cfg.APIKey,
		subscriptionKey:   cfg.SubscriptionKey,
		targetEnvironment: env,
		tokens:            make(map[string]token),
		hc: &http.Client{
			Timeout: timeout,
		},
		cb:  utils.NewCircuitBreaker("mtn_momo"),
		now: time.Now,
	}, nil
}

// cachedToken returns a token valid for at least another minute, if any.
func (c *Client) cachedToken(product string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[product]
	if !ok || c.now().Add(time.Minute).After(t.expiresAt) {
		return "", false
	}
	return t.value, true
}

func (c *Client) storeToken(product, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[product] = token{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Client) dropToken(product string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, product)
}
