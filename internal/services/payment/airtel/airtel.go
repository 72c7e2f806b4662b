package airtel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/utils"

	"go.uber.org/zap"
)

var _ gateway.Mobile = (*Client)(nil)

type (
	Config struct {
		BaseURL      string        `json:"base_url" mapstructure:"base_url"`
		ClientID     string        `json:"client_id" mapstructure:"client_id"`
		ClientSecret string        `json:"client_secret" mapstructure:"client_secret"`
		Country      string        `json:"country" mapstructure:"country"`
		Currency     string        `json:"currency" mapstructure:"currency"`
		Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	Client struct {
		baseURL string

		// clientID and clientSecret are exchanged for a bearer token.
		clientID     string
		clientSecret string

		country  string
		currency string

		// accessToken is used to authenticate with Airtel backend.
		accessToken string

		// mu is used to lock access token.
		mu sync.Mutex

		// toggleTokenRefresher is used to notify token refresher to refresh token.
		toggleTokenRefresher chan struct{}

		hc  *http.Client
		cb  *utils.CircuitBreaker
		log *zap.Logger
	}
)

// New creates new instance of Airtel Money client. The token refresher runs until ctx is done.
func New(ctx context.Context, cfg *Config, log *zap.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("airtel: client id and secret are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	country := cfg.Country
	if country == "" {
		country = "ZM"
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "ZMW"
	}

	client := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		country:      country,
		currency:     currency,

		// make a buffered channel to avoid blocking.
		toggleTokenRefresher: make(chan struct{}, 1),

		hc: &http.Client{
			Timeout: timeout,
		},
		cb:  utils.NewCircuitBreaker("airtel_money"),
		log: log.Named("airtel"),
	}

	token, err := client.connect(ctx)
	if err != nil {
		return nil, err
	}
	client.setAccessToken(token)

	go client.notifyAccessTokenExpired(ctx)

	return client, nil
}

// notifyAccessTokenExpired renews the token on a fixed period, or sooner when a call
// comes back 401, retrying with exponential backoff.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			c.log.Info("access token rejected, refreshing")
		}

		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				c.log.Warn("token refresh failed", zap.Error(err), zap.Duration("backoff", backOff))

				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

// requestRefresh asks the refresher for a new token without blocking when one is already queued.
func (c *Client) requestRefresh() {
	select {
	case c.toggleTokenRefresher <- struct{}{}:
	default:
	}
}

func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}
