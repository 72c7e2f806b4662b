package zamtel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/utils"
)

var _ gateway.Mobile = (*Client)(nil)

type (
	Config struct {
		BaseURL string        `json:"base_url" mapstructure:"base_url"`
		APIKey  string        `json:"api_key" mapstructure:"api_key"`
		HMACKey string        `json:"hmac_key" mapstructure:"hmac_key"`
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	Client struct {
		baseURL string
		apiKey  string

		// hmacKey signs every request body into the SignedHash header.
		hmacKey string

		hc *http.Client
		cb *utils.CircuitBreaker
	}
)

// New creates new instance of Zamtel Kwacha client.
func New(_ context.Context, cfg *Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.HMACKey == "" {
		return nil, errors.New("zamtel: api key and hmac key are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		hmacKey: cfg.HMACKey,
		hc: &http.Client{
			Timeout: timeout,
		},
		cb: utils.NewCircuitBreaker("zamtel_kwacha"),
	}, nil
}

// Hmac256 is a function to generate HMAC256 hash.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignature checks a SignedHash received on a Zamtel callback.
func VerifySignature(key string, body []byte, received string) bool {
	expected := Hmac256(body, []byte(key))
	return hmac.Equal([]byte(received), []byte(expected))
}
