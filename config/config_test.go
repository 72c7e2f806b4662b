package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"PAYMENT_MODE", "PLATFORM_CURRENCY", "MAX_PAYMENT_AMOUNT", "STRIPE_SUCCESS_RATE", "DPO_SUCCESS_RATE", "STORE_BACKEND", "KAFKA_BROKERS", "HOLD_TTL"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.True(t, cfg.IsSandbox())
	assert.Equal(t, "ZMW", cfg.PlatformCurrency)
	assert.True(t, cfg.MaxPaymentAmount.Equal(decimal.NewFromInt(1_000_000)))
	assert.Equal(t, 0.95, cfg.StripeSuccessRate)
	assert.Equal(t, 0.90, cfg.DPOSuccessRate)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 168*time.Hour, cfg.HoldTTL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PAYMENT_MODE", "Production")
	t.Setenv("PLATFORM_CURRENCY", "usd")
	t.Setenv("MAX_PAYMENT_AMOUNT", "5000.50")
	t.Setenv("STRIPE_SUCCESS_RATE", "1")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SANDBOX_MAX_LATENCY", "not-a-duration")

	cfg := LoadConfig()

	assert.False(t, cfg.IsSandbox())
	assert.Equal(t, "USD", cfg.PlatformCurrency)
	assert.Equal(t, "5000.5", cfg.MaxPaymentAmount.String())
	assert.Equal(t, 1.0, cfg.StripeSuccessRate)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 1500*time.Millisecond, cfg.SandboxMaxLatency)
}

func TestGetEnvAsFloat_InvalidFallsBack(t *testing.T) {
	t.Setenv("DPO_SUCCESS_RATE", "ninety")
	assert.Equal(t, 0.5, getEnvAsFloat("DPO_SUCCESS_RATE", 0.5))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			PaymentMode:       ModeSandbox,
			StoreBackend:      StoreMemory,
			PlatformCurrency:  "ZMW",
			MaxPaymentAmount:  decimal.NewFromInt(1000),
			HoldTTL:           time.Hour,
			StripeSuccessRate: 0.95,
			DPOSuccessRate:    0.9,
		}
	}
	assert.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"unknown mode":              func(c *Config) { c.PaymentMode = "live" },
		"unknown store":             func(c *Config) { c.StoreBackend = "postgres" },
		"production memory store":   func(c *Config) { c.PaymentMode = ModeProduction },
		"bad currency":              func(c *Config) { c.PlatformCurrency = "KWACHA" },
		"zero ceiling":              func(c *Config) { c.MaxPaymentAmount = decimal.Zero },
		"zero hold ttl":             func(c *Config) { c.HoldTTL = 0 },
		"success rate over one":     func(c *Config) { c.StripeSuccessRate = 1.5 },
		"negative dpo success rate": func(c *Config) { c.DPOSuccessRate = -0.1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
