package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ModeSandbox    = "sandbox"
	ModeProduction = "production"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Payment configuration
	PaymentMode      string
	PlatformCurrency string
	MaxPaymentAmount decimal.Decimal
	HoldTTL          time.Duration

	// Sandbox simulation
	SandboxMinLatency time.Duration
	SandboxMaxLatency time.Duration
	StripeSuccessRate float64
	DPOSuccessRate    float64

	// Card providers
	StripeSecretKey string
	StripeBaseURL   string
	DPOCompanyToken string
	DPOServiceType  string
	DPOBaseURL      string

	// Mobile money providers
	AirtelClientID        string
	AirtelAPIKey          string
	AirtelBaseURL         string
	MTNAPIUser            string
	MTNAPIKey             string
	MTNSubscriptionKey    string
	MTNBaseURL            string
	MTNTargetEnvironment  string
	ZamtelAPIKey          string
	ZamtelHMACKey         string
	ZamtelBaseURL         string
	ProviderHTTPTimeout   time.Duration
	CardFingerprintKey    string
	MobileStatusPollEvery time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	StoreBackend  string

	// Kafka configuration
	KafkaBrokers []string
	KafkaTopic   string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Rate limiting
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics bool
	LogLevel      string
	OTLPEndpoint  string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Payments
		PaymentMode:      strings.ToLower(getEnv("PAYMENT_MODE", ModeSandbox)),
		PlatformCurrency: strings.ToUpper(getEnv("PLATFORM_CURRENCY", "ZMW")),
		MaxPaymentAmount: getEnvAsDecimal("MAX_PAYMENT_AMOUNT", decimal.NewFromInt(1_000_000)),
		HoldTTL:          getEnvAsDuration("HOLD_TTL", "168h"),

		// Sandbox
		SandboxMinLatency: getEnvAsDuration("SANDBOX_MIN_LATENCY", "100ms"),
		SandboxMaxLatency: getEnvAsDuration("SANDBOX_MAX_LATENCY", "1500ms"),
		StripeSuccessRate: getEnvAsFloat("STRIPE_SUCCESS_RATE", 0.95),
		DPOSuccessRate:    getEnvAsFloat("DPO_SUCCESS_RATE", 0.90),

		// Card providers
		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		StripeBaseURL:   getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		DPOCompanyToken: getEnv("DPO_COMPANY_TOKEN", ""),
		DPOServiceType:  getEnv("DPO_SERVICE_TYPE", ""),
		DPOBaseURL:      getEnv("DPO_BASE_URL", "https://secure.3gdirectpay.com"),

		// Mobile money
		AirtelClientID:        getEnv("AIRTEL_MONEY_CLIENT_ID", ""),
		AirtelAPIKey:          getEnv("AIRTEL_MONEY_API_KEY", ""),
		AirtelBaseURL:         getEnv("AIRTEL_MONEY_BASE_URL", "https://openapi.airtel.africa"),
		MTNAPIUser:            getEnv("MTN_MOMO_API_USER", ""),
		MTNAPIKey:             getEnv("MTN_MOMO_API_KEY", ""),
		MTNSubscriptionKey:    getEnv("MTN_MOMO_SUBSCRIPTION_KEY", ""),
		MTNBaseURL:            getEnv("MTN_MOMO_BASE_URL", "https://proxy.momoapi.mtn.com"),
		MTNTargetEnvironment:  getEnv("MTN_MOMO_TARGET_ENV", "mtnzambia"),
		ZamtelAPIKey:          getEnv("ZAMTEL_KWACHA_API_KEY", ""),
		ZamtelHMACKey:         getEnv("ZAMTEL_KWACHA_HMAC_KEY", ""),
		ZamtelBaseURL:         getEnv("ZAMTEL_KWACHA_BASE_URL", "https://api.zamtel.co.zm/kwacha"),
		ProviderHTTPTimeout:   getEnvAsDuration("PROVIDER_HTTP_TIMEOUT", "30s"),
		CardFingerprintKey:    getEnv("CARD_FINGERPRINT_KEY", ""),
		MobileStatusPollEvery: getEnvAsDuration("MOBILE_STATUS_POLL_INTERVAL", "5s"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),

		// Kafka
		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payment.state.changed"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", ""),
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.PaymentMode {
	case ModeSandbox, ModeProduction:
	default:
		return fmt.Errorf("invalid PAYMENT_MODE %q: want %s or %s", c.PaymentMode, ModeSandbox, ModeProduction)
	}
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", c.StoreBackend, StoreMemory, StoreRedis)
	}
	if c.PaymentMode == ModeProduction && c.StoreBackend == StoreMemory {
		return errors.New("production mode requires STORE_BACKEND=redis")
	}
	if len(c.PlatformCurrency) != 3 {
		return fmt.Errorf("invalid PLATFORM_CURRENCY %q", c.PlatformCurrency)
	}
	if !c.MaxPaymentAmount.IsPositive() {
		return errors.New("MAX_PAYMENT_AMOUNT must be positive")
	}
	if c.HoldTTL <= 0 {
		return errors.New("HOLD_TTL must be positive")
	}
	for name, rate := range map[string]float64{"STRIPE_SUCCESS_RATE": c.StripeSuccessRate, "DPO_SUCCESS_RATE": c.DPOSuccessRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, rate)
		}
	}
	return nil
}

// IsSandbox reports whether provider calls are simulated.
func (c *Config) IsSandbox() bool {
	return c.PaymentMode != ModeProduction
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if value, err := decimal.NewFromString(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
