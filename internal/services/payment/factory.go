package payment

import (
	"context"
	"fmt"
	"sync"

	"rental-payments/config"
	"rental-payments/internal/services/payment/airtel"
	"rental-payments/internal/services/payment/dpo"
	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/services/payment/mtn"
	"rental-payments/internal/services/payment/stripe"
	"rental-payments/internal/services/payment/zamtel"
	"rental-payments/models"

	"go.uber.org/zap"
)

// ServiceFactory builds one adapter for a provider.
type ServiceFactory interface {
	CreateService(ctx context.Context, provider models.Provider) (PaymentService, error)
	SupportedProviders() []models.Provider
}

// Factory builds adapters from application config, sandboxed or backed by the real provider client.
type Factory struct {
	cfg *config.Config
	log *zap.Logger
}

// NewFactory creates a new payment service factory
func NewFactory(cfg *config.Config, log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{cfg: cfg, log: log}
}

func (f *Factory) options(successRate float64) Options {
	return Options{
		Sandbox: SandboxConfig{
			MinLatency:  f.cfg.SandboxMinLatency,
			MaxLatency:  f.cfg.SandboxMaxLatency,
			SuccessRate: successRate,
		},
		MaxAmount:      f.cfg.MaxPaymentAmount,
		HoldTTL:        f.cfg.HoldTTL,
		FingerprintKey: []byte(f.cfg.CardFingerprintKey),
		Logger:         f.log,
	}
}

// CreateService creates the adapter for provider. ctx bounds any background work a
// production client starts, such as token refreshers.
func (f *Factory) CreateService(ctx context.Context, provider models.Provider) (PaymentService, error) {
	sandbox := f.cfg.IsSandbox()

	switch provider {
	case models.ProviderStripe:
		var gw gateway.Card
		if !sandbox {
			c, err := stripe.New(ctx, &stripe.Config{
				BaseURL:   f.cfg.StripeBaseURL,
				SecretKey: f.cfg.StripeSecretKey,
				Timeout:   f.cfg.ProviderHTTPTimeout,
			})
			if err != nil {
				return nil, unavailable(provider, err)
			}
			gw = c
		}
		return NewStripeService(f.options(f.cfg.StripeSuccessRate), gw), nil

	case models.ProviderDPO:
		var gw gateway.Card
		if !sandbox {
			c, err := dpo.New(ctx, &dpo.Config{
				BaseURL:      f.cfg.DPOBaseURL,
				CompanyToken: f.cfg.DPOCompanyToken,
				ServiceType:  f.cfg.DPOServiceType,
				Timeout:      f.cfg.ProviderHTTPTimeout,
			})
			if err != nil {
				return nil, unavailable(provider, err)
			}
			gw = c
		}
		return NewDPOService(f.options(f.cfg.DPOSuccessRate), gw), nil

	case models.ProviderAirtelMoney:
		var gw gateway.Mobile
		if !sandbox {
			c, err := airtel.New(ctx, &airtel.Config{
				BaseURL:      f.cfg.AirtelBaseURL,
				ClientID:     f.cfg.AirtelClientID,
				ClientSecret: f.cfg.AirtelAPIKey,
				Country:      "ZM",
				Currency:     f.cfg.PlatformCurrency,
				Timeout:      f.cfg.ProviderHTTPTimeout,
			}, f.log)
			if err != nil {
				return nil, unavailable(provider, err)
			}
			gw = c
		}
		return NewAirtelMoneyService(f.options(0), gw), nil

	case models.ProviderMTNMoMo:
		var gw gateway.Mobile
		if !sandbox {
			c, err := mtn.New(ctx, &mtn.Config{
				BaseURL:           f.cfg.MTNBaseURL,
				APIUser:           f.cfg.MTNAPIUser,
				APIKey:            f.cfg.MTNAPIKey,
				SubscriptionKey:   f.cfg.MTNSubscriptionKey,
				TargetEnvironment: f.cfg.MTNTargetEnvironment,
				Timeout:           f.cfg.ProviderHTTPTimeout,
			})
			if err != nil {
				return nil, unavailable(provider, err)
			}
			gw = c
		}
		return NewMTNMoMoService(f.options(0), gw), nil

	case models.ProviderZamtelKwacha:
		var gw gateway.Mobile
		if !sandbox {
			c, err := zamtel.New(ctx, &zamtel.Config{
				BaseURL: f.cfg.ZamtelBaseURL,
				APIKey:  f.cfg.ZamtelAPIKey,
				HMACKey: f.cfg.ZamtelHMACKey,
				Timeout: f.cfg.ProviderHTTPTimeout,
			})
			if err != nil {
				return nil, unavailable(provider, err)
			}
			gw = c
		}
		return NewZamtelKwachaService(f.options(0), gw), nil

	default:
		return nil, unsupportedProvider(provider)
	}
}

// SupportedProviders returns list of supported payment providers
func (f *Factory) SupportedProviders() []models.Provider {
	return models.AllProviders()
}

func unavailable(p models.Provider, err error) *ProviderError {
	return &ProviderError{Code: ErrCodeUnavailable, Provider: p, Message: "failed to create provider client", Err: err}
}

// Registry resolves a provider to its adapter, building each one on first use and
// reusing it for the life of the registry.
type Registry struct {
	ctx      context.Context
	factory  ServiceFactory
	mu       sync.RWMutex
	services map[models.Provider]PaymentService
}

// NewRegistry creates a registry. ctx is handed to the factory and should live as long as the app.
func NewRegistry(ctx context.Context, factory ServiceFactory) *Registry {
	return &Registry{
		ctx:      ctx,
		factory:  factory,
		services: make(map[models.Provider]PaymentService),
	}
}

// GetService returns the adapter for provider, building it if needed.
func (r *Registry) GetService(provider models.Provider) (PaymentService, error) {
	if !provider.Valid() {
		return nil, unsupportedProvider(provider)
	}

	r.mu.RLock()
	svc, ok := r.services[provider]
	r.mu.RUnlock()
	if ok {
		return svc, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if svc, ok := r.services[provider]; ok {
		return svc, nil
	}

	svc, err := r.factory.CreateService(r.ctx, provider)
	if err != nil {
		return nil, err
	}
	r.services[provider] = svc
	return svc, nil
}

// GetMobileMoneyService narrows provider to the mobile-money capability.
func (r *Registry) GetMobileMoneyService(provider models.Provider) (MobileMoneyService, error) {
	svc, err := r.GetService(provider)
	if err != nil {
		return nil, err
	}
	mm, ok := svc.(MobileMoneyService)
	if !ok {
		return nil, wrongCapability(provider, "mobile money")
	}
	return mm, nil
}

// GetCardPaymentService narrows provider to the card capability.
func (r *Registry) GetCardPaymentService(provider models.Provider) (CardPaymentService, error) {
	svc, err := r.GetService(provider)
	if err != nil {
		return nil, err
	}
	card, ok := svc.(CardPaymentService)
	if !ok {
		return nil, wrongCapability(provider, "card payments")
	}
	return card, nil
}

// IsMobileMoneyProvider classifies without building an adapter.
func (r *Registry) IsMobileMoneyProvider(provider models.Provider) bool {
	return provider.IsMobileMoney()
}

func (r *Registry) IsCardPaymentProvider(provider models.Provider) bool {
	return provider.IsCard()
}

func (r *Registry) SupportedProviders() []models.Provider {
	return r.factory.SupportedProviders()
}

// Warm builds every supported adapter up front so configuration errors surface at boot.
func (r *Registry) Warm(ctx context.Context) error {
	for _, p := range r.SupportedProviders() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.GetService(p); err != nil {
			return fmt.Errorf("warm %s: %w", p, err)
		}
	}
	return nil
}
