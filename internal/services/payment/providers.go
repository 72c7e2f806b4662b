package payment

import (
	"strings"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/models"
)

var (
	_ CardPaymentService = (*StripeService)(nil)
	_ CardPaymentService = (*DPOService)(nil)
	_ MobileMoneyService = (*AirtelMoneyService)(nil)
	_ MobileMoneyService = (*MTNMoMoService)(nil)
	_ MobileMoneyService = (*ZamtelKwachaService)(nil)
	_ MobileMoneyService = (*mobileService)(nil)
	_ CardPaymentService = (*cardService)(nil)
)

const (
	DefaultStripeSuccessRate = 0.95
	DefaultDPOSuccessRate    = 0.90
)

// StripeService charges cards through Stripe PaymentIntents.
type StripeService struct {
	*cardService
}

func NewStripeService(opts Options, gw gateway.Card) *StripeService {
	if opts.Sandbox.SuccessRate == 0 {
		opts.Sandbox.SuccessRate = DefaultStripeSuccessRate
	}
	return &StripeService{newCardService(models.ProviderStripe, opts, gw, "Your card was declined")}
}

// DPOService charges cards through DPO Pay.
type DPOService struct {
	*cardService
}

func NewDPOService(opts Options, gw gateway.Card) *DPOService {
	if opts.Sandbox.SuccessRate == 0 {
		opts.Sandbox.SuccessRate = DefaultDPOSuccessRate
	}
	return &DPOService{newCardService(models.ProviderDPO, opts, gw, "Transaction declined by issuing bank")}
}

// AirtelMoneyService collects from Airtel Money wallets. Sandbox numbers ending 0000 are declined.
type AirtelMoneyService struct {
	*mobileService
}

func NewAirtelMoneyService(opts Options, gw gateway.Mobile) *AirtelMoneyService {
	declines := func(phone string) bool { return strings.HasSuffix(phone, "0000") }
	return &AirtelMoneyService{newMobileService(models.ProviderAirtelMoney, opts, gw, declines,
		"Airtel Money: insufficient wallet balance")}
}

// MTNMoMoService collects from MTN MoMo wallets. Sandbox numbers containing 1111 are declined.
type MTNMoMoService struct {
	*mobileService
}

func NewMTNMoMoService(opts Options, gw gateway.Mobile) *MTNMoMoService {
	declines := func(phone string) bool { return strings.Contains(phone, "1111") }
	return &MTNMoMoService{newMobileService(models.ProviderMTNMoMo, opts, gw, declines,
		"MTN MoMo: payer did not approve the request")}
}

// ZamtelKwachaService collects from Zamtel Kwacha wallets. Sandbox numbers ending 9999 are declined.
type ZamtelKwachaService struct {
	*mobileService
}

func NewZamtelKwachaService(opts Options, gw gateway.Mobile) *ZamtelKwachaService {
	declines := func(phone string) bool { return strings.HasSuffix(phone, "9999") }
	return &ZamtelKwachaService{newMobileService(models.ProviderZamtelKwacha, opts, gw, declines,
		"Zamtel Kwacha: transaction rejected by subscriber")}
}
