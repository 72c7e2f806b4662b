package models

import (
	"fmt"
	"strings"

	"rental-payments/internal/status"
)

// Provider identifies one of the supported payment backends.
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderDPO          Provider = "dpo"
	ProviderAirtelMoney  Provider = "airtel_money"
	ProviderMTNMoMo      Provider = "mtn_momo"
	ProviderZamtelKwacha Provider = "zamtel_kwacha"
)

// AllProviders returns every provider in a stable order.
func AllProviders() []Provider {
	return []Provider{
		ProviderStripe,
		ProviderDPO,
		ProviderAirtelMoney,
		ProviderMTNMoMo,
		ProviderZamtelKwacha,
	}
}

// ParseProvider resolves a provider identifier, ignoring case and dashes.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", status.ErrUnsupportedProvider, s)
	}
	return p, nil
}

func (p Provider) Valid() bool {
	return p.IsCard() || p.IsMobileMoney()
}

// IsMobileMoney reports whether p settles through a telecom wallet.
func (p Provider) IsMobileMoney() bool {
	switch p {
	case ProviderAirtelMoney, ProviderMTNMoMo, ProviderZamtelKwacha:
		return true
	}
	return false
}

// IsCard reports whether p is a card gateway.
func (p Provider) IsCard() bool {
	switch p {
	case ProviderStripe, ProviderDPO:
		return true
	}
	return false
}

// DisplayName is the customer-facing provider name.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderStripe:
		return "Stripe"
	case ProviderDPO:
		return "DPO Pay"
	case ProviderAirtelMoney:
		return "Airtel Money"
	case ProviderMTNMoMo:
		return "MTN MoMo"
	case ProviderZamtelKwacha:
		return "Zamtel Kwacha"
	}
	return string(p)
}

// IDPrefix is the prefix used for synthesized provider references.
func (p Provider) IDPrefix() string {
	switch p {
	case ProviderStripe:
		return "STRIPE"
	case ProviderDPO:
		return "DPO"
	case ProviderAirtelMoney:
		return "AIRTEL"
	case ProviderMTNMoMo:
		return "MTN"
	case ProviderZamtelKwacha:
		return "ZAMTEL"
	}
	return "PAY"
}
