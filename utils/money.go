package utils

import (
	"fmt"
	"strings"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultMaxAmount is the platform ceiling for a single payment or hold.
var DefaultMaxAmount = decimal.NewFromInt(1_000_000)

var feeRates = map[models.Provider]decimal.Decimal{
	models.ProviderStripe:       decimal.RequireFromString("0.029"),
	models.ProviderDPO:          decimal.RequireFromString("0.032"),
	models.ProviderAirtelMoney:  decimal.RequireFromString("0.015"),
	models.ProviderMTNMoMo:      decimal.RequireFromString("0.015"),
	models.ProviderZamtelKwacha: decimal.RequireFromString("0.010"),
}

var currencySymbols = map[string]string{
	"ZMW": "K",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"ZAR": "R",
}

// ValidateAmount checks amount against DefaultMaxAmount.
func ValidateAmount(amount decimal.Decimal) error {
	return ValidateAmountWithin(amount, DefaultMaxAmount)
}

// ValidateAmountWithin checks 0 < amount <= ceiling and at most two decimal places.
func ValidateAmountWithin(amount, ceiling decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero, got %s", status.ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(ceiling) {
		return fmt.Errorf("%w: amount %s exceeds the limit of %s", status.ErrInvalidAmount, amount, ceiling)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", status.ErrInvalidAmount, amount)
	}
	return nil
}

// ValidateCurrency checks for a three-letter ISO-4217 style code.
func ValidateCurrency(currency string) error {
	if len(currency) != 3 || strings.ToUpper(currency) != currency {
		return fmt.Errorf("%w: %q", status.ErrInvalidCurrency, currency)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", status.ErrInvalidCurrency, currency)
		}
	}
	return nil
}

// FormatAmount renders amount for display only. Never parse the output back.
func FormatAmount(amount decimal.Decimal, currency string) string {
	p := message.NewPrinter(language.English)
	f, _ := amount.Round(2).Float64()

	symbol, ok := currencySymbols[strings.ToUpper(currency)]
	if !ok {
		return p.Sprintf("%s %.2f", strings.ToUpper(currency), f)
	}
	return p.Sprintf("%s%.2f", symbol, f)
}

// FeeRate returns the provider's service fee as a fraction. Unknown providers cost nothing.
func FeeRate(provider models.Provider) decimal.Decimal {
	if rate, ok := feeRates[provider]; ok {
		return rate
	}
	return decimal.Zero
}

// CalculateServiceFee returns amount * FeeRate(provider) rounded to 2 decimals.
func CalculateServiceFee(amount decimal.Decimal, provider models.Provider) decimal.Decimal {
	return amount.Mul(FeeRate(provider)).Round(2)
}
