package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits converts a two-decimal amount to its integer minor-unit value (ngwee, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// MSISDN strips the leading plus from an international number: +260977123456 -> 260977123456.
func MSISDN(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

// NationalNumber drops the country code: +260977123456 -> 977123456.
func NationalNumber(phone, countryCode string) string {
	return strings.TrimPrefix(MSISDN(phone), countryCode)
}
