package utils

import (
	"fmt"
	"strings"
	"time"

	"rental-payments/internal/status"
)

const (
	BrandVisa       = "Visa"
	BrandMastercard = "Mastercard"
	BrandAmex       = "American Express"
	BrandUnknown    = "Unknown"
)

// CleanCardNumber strips spaces and dashes.
func CleanCardNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
}

// ValidateCardNumber checks digits only, 13-19 long, and the Luhn checksum.
func ValidateCardNumber(number string) error {
	n := CleanCardNumber(number)
	if len(n) < 13 || len(n) > 19 {
		return fmt.Errorf("%w: card number must be 13 to 19 digits", status.ErrInvalidCard)
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: card number must contain digits only", status.ErrInvalidCard)
		}
	}
	if !luhnValid(n) {
		return fmt.Errorf("%w: card number failed checksum", status.ErrInvalidCard)
	}
	return nil
}

// ValidateCardExpiry rejects malformed or past expiry dates relative to now.
func ValidateCardExpiry(month, year int, now time.Time) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: expiry month %d", status.ErrInvalidCard, month)
	}
	if year < 100 {
		year += 2000
	}
	// a card is valid through the last day of its expiry month
	expires := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expires) {
		return fmt.Errorf("%w: card expired %02d/%d", status.ErrInvalidCard, month, year)
	}
	return nil
}

// DetectCardBrand derives the brand from the leading digit.
func DetectCardBrand(number string) string {
	n := CleanCardNumber(number)
	if n == "" {
		return BrandUnknown
	}
	switch n[0] {
	case '4':
		return BrandVisa
	case '5':
		return BrandMastercard
	case '3':
		return BrandAmex
	}
	return BrandUnknown
}

// LastFour returns the last four digits of the card number.
func LastFour(number string) string {
	n := CleanCardNumber(number)
	if len(n) < 4 {
		return n
	}
	return n[len(n)-4:]
}

func MaskCardNumber(number string) string {
	n := CleanCardNumber(number)
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

func luhnValid(n string) bool {
	sum := 0
	double := false
	for i := len(n) - 1; i >= 0; i-- {
		d := int(n[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
